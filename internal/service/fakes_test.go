package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
	"github.com/kursadbilgin/mail-dispatch/internal/provider"
	"github.com/kursadbilgin/mail-dispatch/internal/queue"
	"github.com/kursadbilgin/mail-dispatch/internal/repository"
	"github.com/kursadbilgin/mail-dispatch/internal/templates"
)

var testNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

type fakeNotificationRepo struct {
	mu     sync.Mutex
	saved  []domain.Notification
	saveFn func(ctx context.Context, n *domain.Notification) error
	getFn  func(ctx context.Context, id string) (*domain.Notification, error)
	listFn func(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
}

func (f *fakeNotificationRepo) Save(ctx context.Context, n *domain.Notification) error {
	if f.saveFn != nil {
		if err := f.saveFn(ctx, n); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *n)
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

// latest returns the last saved state of every notification, by id.
func (f *fakeNotificationRepo) latest() map[string]domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]domain.Notification, len(f.saved))
	for _, n := range f.saved {
		out[n.ID] = n
	}
	return out
}

type fakeFailureRepo struct {
	mu     sync.Mutex
	saved  []domain.FailureRecord
	saveFn func(ctx context.Context, r *domain.FailureRecord) error
	getFn  func(ctx context.Context, id string) (*domain.FailureRecord, error)
	listFn func(ctx context.Context, params repository.FailureListParams) ([]domain.FailureRecord, int64, error)
}

func (f *fakeFailureRepo) Save(ctx context.Context, r *domain.FailureRecord) error {
	if f.saveFn != nil {
		if err := f.saveFn(ctx, r); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *r)
	return nil
}

func (f *fakeFailureRepo) GetByID(ctx context.Context, id string) (*domain.FailureRecord, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeFailureRepo) List(ctx context.Context, params repository.FailureListParams) ([]domain.FailureRecord, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeFailureRepo) records() []domain.FailureRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.FailureRecord(nil), f.saved...)
}

type fakeTemplates struct {
	resolveFn    func(ctx context.Context, kind domain.Kind) string
	genericCalls int
}

func (f *fakeTemplates) Resolve(ctx context.Context, kind domain.Kind) string {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, kind)
	}
	body, ok := templates.Default(kind)
	if !ok {
		return templates.Generic()
	}
	return body
}

func (f *fakeTemplates) Generic() string {
	f.genericCalls++
	return templates.Generic()
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []provider.Email
	sendFn func(ctx context.Context, email provider.Email) (*provider.SendResult, error)
}

func (f *fakeSender) Send(ctx context.Context, email provider.Email) (*provider.SendResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, email)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, email)
	}
	return &provider.SendResult{StatusCode: 202, MessageID: "provider-1"}, nil
}

func (f *fakeSender) emails() []provider.Email {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Email(nil), f.sent...)
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, scope string) (bool, error)
	waitFn  func(ctx context.Context, scope string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, scope)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

type publishedMessage struct {
	Queue        string
	Message      queue.Message
	Delay        time.Duration
	ReceiveCount int
}

type fakePublisher struct {
	mu                  sync.Mutex
	published           []publishedMessage
	publishFn           func(ctx context.Context, queueName string, msg queue.Message) error
	publishDelayedFn    func(ctx context.Context, msg queue.Message, delay time.Duration) error
	publishDeadLetterFn func(ctx context.Context, msg queue.Message, receiveCount int) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.Message) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.record(publishedMessage{Queue: queueName, Message: msg})
	return nil
}

func (f *fakePublisher) PublishDelayed(ctx context.Context, msg queue.Message, delay time.Duration) error {
	if f.publishDelayedFn != nil {
		if err := f.publishDelayedFn(ctx, msg, delay); err != nil {
			return err
		}
	}
	f.record(publishedMessage{Queue: queue.DelayQueue, Message: msg.WithoutErrorInfo(), Delay: delay})
	return nil
}

func (f *fakePublisher) PublishDeadLetter(ctx context.Context, msg queue.Message, receiveCount int) error {
	if f.publishDeadLetterFn != nil {
		if err := f.publishDeadLetterFn(ctx, msg, receiveCount); err != nil {
			return err
		}
	}
	f.record(publishedMessage{Queue: queue.DeadLetterQueue, Message: msg, ReceiveCount: receiveCount})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) record(m publishedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, m)
}

func (f *fakePublisher) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.published...)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.BatchHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.BatchHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

// latest returns the last saved state of every failure record, by id.
func (f *fakeFailureRepo) latest() map[string]domain.FailureRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]domain.FailureRecord, len(f.saved))
	for _, r := range f.saved {
		out[r.ID] = r
	}
	return out
}

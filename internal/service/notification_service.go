package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
	"github.com/kursadbilgin/mail-dispatch/internal/queue"
	"github.com/kursadbilgin/mail-dispatch/internal/repository"
)

const maxEnqueueBatchSize = 1000

// CacheClearer drops cached templates. *templates.Resolver satisfies it.
type CacheClearer interface {
	ClearCache() int
}

// NotificationService backs the HTTP API: it enqueues notification requests
// and reads back notifications and failure records.
type NotificationService struct {
	notifications repository.NotificationRepository
	failures      repository.FailureRepository
	publisher     queue.Publisher
	templates     CacheClearer
	logger        *zap.Logger
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	failures repository.FailureRepository,
	publisher queue.Publisher,
	templates CacheClearer,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil || failures == nil {
		return nil, fmt.Errorf("notification and failure repositories are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		failures:      failures,
		publisher:     publisher,
		templates:     templates,
		logger:        logger,
	}, nil
}

// Enqueue validates msg and publishes it to the work queue.
func (s *NotificationService) Enqueue(ctx context.Context, msg queue.Message) (queue.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	prepared, err := prepareMessageForEnqueue(msg)
	if err != nil {
		return queue.Message{}, err
	}

	if err := s.publisher.Publish(ctx, queue.WorkQueue, prepared); err != nil {
		s.logger.Error("failed to publish notification request",
			zap.String("type", prepared.Type),
			zap.Error(err),
		)
		return queue.Message{}, fmt.Errorf("failed to publish notification request: %w", err)
	}

	return prepared, nil
}

// EnqueueBatch validates every message before publishing any of them. Publish
// failures do not stop the batch; they are reported together.
func (s *NotificationService) EnqueueBatch(ctx context.Context, msgs []queue.Message) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(msgs) == 0 {
		return 0, fmt.Errorf("%w: batch must include at least one message", domain.ErrValidation)
	}
	if len(msgs) > maxEnqueueBatchSize {
		return 0, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxEnqueueBatchSize)
	}

	prepared := make([]queue.Message, len(msgs))
	for i, msg := range msgs {
		p, err := prepareMessageForEnqueue(msg)
		if err != nil {
			return 0, fmt.Errorf("message %d: %w", i, err)
		}
		prepared[i] = p
	}

	failed := 0
	for i := range prepared {
		if err := s.publisher.Publish(ctx, queue.WorkQueue, prepared[i]); err != nil {
			s.logger.Error("batch: failed to publish notification request",
				zap.Int("index", i),
				zap.String("type", prepared[i].Type),
				zap.Error(err),
			)
			failed++
		}
	}

	queued := len(prepared) - failed
	if failed > 0 {
		s.logger.Warn("batch enqueued with partial failure",
			zap.Int("failed", failed),
			zap.Int("total", len(prepared)),
		)
		return queued, fmt.Errorf("batch queued with partial failure: %d/%d failed", failed, len(prepared))
	}

	return queued, nil
}

func (s *NotificationService) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.GetByID(ctx, strings.TrimSpace(id))
}

func (s *NotificationService) ListNotifications(
	ctx context.Context,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	return s.notifications.List(ctx, params)
}

func (s *NotificationService) GetFailure(ctx context.Context, id string) (*domain.FailureRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: failure id is required", domain.ErrValidation)
	}
	return s.failures.GetByID(ctx, strings.TrimSpace(id))
}

func (s *NotificationService) ListFailures(
	ctx context.Context,
	params repository.FailureListParams,
) ([]domain.FailureRecord, int64, error) {
	return s.failures.List(ctx, params)
}

// ClearTemplateCache empties the template cache of this process.
func (s *NotificationService) ClearTemplateCache() int {
	if s.templates == nil {
		return 0
	}
	return s.templates.ClearCache()
}

// prepareMessageForEnqueue applies the checks the dispatch pipeline would
// otherwise fail on, so bad requests are rejected at the API.
func prepareMessageForEnqueue(msg queue.Message) (queue.Message, error) {
	msg = msg.WithoutErrorInfo()
	msg.Type = strings.TrimSpace(msg.Type)
	msg.Email = strings.TrimSpace(msg.Email)
	msg.NotificationID = ""

	if err := msg.Validate(); err != nil {
		return queue.Message{}, err
	}
	if _, err := domain.ParseKindFromString(msg.Type); err != nil {
		return queue.Message{}, err
	}
	if !domain.IsValidEmail(msg.Recipient()) {
		return queue.Message{}, fmt.Errorf("%w: invalid recipient address %q", domain.ErrValidation, msg.Recipient())
	}
	if template := strings.TrimSpace(msg.Template); template != "" && !strings.EqualFold(template, queue.GenericTemplate) {
		return queue.Message{}, fmt.Errorf("%w: unsupported template %q", domain.ErrValidation, msg.Template)
	}

	return msg, nil
}

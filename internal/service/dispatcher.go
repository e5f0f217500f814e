package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
	"github.com/kursadbilgin/mail-dispatch/internal/observability"
	"github.com/kursadbilgin/mail-dispatch/internal/provider"
	"github.com/kursadbilgin/mail-dispatch/internal/queue"
	"github.com/kursadbilgin/mail-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/mail-dispatch/internal/repository"
	"github.com/kursadbilgin/mail-dispatch/internal/templates"
)

// TemplateSource supplies HTML bodies. *templates.Resolver satisfies it.
type TemplateSource interface {
	Resolve(ctx context.Context, kind domain.Kind) string
	Generic() string
}

// OutcomeStatus is what happened to one record of a dispatch batch.
type OutcomeStatus string

const (
	OutcomeSent      OutcomeStatus = "sent"
	OutcomeRetry     OutcomeStatus = "retry"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeMalformed OutcomeStatus = "malformed"
)

// Outcome is the per-record result of ProcessBatch.
type Outcome struct {
	MessageID      string
	Status         OutcomeStatus
	NotificationID string
	FailureID      string
	Category       domain.ErrorCategory
	Disposition    queue.Disposition
	Err            error
}

// DispatcherDeps groups the collaborators of a Dispatcher. Limiter, Publisher and
// Logger are optional.
type DispatcherDeps struct {
	Notifications repository.NotificationRepository
	Failures      repository.FailureRepository
	Templates     TemplateSource
	Formatter     *templates.Formatter
	Sender        provider.EmailSender
	Limiter       ratelimit.RateLimiter
	Publisher     queue.Publisher
	MaxAttempts   int
	Logger        *zap.Logger
}

// Dispatcher is the primary pipeline: it turns queued requests into sent emails
// and tracked notifications.
type Dispatcher struct {
	notifications repository.NotificationRepository
	failures      repository.FailureRepository
	templates     TemplateSource
	formatter     *templates.Formatter
	sender        provider.EmailSender
	limiter       ratelimit.RateLimiter
	publisher     queue.Publisher
	maxAttempts   int
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewDispatcher(deps DispatcherDeps) (*Dispatcher, error) {
	if deps.Notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deps.Failures == nil {
		return nil, fmt.Errorf("failure repository is required")
	}
	if deps.Templates == nil {
		return nil, fmt.Errorf("template source is required")
	}
	if deps.Formatter == nil {
		return nil, fmt.Errorf("formatter is required")
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("email sender is required")
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = domain.DefaultMaxAttempts
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: deps.Notifications,
		failures:      deps.Failures,
		templates:     deps.Templates,
		formatter:     deps.Formatter,
		sender:        deps.Sender,
		limiter:       deps.Limiter,
		publisher:     deps.Publisher,
		maxAttempts:   deps.MaxAttempts,
		logger:        deps.Logger,
		now:           time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// HandleBatch is the queue.BatchHandler of the dispatch pipeline.
func (d *Dispatcher) HandleBatch(ctx context.Context, records []queue.Record) []queue.Disposition {
	summary, outcomes := d.ProcessBatch(ctx, records)

	dispositions := make([]queue.Disposition, len(outcomes))
	counts := make(map[OutcomeStatus]int, 4)
	for i, outcome := range outcomes {
		dispositions[i] = outcome.Disposition
		counts[outcome.Status]++
	}
	for status, count := range counts {
		d.metrics.IncBatchMessages(observability.PipelineDispatch, string(status), count)
	}

	d.logger.Info("dispatch batch processed",
		zap.Int("records", len(records)),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
	)
	return dispositions
}

// ProcessBatch processes every record independently; one failing record never
// aborts the others.
func (d *Dispatcher) ProcessBatch(ctx context.Context, records []queue.Record) (domain.DispatchSummary, []Outcome) {
	ctx = observability.WithPipeline(ctx, observability.PipelineDispatch)

	summary := domain.DispatchSummary{Errors: []domain.MessageError{}}
	outcomes := make([]Outcome, 0, len(records))

	for _, record := range records {
		outcome := d.processRecord(ctx, record)
		outcomes = append(outcomes, outcome)

		if outcome.Status == OutcomeSent {
			summary.Successful++
			continue
		}
		summary.Failed++
		if outcome.Err != nil {
			summary.Errors = append(summary.Errors, domain.MessageError{
				MessageID: outcome.MessageID,
				Error:     outcome.Err.Error(),
			})
		}
	}

	return summary, outcomes
}

func (d *Dispatcher) processRecord(ctx context.Context, record queue.Record) Outcome {
	ctx = observability.WithMessageID(ctx, record.MessageID)
	logger := observability.WithContextLogger(d.logger, ctx)

	if err := ctx.Err(); err != nil {
		return Outcome{MessageID: record.MessageID, Status: OutcomeRetry, Disposition: queue.Requeue, Err: err}
	}

	msg, err := queue.ParseMessage(record.Body)
	if err != nil {
		return d.malformed(ctx, logger, record, err)
	}

	if err := msg.Validate(); err != nil {
		return d.terminal(ctx, logger, record, msg, nil, err)
	}

	kind, err := domain.ParseKindFromString(msg.Type)
	if err != nil {
		return d.terminal(ctx, logger, record, msg, nil, err)
	}

	notification, err := domain.NewNotification(domain.NotificationParams{
		Kind:      kind,
		Recipient: msg.Recipient(),
		Subject:   templates.Subject(kind, msg.Data),
		Payload:   msg.Data,
	}, d.now())
	if err != nil {
		return d.terminal(ctx, logger, record, msg, nil, err)
	}

	if err := d.notifications.Save(ctx, notification); err != nil {
		err = fmt.Errorf("%w: failed to persist pending notification: %w", domain.ErrPersistence, err)
		return d.terminal(ctx, logger, record, msg, nil, err)
	}

	html := d.formatter.Render(d.templateBody(ctx, kind, msg.Template), d.formatter.FormatPayload(msg.Data), d.now())

	result, sendErr := d.send(ctx, logger, provider.Email{
		To:      notification.Recipient,
		Subject: notification.Subject,
		HTML:    html,
	})
	if sendErr != nil {
		return d.deliveryFailed(ctx, logger, record, msg, notification, sendErr)
	}

	if err := notification.MarkSent(d.now()); err != nil {
		return d.terminal(ctx, logger, record, msg, notification, err)
	}
	if err := d.notifications.Save(ctx, notification); err != nil {
		// The email is out; retrying would send it twice.
		err = fmt.Errorf("%w: failed to persist sent notification: %w", domain.ErrPersistence, err)
		return d.terminal(ctx, logger, record, msg, notification, err)
	}

	d.metrics.IncNotificationSent(kind.String())

	fields := []zap.Field{
		zap.String("notificationId", notification.ID),
		zap.String("kind", kind.String()),
	}
	if result != nil && result.MessageID != "" {
		fields = append(fields, zap.String("providerMessageId", result.MessageID))
	}
	logger.Info("notification sent", fields...)

	return Outcome{
		MessageID:      record.MessageID,
		Status:         OutcomeSent,
		NotificationID: notification.ID,
		Disposition:    queue.Ack,
	}
}

func (d *Dispatcher) templateBody(ctx context.Context, kind domain.Kind, template string) string {
	if strings.EqualFold(strings.TrimSpace(template), queue.GenericTemplate) {
		return d.templates.Generic()
	}
	return d.templates.Resolve(ctx, kind)
}

func (d *Dispatcher) send(ctx context.Context, logger *zap.Logger, email provider.Email) (*provider.SendResult, error) {
	scope := ratelimit.RecipientScope(email.To)
	allowed, err := d.limiter.Allow(ctx, scope)
	if err != nil {
		logger.Warn("rate limiter unavailable, sending without limit", zap.Error(err))
		allowed = true
	}
	if !allowed {
		return nil, fmt.Errorf("%w: no %s send slot available", domain.ErrRateLimited, scope)
	}

	start := d.now()
	result, err := d.sender.Send(ctx, email)
	d.metrics.ObserveNotificationSendDuration(d.now().Sub(start))
	return result, err
}

// deliveryFailed moves the notification to RETRY or FAILED depending on how many
// deliveries of this record came before.
func (d *Dispatcher) deliveryFailed(
	ctx context.Context,
	logger *zap.Logger,
	record queue.Record,
	msg queue.Message,
	notification *domain.Notification,
	sendErr error,
) Outcome {
	category := classifyError(sendErr)
	priorAttempts := max(record.ReceiveCount-1, 0)
	retry := notification.ShouldRetry(priorAttempts, d.maxAttempts)

	var markErr error
	if retry {
		markErr = notification.MarkRetry(sendErr.Error(), d.now())
	} else {
		markErr = notification.MarkFailed(sendErr.Error(), d.now())
	}
	if markErr != nil {
		logger.Error("failed to update notification status", zap.Error(markErr))
	} else if err := d.notifications.Save(ctx, notification); err != nil {
		logger.Error("failed to persist notification status",
			zap.String("notificationId", notification.ID),
			zap.String("status", notification.Status.String()),
			zap.Error(err),
		)
	}

	d.metrics.IncNotificationFailed(category.String())
	failure := d.recordFailure(ctx, logger, record, msg, notification, category, sendErr)

	if !retry {
		return d.handOff(ctx, logger, record, msg, notification, failure, category, sendErr)
	}

	logger.Warn("notification delivery failed, will retry",
		zap.String("notificationId", notification.ID),
		zap.String("category", category.String()),
		zap.Int("receiveCount", record.ReceiveCount),
		zap.Error(sendErr),
	)

	return Outcome{
		MessageID:      record.MessageID,
		Status:         OutcomeRetry,
		NotificationID: notification.ID,
		FailureID:      failureID(failure),
		Category:       category,
		Disposition:    queue.Requeue,
		Err:            sendErr,
	}
}

// terminal records a failure that must not be retried and hands it to the
// resolution pipeline.
func (d *Dispatcher) terminal(
	ctx context.Context,
	logger *zap.Logger,
	record queue.Record,
	msg queue.Message,
	notification *domain.Notification,
	err error,
) Outcome {
	category := classifyError(err)
	d.metrics.IncNotificationFailed(category.String())

	failure := d.recordFailure(ctx, logger, record, msg, notification, category, err)
	return d.handOff(ctx, logger, record, msg, notification, failure, category, err)
}

func (d *Dispatcher) handOff(
	ctx context.Context,
	logger *zap.Logger,
	record queue.Record,
	msg queue.Message,
	notification *domain.Notification,
	failure *domain.FailureRecord,
	category domain.ErrorCategory,
	cause error,
) Outcome {
	outcome := Outcome{
		MessageID:   record.MessageID,
		Status:      OutcomeFailed,
		FailureID:   failureID(failure),
		Category:    category,
		Disposition: queue.Ack,
		Err:         cause,
	}
	if notification != nil {
		outcome.NotificationID = notification.ID
	}

	logger.Warn("notification failed",
		zap.String("notificationId", outcome.NotificationID),
		zap.String("category", category.String()),
		zap.Error(cause),
	)

	if d.publisher == nil {
		outcome.Disposition = queue.Reject
		return outcome
	}

	deadLetter := msg
	if notification != nil {
		deadLetter.NotificationID = notification.ID
	}
	deadLetter.ErrorInfo = &queue.ErrorInfo{
		ErrorType:    category.String(),
		ErrorMessage: cause.Error(),
		ErrorStack:   errorChain(cause),
		FailureID:    outcome.FailureID,
	}

	if err := d.publisher.PublishDeadLetter(ctx, deadLetter, record.ReceiveCount); err != nil {
		// The broker dead-letters the raw body instead.
		logger.Error("failed to publish dead letter", zap.Error(err))
		outcome.Disposition = queue.Reject
	}

	return outcome
}

// malformed records an unparsable body. The record is acked once the failure is
// stored; without a stored failure the broker dead-letters it.
func (d *Dispatcher) malformed(ctx context.Context, logger *zap.Logger, record queue.Record, cause error) Outcome {
	category := classifyError(cause)
	d.metrics.IncNotificationFailed(category.String())

	logger.Warn("malformed message", zap.Error(cause))

	failure := d.recordFailure(ctx, logger, record, queue.Message{}, nil, category, cause)
	disposition := queue.Ack
	if failure == nil {
		disposition = queue.Reject
	}

	return Outcome{
		MessageID:   record.MessageID,
		Status:      OutcomeMalformed,
		FailureID:   failureID(failure),
		Category:    category,
		Disposition: disposition,
		Err:         cause,
	}
}

// recordFailure persists a FailureRecord. It returns nil when the write fails.
func (d *Dispatcher) recordFailure(
	ctx context.Context,
	logger *zap.Logger,
	record queue.Record,
	msg queue.Message,
	notification *domain.Notification,
	category domain.ErrorCategory,
	cause error,
) *domain.FailureRecord {
	params := domain.FailureParams{
		Kind:            msg.Type,
		Recipient:       msg.Recipient(),
		Category:        category,
		ErrorMessage:    cause.Error(),
		ErrorDetail:     errorChain(cause),
		SourceMessageID: record.MessageID,
		ReceiveCount:    record.ReceiveCount,
		Attempts:        max(record.ReceiveCount, 1),
	}
	if notification != nil {
		params.OriginalNotificationID = notification.ID
		params.Kind = notification.Kind.String()
	}

	failure := domain.NewFailureRecord(params, d.now())
	if err := d.failures.Save(ctx, failure); err != nil {
		logger.Error("failed to persist failure record",
			zap.String("category", category.String()),
			zap.Error(err),
		)
		return nil
	}
	return failure
}

// classifyError maps an error raised while dispatching to a failure category.
func classifyError(err error) domain.ErrorCategory {
	switch {
	case err == nil:
		return domain.CategoryUnknown
	case errors.Is(err, domain.ErrMalformedMessage):
		return domain.CategoryUnknown
	case errors.Is(err, domain.ErrValidation):
		return domain.CategoryValidation
	case errors.Is(err, domain.ErrPersistence):
		return domain.CategoryDatabase
	case errors.Is(err, domain.ErrRateLimited), provider.IsThrottled(err):
		return domain.CategoryRateLimit
	case errors.Is(err, context.DeadlineExceeded), provider.IsNetwork(err):
		return domain.CategoryNetwork
	}

	var providerErr *provider.ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.Transient {
			return domain.CategoryTemporaryService
		}
		return domain.CategoryEmailService
	}

	return domain.CategoryUnknown
}

// errorChain renders every error wrapped by err, outermost first.
func errorChain(err error) string {
	var lines []string
	pending := []error{err}
	for len(pending) > 0 {
		current := pending[0]
		pending = pending[1:]
		if current == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%T: %s", current, current.Error()))

		switch wrapped := current.(type) {
		case interface{ Unwrap() []error }:
			pending = append(pending, wrapped.Unwrap()...)
		case interface{ Unwrap() error }:
			pending = append(pending, wrapped.Unwrap())
		}
	}
	return strings.Join(lines, "\n")
}

func failureID(failure *domain.FailureRecord) string {
	if failure == nil {
		return ""
	}
	return failure.ID
}

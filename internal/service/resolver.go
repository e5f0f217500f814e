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
)

const (
	// DefaultRetryDelay is how long a rate-limited failure waits before re-entering the work queue.
	DefaultRetryDelay = 15 * time.Minute

	// placeholderType marks a dead letter whose body could not be parsed.
	placeholderType = "UNKNOWN"

	repeatedFailureThreshold = 3
	immediateRetryMaxReceive = 2
)

// resolution is what a strategy did with one failure.
type resolution struct {
	action   domain.ResolutionAction
	resolved bool
}

// failureCase is the input of a resolution strategy. A placeholder message stands
// in for a dead letter that could not be parsed.
type failureCase struct {
	record       *domain.FailureRecord
	message      queue.Message
	placeholder  bool
	receiveCount int
}

type resolutionStrategy func(ctx context.Context, fc failureCase, logger *zap.Logger) resolution

// ResolutionDeps groups the collaborators of a ResolutionEngine. Publisher, Sender,
// Limiter and Logger are optional; without a sender no admin alert is sent.
type ResolutionDeps struct {
	Failures   repository.FailureRepository
	Publisher  queue.Publisher
	Sender     provider.EmailSender
	Limiter    ratelimit.RateLimiter
	AdminEmail string
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// ResolutionEngine is the secondary pipeline. It classifies dead-lettered
// requests, remediates what it can and alerts an administrator about critical
// failures.
type ResolutionEngine struct {
	failures   repository.FailureRepository
	publisher  queue.Publisher
	sender     provider.EmailSender
	limiter    ratelimit.RateLimiter
	adminEmail string
	retryDelay time.Duration
	strategies map[domain.ErrorCategory]resolutionStrategy
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewResolutionEngine(deps ResolutionDeps) (*ResolutionEngine, error) {
	if deps.Failures == nil {
		return nil, fmt.Errorf("failure repository is required")
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}
	if deps.RetryDelay <= 0 {
		deps.RetryDelay = DefaultRetryDelay
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	e := &ResolutionEngine{
		failures:   deps.Failures,
		publisher:  deps.Publisher,
		sender:     deps.Sender,
		limiter:    deps.Limiter,
		adminEmail: strings.TrimSpace(deps.AdminEmail),
		retryDelay: deps.RetryDelay,
		logger:     deps.Logger,
		now:        time.Now,
	}
	e.strategies = map[domain.ErrorCategory]resolutionStrategy{
		domain.CategoryValidation:       e.resolveValidation,
		domain.CategoryTemplate:         e.resolveTemplate,
		domain.CategoryRateLimit:        e.resolveRateLimit,
		domain.CategoryTemporaryService: e.resolveTemporary,
	}

	return e, nil
}

func (e *ResolutionEngine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// HandleBatch is the queue.BatchHandler of the resolution pipeline. Dead letters
// are always acked once handled; only a cancelled context requeues them.
func (e *ResolutionEngine) HandleBatch(ctx context.Context, records []queue.Record) []queue.Disposition {
	summary, dispositions := e.ProcessBatch(ctx, records)

	e.metrics.IncBatchMessages(observability.PipelineResolution, "processed", summary.Processed)
	e.metrics.IncBatchMessages(observability.PipelineResolution, "resolved", summary.Resolved)

	e.logger.Info("resolution batch processed",
		zap.Int("processed", summary.Processed),
		zap.Int("resolved", summary.Resolved),
		zap.Int("criticalErrors", summary.Critical),
		zap.Int("adminNotified", summary.AdminNotified),
	)
	return dispositions
}

func (e *ResolutionEngine) ProcessBatch(ctx context.Context, records []queue.Record) (domain.ResolutionSummary, []queue.Disposition) {
	ctx = observability.WithPipeline(ctx, observability.PipelineResolution)

	var summary domain.ResolutionSummary
	dispositions := make([]queue.Disposition, len(records))

	for i, record := range records {
		if ctx.Err() != nil {
			dispositions[i] = queue.Requeue
			continue
		}

		summary.Processed++
		dispositions[i] = queue.Ack

		result := e.processRecord(ctx, record)
		if result.resolved {
			summary.Resolved++
		}
		if result.critical {
			summary.Critical++
		}
		if result.adminNotified {
			summary.AdminNotified++
		}
	}

	return summary, dispositions
}

type recordResult struct {
	resolved      bool
	critical      bool
	adminNotified bool
}

func (e *ResolutionEngine) processRecord(ctx context.Context, record queue.Record) recordResult {
	ctx = observability.WithMessageID(ctx, record.MessageID)
	logger := observability.WithContextLogger(e.logger, ctx)

	fc := failureCase{receiveCount: max(record.ReceiveCount, 1)}

	msg, parseErr := queue.ParseMessage(record.Body)
	if parseErr != nil {
		logger.Warn("unparsable dead letter, using placeholder", zap.Error(parseErr))
		msg = queue.Message{Type: placeholderType, Data: map[string]any{}}
		fc.placeholder = true
	}
	fc.message = msg

	category := analyzeFailure(msg, fc.receiveCount)

	failure, existing := e.loadFailure(ctx, logger, msg)
	if failure != nil && failure.Resolved {
		logger.Info("failure already resolved, skipping", zap.String("failureId", failure.ID))
		return recordResult{}
	}
	if failure == nil {
		failure = e.newFailure(record, fc, category, parseErr)
	}
	failure.ReceiveCount = max(failure.ReceiveCount, fc.receiveCount)
	fc.record = failure

	if !existing {
		if err := e.failures.Save(ctx, failure); err != nil {
			logger.Error("failed to persist failure record", zap.Error(err))
		}
	}

	outcome := e.resolve(ctx, fc, logger)
	failure.ResolutionAction = outcome.action
	if outcome.resolved {
		if err := failure.MarkResolved(domain.AutomaticResolver, e.now()); err != nil {
			logger.Error("failed to mark failure resolved", zap.Error(err))
			outcome.resolved = false
		}
	}
	if err := e.failures.Save(ctx, failure); err != nil {
		logger.Error("failed to persist resolution",
			zap.String("failureId", failure.ID),
			zap.String("action", outcome.action.String()),
			zap.Error(err),
		)
	}

	e.metrics.IncResolution(outcome.action.String())
	logger.Info("failure analyzed",
		zap.String("failureId", failure.ID),
		zap.String("category", failure.Category.String()),
		zap.String("action", outcome.action.String()),
		zap.Bool("resolved", outcome.resolved),
	)

	result := recordResult{resolved: outcome.resolved}
	if failure.IsCritical() {
		result.critical = true
		e.metrics.IncCriticalFailure(failure.Category.String())
		result.adminNotified = e.notifyAdmin(ctx, logger, failure)
	}
	return result
}

// analyzeFailure classifies a dead letter. Explicit error information wins;
// otherwise the category is inferred from the shape of the message.
func analyzeFailure(msg queue.Message, receiveCount int) domain.ErrorCategory {
	if msg.ErrorInfo != nil && strings.TrimSpace(msg.ErrorInfo.ErrorType) != "" {
		return domain.CategoryFromErrorType(msg.ErrorInfo.ErrorType)
	}

	switch {
	case msg.Recipient() == "":
		return domain.CategoryValidation
	case strings.TrimSpace(msg.Type) == "":
		return domain.CategoryValidation
	case receiveCount > repeatedFailureThreshold:
		return domain.CategoryRepeatedFailure
	default:
		return domain.CategoryUnknown
	}
}

// loadFailure returns the record the dispatch pipeline already stored for this
// dead letter, if it names one.
func (e *ResolutionEngine) loadFailure(ctx context.Context, logger *zap.Logger, msg queue.Message) (*domain.FailureRecord, bool) {
	if msg.ErrorInfo == nil || strings.TrimSpace(msg.ErrorInfo.FailureID) == "" {
		return nil, false
	}

	failure, err := e.failures.GetByID(ctx, msg.ErrorInfo.FailureID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("failed to load failure record",
				zap.String("failureId", msg.ErrorInfo.FailureID),
				zap.Error(err),
			)
		}
		return nil, false
	}
	return failure, true
}

func (e *ResolutionEngine) newFailure(
	record queue.Record,
	fc failureCase,
	category domain.ErrorCategory,
	parseErr error,
) *domain.FailureRecord {
	msg := fc.message
	params := domain.FailureParams{
		OriginalNotificationID: msg.NotificationID,
		Kind:                   msg.Type,
		Recipient:              msg.Recipient(),
		Category:               category,
		SourceMessageID:        record.MessageID,
		ReceiveCount:           fc.receiveCount,
		Attempts:               fc.receiveCount,
	}

	switch {
	case fc.placeholder:
		params.ErrorMessage = "dead letter body could not be parsed"
		if parseErr != nil {
			params.ErrorDetail = parseErr.Error()
		}
	case msg.ErrorInfo != nil:
		params.ErrorType = msg.ErrorInfo.ErrorType
		params.ErrorMessage = msg.ErrorInfo.ErrorMessage
		params.ErrorDetail = msg.ErrorInfo.ErrorStack
	default:
		params.ErrorMessage = fmt.Sprintf("delivery abandoned after %d receives", fc.receiveCount)
	}

	return domain.NewFailureRecord(params, e.now())
}

func (e *ResolutionEngine) resolve(ctx context.Context, fc failureCase, logger *zap.Logger) resolution {
	strategy, ok := e.strategies[fc.record.Category]
	if !ok {
		return resolution{action: domain.ActionManualInvestigation}
	}
	return strategy(ctx, fc, logger)
}

func (e *ResolutionEngine) resolveValidation(_ context.Context, fc failureCase, _ *zap.Logger) resolution {
	if fc.message.Recipient() == "" && fc.message.UserIdentifier() != "" {
		// The lookup itself belongs to the user service.
		return resolution{action: domain.ActionEmailLookup}
	}
	return resolution{action: domain.ActionManualInvestigation}
}

func (e *ResolutionEngine) resolveTemplate(ctx context.Context, fc failureCase, logger *zap.Logger) resolution {
	if fc.placeholder {
		return resolution{action: domain.ActionManualInvestigation}
	}

	retry := fc.message.WithoutErrorInfo()
	retry.Template = queue.GenericTemplate

	return e.republish(domain.ActionFallbackTemplate, logger, func() error {
		return e.publisher.Publish(ctx, queue.WorkQueue, retry)
	})
}

func (e *ResolutionEngine) resolveRateLimit(ctx context.Context, fc failureCase, logger *zap.Logger) resolution {
	if fc.placeholder {
		return resolution{action: domain.ActionManualInvestigation}
	}

	retry := fc.message.WithoutErrorInfo()
	return e.republish(domain.ActionScheduledRetry, logger, func() error {
		return e.publisher.PublishDelayed(ctx, retry, e.retryDelay)
	})
}

func (e *ResolutionEngine) resolveTemporary(ctx context.Context, fc failureCase, logger *zap.Logger) resolution {
	if fc.placeholder || fc.receiveCount > immediateRetryMaxReceive {
		return resolution{action: domain.ActionManualInvestigation}
	}

	retry := fc.message.WithoutErrorInfo()
	return e.republish(domain.ActionImmediateRetry, logger, func() error {
		return e.publisher.Publish(ctx, queue.WorkQueue, retry)
	})
}

// republish runs publish for action. Without a publisher the action is only logged.
func (e *ResolutionEngine) republish(action domain.ResolutionAction, logger *zap.Logger, publish func() error) resolution {
	if e.publisher == nil {
		logger.Warn("no publisher configured, remediation not re-delivered", zap.String("action", action.String()))
		return resolution{action: action, resolved: true}
	}

	if err := publish(); err != nil {
		logger.Error("remediation publish failed",
			zap.String("action", action.String()),
			zap.Error(err),
		)
		return resolution{action: domain.ActionResolutionFailed}
	}
	return resolution{action: action, resolved: true}
}

// notifyAdmin sends the critical failure alert. Its failure is only logged.
func (e *ResolutionEngine) notifyAdmin(ctx context.Context, logger *zap.Logger, failure *domain.FailureRecord) bool {
	if e.sender == nil || e.adminEmail == "" {
		logger.Warn("critical failure but no admin recipient configured",
			zap.String("failureId", failure.ID),
			zap.String("category", failure.Category.String()),
		)
		return false
	}

	email, err := adminAlert(e.adminEmail, failure, e.now())
	if err != nil {
		logger.Error("failed to render admin alert", zap.Error(err))
		e.metrics.IncAdminAlert(false)
		return false
	}

	if err := e.limiter.Wait(ctx, ratelimit.ScopeEmail); err != nil {
		logger.Error("rate limiter wait failed for admin alert", zap.Error(err))
		e.metrics.IncAdminAlert(false)
		return false
	}

	if _, err := e.sender.Send(ctx, email); err != nil {
		logger.Error("failed to send admin alert",
			zap.String("failureId", failure.ID),
			zap.Error(err),
		)
		e.metrics.IncAdminAlert(false)
		return false
	}

	e.metrics.IncAdminAlert(true)
	logger.Info("admin alerted", zap.String("failureId", failure.ID))
	return true
}

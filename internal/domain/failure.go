package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorCategory classifies why a delivery was abandoned.
type ErrorCategory string

const (
	CategoryValidation       ErrorCategory = "VALIDATION_ERROR"
	CategoryTemplate         ErrorCategory = "TEMPLATE_ERROR"
	CategoryRateLimit        ErrorCategory = "RATE_LIMIT_ERROR"
	CategoryTemporaryService ErrorCategory = "TEMPORARY_SERVICE_ERROR"
	CategoryRepeatedFailure  ErrorCategory = "REPEATED_FAILURE"
	CategoryEmailService     ErrorCategory = "EMAIL_SERVICE"
	CategoryDatabase         ErrorCategory = "DATABASE_ERROR"
	CategoryNetwork          ErrorCategory = "NETWORK_ERROR"
	CategoryUnknown          ErrorCategory = "UNKNOWN_ERROR"
)

var knownCategories = []ErrorCategory{
	CategoryValidation,
	CategoryTemplate,
	CategoryRateLimit,
	CategoryTemporaryService,
	CategoryRepeatedFailure,
	CategoryEmailService,
	CategoryDatabase,
	CategoryNetwork,
	CategoryUnknown,
}

func (c ErrorCategory) String() string { return string(c) }

func (c ErrorCategory) IsValid() bool {
	for _, known := range knownCategories {
		if c == known {
			return true
		}
	}
	return false
}

func ParseCategoryFromString(s string) (ErrorCategory, error) {
	c := ErrorCategory(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid error category %q", ErrValidation, s)
	}
	return c, nil
}

// CategoryFromErrorType maps a free-form error type reported by an upstream
// producer to a category. Exact category names win; otherwise the type name is
// matched against well-known fragments.
func CategoryFromErrorType(errorType string) ErrorCategory {
	if c, err := ParseCategoryFromString(errorType); err == nil {
		return c
	}

	t := strings.ToLower(errorType)
	switch {
	case containsAny(t, "database", "sql", "postgres", "dynamodb"):
		return CategoryDatabase
	case containsAny(t, "email", "smtp", "mail", "ses"):
		return CategoryEmailService
	case containsAny(t, "template", "blob", "s3"):
		return CategoryTemplate
	case containsAny(t, "validation"):
		return CategoryValidation
	case containsAny(t, "ratelimit", "rate_limit", "rate limit", "throttl"):
		return CategoryRateLimit
	case containsAny(t, "temporary", "unavailable"):
		return CategoryTemporaryService
	case containsAny(t, "timeout", "network"):
		return CategoryNetwork
	case containsAny(t, "repeated"):
		return CategoryRepeatedFailure
	default:
		return CategoryUnknown
	}
}

func containsAny(s string, fragments ...string) bool {
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

// ResolutionAction names what the resolution engine did with a failure.
type ResolutionAction string

const (
	ActionNone                ResolutionAction = ""
	ActionEmailLookup         ResolutionAction = "ATTEMPTED_EMAIL_LOOKUP"
	ActionFallbackTemplate    ResolutionAction = "FALLBACK_TEMPLATE_USED"
	ActionScheduledRetry      ResolutionAction = "SCHEDULED_FOR_RETRY"
	ActionImmediateRetry      ResolutionAction = "IMMEDIATE_RETRY_ATTEMPTED"
	ActionManualInvestigation ResolutionAction = "REQUIRES_MANUAL_INVESTIGATION"
	ActionResolutionFailed    ResolutionAction = "RESOLUTION_FAILED"
)

func (a ResolutionAction) String() string { return string(a) }

// AutomaticResolver is the resolvedBy value written by the resolution engine.
const AutomaticResolver = "automatic-resolution"

// CriticalAttemptThreshold is the attempt count at which any failure becomes critical.
const CriticalAttemptThreshold = 5

// FailureRecord is a persisted, classified account of one failed delivery.
type FailureRecord struct {
	ID                     string
	OriginalNotificationID *string
	Kind                   string
	Recipient              string
	Category               ErrorCategory
	ErrorType              string
	ErrorMessage           string
	ErrorDetail            string
	SourceMessageID        string
	ReceiveCount           int
	Attempts               int
	ResolutionAction       ResolutionAction
	Resolved               bool
	ResolvedAt             *time.Time
	ResolvedBy             *string
	CreatedAt              time.Time
}

// FailureParams carries the construction inputs of a FailureRecord.
type FailureParams struct {
	OriginalNotificationID string
	Kind                   string
	Recipient              string
	Category               ErrorCategory
	ErrorType              string
	ErrorMessage           string
	ErrorDetail            string
	SourceMessageID        string
	ReceiveCount           int
	Attempts               int
}

func NewFailureRecord(params FailureParams, now time.Time) *FailureRecord {
	category := params.Category
	if !category.IsValid() {
		category = CategoryUnknown
	}
	errorType := params.ErrorType
	if errorType == "" {
		errorType = category.String()
	}

	r := &FailureRecord{
		ID:              uuid.NewString(),
		Kind:            params.Kind,
		Recipient:       params.Recipient,
		Category:        category,
		ErrorType:       errorType,
		ErrorMessage:    params.ErrorMessage,
		ErrorDetail:     params.ErrorDetail,
		SourceMessageID: params.SourceMessageID,
		ReceiveCount:    max(params.ReceiveCount, 0),
		Attempts:        max(params.Attempts, 0),
		CreatedAt:       now.UTC(),
	}
	if id := strings.TrimSpace(params.OriginalNotificationID); id != "" {
		r.OriginalNotificationID = &id
	}
	return r
}

// MarkResolved sets resolved, resolvedAt and resolvedBy together.
func (r *FailureRecord) MarkResolved(by string, now time.Time) error {
	by = strings.TrimSpace(by)
	if by == "" {
		return fmt.Errorf("%w: resolvedBy is required", ErrValidation)
	}
	if r.Resolved {
		return fmt.Errorf("%w: failure %s is already resolved", ErrInvalidTransition, r.ID)
	}

	at := now.UTC()
	r.Resolved = true
	r.ResolvedAt = &at
	r.ResolvedBy = &by
	return nil
}

// IsCritical reports whether the failure warrants an administrator alert.
func (r *FailureRecord) IsCritical() bool {
	switch r.Category {
	case CategoryDatabase, CategoryEmailService:
		return true
	}
	return r.Attempts >= CriticalAttemptThreshold
}

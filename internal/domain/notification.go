package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
	StatusRetry   Status = "RETRY"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusRetry:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Kind identifies the domain event a notification was produced for.
type Kind string

const (
	KindWelcome             Kind = "WELCOME"
	KindUserLogin           Kind = "USER.LOGIN"
	KindUserUpdate          Kind = "USER.UPDATE"
	KindCardCreate          Kind = "CARD.CREATE"
	KindCardActivate        Kind = "CARD.ACTIVATE"
	KindTransactionPurchase Kind = "TRANSACTION.PURCHASE"
	KindTransactionSave     Kind = "TRANSACTION.SAVE"
	KindTransactionPaid     Kind = "TRANSACTION.PAID"
	KindReportActivity      Kind = "REPORT.ACTIVITY"
)

var knownKinds = []Kind{
	KindWelcome,
	KindUserLogin,
	KindUserUpdate,
	KindCardCreate,
	KindCardActivate,
	KindTransactionPurchase,
	KindTransactionSave,
	KindTransactionPaid,
	KindReportActivity,
}

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	for _, known := range knownKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Kinds returns every known notification kind.
func Kinds() []Kind {
	out := make([]Kind, len(knownKinds))
	copy(out, knownKinds)
	return out
}

// ParseKindFromString accepts both the dotted wire form (USER.LOGIN) and the
// underscored form (USER_LOGIN).
func ParseKindFromString(s string) (Kind, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	k := Kind(strings.ReplaceAll(normalized, "_", "."))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, s)
	}
	return k, nil
}

// DefaultMaxAttempts is the retry ceiling used when none is configured.
const DefaultMaxAttempts = 3

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidEmail reports whether address passes basic address syntax.
func IsValidEmail(address string) bool {
	return emailPattern.MatchString(address)
}

// Notification is one tracked attempt to deliver an email for a domain event.
type Notification struct {
	ID            string
	Kind          Kind
	Recipient     string
	Subject       string
	Payload       map[string]any
	Status        Status
	Attempts      int
	LastAttemptAt *time.Time
	SentAt        *time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NotificationParams carries the construction inputs of a Notification.
type NotificationParams struct {
	Kind      Kind
	Recipient string
	Subject   string
	Payload   map[string]any
}

// NewNotification builds a PENDING notification with a fresh id. It never
// returns an entity that fails Validate.
func NewNotification(params NotificationParams, now time.Time) (*Notification, error) {
	payload := params.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	n := &Notification{
		ID:        uuid.NewString(),
		Kind:      params.Kind,
		Recipient: strings.TrimSpace(params.Recipient),
		Subject:   params.Subject,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Notification) Validate() error {
	var problems []string

	if !n.Kind.IsValid() {
		problems = append(problems, fmt.Sprintf("invalid notification type %q", n.Kind))
	}
	if n.Recipient == "" {
		problems = append(problems, "recipient is required")
	} else if !IsValidEmail(n.Recipient) {
		problems = append(problems, fmt.Sprintf("invalid recipient address %q", n.Recipient))
	}
	if strings.TrimSpace(n.Subject) == "" {
		problems = append(problems, "subject is required")
	}
	if !n.Status.IsValid() {
		problems = append(problems, fmt.Sprintf("invalid status %q", n.Status))
	}
	if n.Attempts < 0 {
		problems = append(problems, "attempts must be non-negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, ", "))
	}
	return nil
}

// MarkSent records a successful delivery. Only a PENDING notification can be sent.
func (n *Notification) MarkSent(now time.Time) error {
	if n.Status != StatusPending {
		return fmt.Errorf("%w: cannot mark %s notification %s as sent", ErrInvalidTransition, n.Status, n.ID)
	}

	sentAt := now.UTC()
	n.Status = StatusSent
	n.SentAt = &sentAt
	n.LastError = nil
	n.UpdatedAt = sentAt
	return nil
}

// MarkFailed records a terminal delivery failure.
func (n *Notification) MarkFailed(message string, now time.Time) error {
	return n.markAttemptFailed(StatusFailed, message, now)
}

// MarkRetry records a failure that remains eligible for redelivery.
func (n *Notification) MarkRetry(message string, now time.Time) error {
	return n.markAttemptFailed(StatusRetry, message, now)
}

func (n *Notification) markAttemptFailed(status Status, message string, now time.Time) error {
	if n.Status == StatusSent {
		return fmt.Errorf("%w: cannot mark sent notification %s as %s", ErrInvalidTransition, n.ID, status)
	}

	at := now.UTC()
	n.Status = status
	n.LastError = &message
	n.LastAttemptAt = &at
	n.Attempts++
	n.UpdatedAt = at
	return nil
}

// ShouldRetry reports whether one more failed attempt, on top of priorAttempts
// made by earlier deliveries of the same message, stays under maxAttempts.
func (n *Notification) ShouldRetry(priorAttempts int, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if priorAttempts < 0 {
		priorAttempts = 0
	}
	return priorAttempts+n.Attempts+1 < maxAttempts
}

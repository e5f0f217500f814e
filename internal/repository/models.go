package repository

import (
	"time"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID            string         `gorm:"type:uuid;primaryKey"`
	Kind          domain.Kind    `gorm:"type:varchar(40);not null"`
	Recipient     string         `gorm:"type:varchar(255);not null"`
	Subject       string         `gorm:"type:varchar(255);not null"`
	Payload       map[string]any `gorm:"type:jsonb;serializer:json"`
	Status        domain.Status  `gorm:"type:varchar(20);not null"`
	Attempts      int            `gorm:"not null;default:0"`
	LastAttemptAt *time.Time
	SentAt        *time.Time
	LastError     *string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// FailureRecordModel is the persistence model for the failure_records table.
type FailureRecordModel struct {
	ID                     string                  `gorm:"type:uuid;primaryKey"`
	OriginalNotificationID *string                 `gorm:"type:varchar(64)"`
	Kind                   string                  `gorm:"type:varchar(40)"`
	Recipient              string                  `gorm:"type:varchar(255)"`
	Category               domain.ErrorCategory    `gorm:"type:varchar(40);not null"`
	ErrorType              string                  `gorm:"type:varchar(255)"`
	ErrorMessage           string                  `gorm:"type:text"`
	ErrorDetail            string                  `gorm:"type:text"`
	SourceMessageID        string                  `gorm:"type:varchar(255)"`
	ReceiveCount           int                     `gorm:"not null;default:0"`
	Attempts               int                     `gorm:"not null;default:0"`
	ResolutionAction       domain.ResolutionAction `gorm:"type:varchar(40)"`
	Resolved               bool                    `gorm:"not null;default:false"`
	ResolvedAt             *time.Time
	ResolvedBy             *string `gorm:"type:varchar(100)"`
	CreatedAt              time.Time
}

func (FailureRecordModel) TableName() string {
	return "failure_records"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:            n.ID,
		Kind:          n.Kind,
		Recipient:     n.Recipient,
		Subject:       n.Subject,
		Payload:       n.Payload,
		Status:        n.Status,
		Attempts:      n.Attempts,
		LastAttemptAt: n.LastAttemptAt,
		SentAt:        n.SentAt,
		LastError:     n.LastError,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:            m.ID,
		Kind:          m.Kind,
		Recipient:     m.Recipient,
		Subject:       m.Subject,
		Payload:       m.Payload,
		Status:        m.Status,
		Attempts:      m.Attempts,
		LastAttemptAt: m.LastAttemptAt,
		SentAt:        m.SentAt,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func failureModelFromDomain(r *domain.FailureRecord) *FailureRecordModel {
	if r == nil {
		return nil
	}

	return &FailureRecordModel{
		ID:                     r.ID,
		OriginalNotificationID: r.OriginalNotificationID,
		Kind:                   r.Kind,
		Recipient:              r.Recipient,
		Category:               r.Category,
		ErrorType:              r.ErrorType,
		ErrorMessage:           r.ErrorMessage,
		ErrorDetail:            r.ErrorDetail,
		SourceMessageID:        r.SourceMessageID,
		ReceiveCount:           r.ReceiveCount,
		Attempts:               r.Attempts,
		ResolutionAction:       r.ResolutionAction,
		Resolved:               r.Resolved,
		ResolvedAt:             r.ResolvedAt,
		ResolvedBy:             r.ResolvedBy,
		CreatedAt:              r.CreatedAt,
	}
}

func failureModelToDomain(m *FailureRecordModel) *domain.FailureRecord {
	if m == nil {
		return nil
	}

	return &domain.FailureRecord{
		ID:                     m.ID,
		OriginalNotificationID: m.OriginalNotificationID,
		Kind:                   m.Kind,
		Recipient:              m.Recipient,
		Category:               m.Category,
		ErrorType:              m.ErrorType,
		ErrorMessage:           m.ErrorMessage,
		ErrorDetail:            m.ErrorDetail,
		SourceMessageID:        m.SourceMessageID,
		ReceiveCount:           m.ReceiveCount,
		Attempts:               m.Attempts,
		ResolutionAction:       m.ResolutionAction,
		Resolved:               m.Resolved,
		ResolvedAt:             m.ResolvedAt,
		ResolvedBy:             m.ResolvedBy,
		CreatedAt:              m.CreatedAt,
	}
}

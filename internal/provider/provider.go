package provider

import (
	"context"
)

// EmailSender is the outbound email delivery port.
type EmailSender interface {
	Send(ctx context.Context, email Email) (*SendResult, error)
}

// Email is a rendered message ready to hand to the email service.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// SendResult stores provider call metadata for logging and persistence.
type SendResult struct {
	StatusCode int
	MessageID  string
}

// BlobStore reads template objects from a container.
type BlobStore interface {
	Get(ctx context.Context, container, name string) ([]byte, error)
}

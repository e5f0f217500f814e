package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrPersistence       = errors.New("persistence error")
	ErrMalformedMessage  = errors.New("malformed message")
	ErrRateLimited       = errors.New("rate limited")
)

package domain

import "errors"

// Error classes shared by the store, relay and transports. Callers wrap them
// with context and classify with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrPersistence  = errors.New("persistence failed")
	ErrNotFound     = errors.New("not found")
	ErrNotJoined    = errors.New("session is not joined to conversation")
	ErrUnauthorized = errors.New("unauthorized")
)

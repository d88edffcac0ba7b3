package estados_errors

import "errors"

// Common errors
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("already exists")
	ErrExpired       = errors.New("status expired")
	ErrSessionClosed = errors.New("session closed")
	ErrUnavailable   = errors.New("service unavailable")
)

var ErrRateLimited = errors.New("rate limited")

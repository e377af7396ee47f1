package models

import "errors"

// Error kinds the API boundary maps to HTTP statuses. Wrapped with
// pkg/errors at call sites; matched with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrOutOfStock        = errors.New("insufficient stock")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrRateLimited       = errors.New("rate limited")
)

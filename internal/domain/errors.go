package domain

import "errors"

// Sentinel errors wrapped by domain and service operations. Callers match
// them with errors.Is to map failures to transport responses.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state transition")
)

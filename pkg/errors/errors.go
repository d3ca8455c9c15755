// Package errors holds the sentinel errors shared across the dialer. Wrap
// them with fmt.Errorf and %w; match them with errors.Is.
package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation error")
	ErrUnavailable       = errors.New("service unavailable")
	ErrForbidden         = errors.New("forbidden")
	ErrUnknownAgent      = errors.New("unknown agent")
	ErrMissingParameter  = errors.New("missing parameter")
	ErrIllegalTransition = errors.New("illegal call state transition")
	ErrTerminalState     = errors.New("call already in terminal state")
)

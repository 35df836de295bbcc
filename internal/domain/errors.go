package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrContextDone  = errors.New("context cancelled")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
)

// ValidationError signals malformed or insufficient caller input. It is never
// retried and its message is surfaced to the caller verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConflictError signals an action against a listing instance that is no
// longer active. Surfaced, never retried.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ExternalServiceError signals a failure talking to an external collaborator
// (chain RPC, metadata fetch). Retryable failures are retried with bounded
// backoff before being surfaced.
type ExternalServiceError struct {
	Service   string
	Retryable bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// External wraps err as a retryable ExternalServiceError for a service.
func External(service string, err error) error {
	return &ExternalServiceError{Service: service, Retryable: true, Err: err}
}

// IsExternal reports whether err is (or wraps) an ExternalServiceError.
func IsExternal(err error) bool {
	var ee *ExternalServiceError
	return errors.As(err, &ee)
}

// StateInconsistencyError signals events delivered out of order or a log the
// boundary decoder could not make sense of. The offending input is counted
// and dropped; processing continues.
type StateInconsistencyError struct {
	Msg string
}

func (e *StateInconsistencyError) Error() string { return e.Msg }

// Inconsistencyf builds a StateInconsistencyError with a formatted message.
func Inconsistencyf(format string, args ...any) error {
	return &StateInconsistencyError{Msg: fmt.Sprintf(format, args...)}
}

// IsStateInconsistency reports whether err is (or wraps) a
// StateInconsistencyError.
func IsStateInconsistency(err error) bool {
	var se *StateInconsistencyError
	return errors.As(err, &se)
}

// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for fetch outcomes.
//
// Hard failures (ErrProviderUnavailable, ErrFetchCancelled) reach the caller.
// Soft failures (ErrBindUnavailable, ErrRemoteCallFailed) are absorbed by the
// fetcher and replaced with DefaultAdvertisingInfo.
var (
	ErrProviderUnavailable = errors.New("advertising id provider is not installed")
	ErrBindUnavailable     = errors.New("advertising id service cannot be bound")
	ErrRemoteCallFailed    = errors.New("advertising id remote call failed")
	ErrFetchCancelled      = errors.New("advertising id fetch cancelled")

	// ErrBindTimeout is reported when the service never connects within the
	// bind timeout. It is a RemoteCallFailed-class failure.
	ErrBindTimeout = fmt.Errorf("%w: timed out waiting for service connection", ErrRemoteCallFailed)
)

// Error codes for CLI and log output.
const (
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeBindUnavailable     = "BIND_UNAVAILABLE"
	ErrCodeRemoteCallFailed    = "REMOTE_CALL_FAILED"
	ErrCodeFetchCancelled      = "FETCH_CANCELLED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// IsSoftFailure reports whether err should degrade to the default result
// instead of being surfaced to the caller.
func IsSoftFailure(err error) bool {
	return errors.Is(err, ErrBindUnavailable) || errors.Is(err, ErrRemoteCallFailed)
}

// Code maps an error to its client-facing error code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return ErrCodeProviderUnavailable
	case errors.Is(err, ErrBindUnavailable):
		return ErrCodeBindUnavailable
	case errors.Is(err, ErrRemoteCallFailed):
		return ErrCodeRemoteCallFailed
	case errors.Is(err, ErrFetchCancelled):
		return ErrCodeFetchCancelled
	default:
		return ErrCodeInternalError
	}
}

// RemoteCallError represents a failed transaction against the remote service.
type RemoteCallError struct {
	Op   string // Operation that failed
	Code uint32 // Transaction code
	Err  error  // Underlying error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("remote call %s (code %d): %v", e.Op, e.Code, e.Err)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// Is makes every RemoteCallError match ErrRemoteCallFailed.
func (e *RemoteCallError) Is(target error) bool {
	return target == ErrRemoteCallFailed
}

// NewRemoteCallError creates a new RemoteCallError.
func NewRemoteCallError(op string, code uint32, err error) *RemoteCallError {
	return &RemoteCallError{
		Op:   op,
		Code: code,
		Err:  err,
	}
}

// BindError represents a failure to bind the remote service.
type BindError struct {
	Action  string // Intent action
	Package string // Target package
	Err     error  // Underlying error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s/%s: %v", e.Package, e.Action, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Is makes every BindError match ErrBindUnavailable.
func (e *BindError) Is(target error) bool {
	return target == ErrBindUnavailable
}

// NewBindError creates a new BindError.
func NewBindError(action, pkg string, err error) *BindError {
	return &BindError{
		Action:  action,
		Package: pkg,
		Err:     err,
	}
}

// ProgrammingError is raised with panic when an API is misused, such as
// blocking on the main looper or taking a drained handoff slot twice.
// It must never be recovered and converted into a result.
type ProgrammingError struct {
	Message string
}

func (e *ProgrammingError) Error() string {
	return "programming error: " + e.Message
}

// NewProgrammingError creates a new ProgrammingError.
func NewProgrammingError(message string) *ProgrammingError {
	return &ProgrammingError{Message: message}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

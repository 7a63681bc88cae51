package utils

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure categories surfaced by the analytics core.
// Callers match them with errors.Is regardless of wrapping depth.
var (
	// ErrInsufficientData signals a statistical operation invoked with too few points.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNotFound signals an unknown pipeline, job, alert, or configuration id.
	ErrNotFound = errors.New("not found")
	// ErrConfigurationInvalid signals a malformed configuration rejected at creation time.
	ErrConfigurationInvalid = errors.New("configuration invalid")
	// ErrDeliveryFailed signals a channel send that exhausted its retries.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrConcurrencyExceeded signals a dropped job firing due to queue overflow.
	ErrConcurrencyExceeded = errors.New("concurrency exceeded")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// InsufficientData builds an ErrInsufficientData carrying the offending counts.
func InsufficientData(op string, got, want int) error {
	return &AppError{
		Op:  op,
		Msg: fmt.Sprintf("need at least %d points, got %d", want, got),
		Err: ErrInsufficientData,
	}
}

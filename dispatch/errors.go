// Package dispatch implements admission-controlled, paced dispatch of
// per-frame analysis requests to an external pose estimator.
//
// This file defines sentinel errors and the DispatchError wrapper used to
// classify per-request failures. Callers use errors.Is for typed
// assertions rather than string matching.
package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for dispatch failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrQueueFull indicates admission was rejected because the FIFO is at
	// capacity. The caller decides whether to retry, drop, or fall back.
	ErrQueueFull = errors.New("dispatch queue full")

	// ErrTransmission indicates the payload handoff to the worker failed
	// mid-flight. Request-local and retryable.
	ErrTransmission = errors.New("payload transmission failed")

	// ErrTimeout indicates the worker exceeded its deadline and was
	// force-terminated. Request-local, retryable with backoff.
	ErrTimeout = errors.New("worker timed out")

	// ErrWorker indicates the worker reported a failure (nonzero exit or
	// protocol error). Retryability depends on the diagnostic content.
	ErrWorker = errors.New("worker failed")

	// ErrSchedulerClosed indicates a submit after Close.
	ErrSchedulerClosed = errors.New("scheduler closed")
)

// DispatchError wraps an underlying error with request classification.
// It preserves the original error in the chain for inspection via errors.As.
type DispatchError struct {
	// Kind is the sentinel error for classification (e.g. ErrTimeout).
	Kind error
	// FrameNumber is the frame the failed request was carrying.
	FrameNumber int
	// Stderr is the captured worker diagnostic output, if any.
	Stderr string
	// Err is the underlying error.
	Err error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame %d: %v: %v", e.FrameNumber, e.Kind, e.Err)
	}
	return fmt.Sprintf("frame %d: %v", e.FrameNumber, e.Kind)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *DispatchError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Retryable reports whether the failure is safe to retry as-is.
// Queue-full, transmission, and timeout failures are request-local and
// leave no partial state behind. Worker failures need diagnostic
// inspection by the caller, so they are conservatively non-retryable.
func (e *DispatchError) Retryable() bool {
	switch {
	case errors.Is(e.Kind, ErrQueueFull),
		errors.Is(e.Kind, ErrTransmission),
		errors.Is(e.Kind, ErrTimeout):
		return true
	default:
		return false
	}
}

// NewDispatchError creates a classified dispatch error.
func NewDispatchError(kind error, frameNumber int, err error) *DispatchError {
	return &DispatchError{
		Kind:        kind,
		FrameNumber: frameNumber,
		Err:         err,
	}
}

// Package ingesterr defines the error taxonomy shared by the job store,
// scheduler, worker, and graph engine.
package ingesterr

import (
	"errors"
	"fmt"
)

// Kind identifies a taxonomy bucket. Stored verbatim on terminal-failed jobs
// as error_kind.
type Kind string

const (
	KindValidation  Kind = "ValidationError"
	KindDuplicate   Kind = "DuplicateSubmission"
	KindStaleState  Kind = "StaleState"
	KindTransient   Kind = "Transient"
	KindRateLimited Kind = "RateLimited"
	KindInvalid     Kind = "InvalidOutput"
	KindPermanent   Kind = "Permanent"
	KindWorkerLost  Kind = "WorkerLost"
	KindCancelled   Kind = "Cancelled"
)

// Error is the common shape for every taxonomy kind. Callers match on Kind
// with errors.As, never on the message text.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func Validation(format string, a ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, a...))
}

func StaleState(format string, a ...any) *Error {
	return New(KindStaleState, fmt.Sprintf(format, a...))
}

func Transient(err error) *Error {
	return Wrap(KindTransient, "transient failure", err)
}

func RateLimited(err error) *Error {
	return Wrap(KindRateLimited, "rate limited", err)
}

func InvalidOutput(err error) *Error {
	return Wrap(KindInvalid, "invalid extractor output", err)
}

func Permanent(err error) *Error {
	return Wrap(KindPermanent, "permanent failure", err)
}

func WorkerLost(format string, a ...any) *Error {
	return New(KindWorkerLost, fmt.Sprintf(format, a...))
}

var ErrCancelled = New(KindCancelled, "cancelled by caller")

// Retryable reports whether a chunk-level error should be retried per §7:
// Transient and RateLimited retry; InvalidOutput retries exactly once by
// convention of the caller (the worker tracks that count itself).
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}

package llm

import (
	"errors"
)

// Error kinds for logging and stream sanitization.
const (
	KindConfig    = "config"
	KindTransient = "transient"
	KindRateLimit = "rate_limit"
	KindAuth      = "auth"
	KindBadOutput = "bad_output"
)

// TransientError represents a temporary error that may succeed on retry
// (timeouts, connection resets, 5xx responses).
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that must not be retried.
// Kind classifies the failure for logging; it never reaches the wire.
type FatalError struct {
	err  error
	kind string
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// Kind returns the error classification.
func (e *FatalError) Kind() string {
	if e.kind == "" {
		return KindConfig
	}
	return e.kind
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// NewFatalKind wraps an error as fatal with an explicit classification.
func NewFatalKind(kind string, err error) error {
	return &FatalError{err: err, kind: kind}
}

// IsTransient returns true if the error should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error must not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// ErrorKind returns the classification for a wrapped LLM error,
// defaulting to transient for plain errors.
func ErrorKind(err error) string {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal.Kind()
	}
	return KindTransient
}

// Package errors provides custom error types for the crosscheck SDK.
// Every failure in the analysis pipeline is classified by Kind so callers
// can decide what is retryable, what is fatal, and what should degrade to
// a raw-output result.
package errors

import (
	"errors"
	"fmt"
)

// =============================================================================
// Base Error Type
// =============================================================================

// Error is the base error type for all SDK errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "orchestrator.Analyze")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota

	// KindSecurity - executable path failed allow-list validation.
	// Never retried, always fatal to the request.
	KindSecurity

	// KindTimeout - subprocess deadline exceeded. Retried up to the
	// configured attempt budget, then surfaced.
	KindTimeout

	// KindExecution - subprocess exited non-zero. Retried, then surfaced
	// with captured stdout/stderr.
	KindExecution

	// KindParse - unexpected internal parsing failure. Distinct from
	// "schema didn't validate", which is handled as data, not error.
	// Surfaced directly, never retried.
	KindParse

	// KindInvalidInput - request failed validation before any work ran.
	KindInvalidInput

	// KindNotFound - a status record or cached entry does not exist.
	KindNotFound

	// KindInternal - a bug or broken invariant inside the SDK.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindSecurity:
		return "security"
	case KindTimeout:
		return "timeout"
	case KindExecution:
		return "execution"
	case KindParse:
		return "parse"
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		if e.Message == "" {
			return e.Err.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// Execution Error
// =============================================================================

// ExecutionError carries the diagnostics of a failed subprocess run.
// It is always wrapped in an Error with KindExecution or KindTimeout.
type ExecutionError struct {
	// Provider is the provider tag that owned the subprocess.
	Provider string

	// ExitCode is the process exit code (-1 when the process never exited).
	ExitCode int

	// Stderr is the captured standard error, truncated by the executor.
	Stderr string

	// Stdout is the captured standard output, truncated by the executor.
	Stdout string
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s CLI exited with code %d: %s", e.Provider, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s CLI exited with code %d", e.Provider, e.ExitCode)
}

// =============================================================================
// Constructors
// =============================================================================

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op first, then Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap wraps an error with an operation, preserving its Kind if it has one.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: GetKind(err), Op: op, Err: err}
}

// =============================================================================
// Error Checkers
// =============================================================================

// GetKind returns the Kind of the error, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsExecutionError extracts an ExecutionError if present.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr, true
	}
	return nil, false
}

// IsSecurityError checks if the error is a path-validation failure.
func IsSecurityError(err error) bool {
	return GetKind(err) == KindSecurity
}

// IsTimeoutError checks if the error is a subprocess deadline failure.
func IsTimeoutError(err error) bool {
	return GetKind(err) == KindTimeout
}

// IsExecutionError checks if the error is a non-zero exit failure.
func IsExecutionError(err error) bool {
	return GetKind(err) == KindExecution
}

// IsParseError checks if the error is an internal parse failure.
func IsParseError(err error) bool {
	return GetKind(err) == KindParse
}

// IsNotFoundError checks if the error is a missing-record failure.
func IsNotFoundError(err error) bool {
	return GetKind(err) == KindNotFound
}

// IsRetryable reports whether the retry wrapper may re-dispatch the
// operation. Only transient execution failures qualify: security failures
// must not be probed through retries, and parse failures degrade to a
// raw-output result instead of being re-run.
func IsRetryable(err error) bool {
	switch GetKind(err) {
	case KindTimeout, KindExecution:
		return true
	default:
		return false
	}
}

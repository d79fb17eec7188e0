package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the kind of failure an entry or a run can hit
type ErrorType string

const (
	ErrorTypeNetwork           ErrorType = "network"
	ErrorTypeRateLimit         ErrorType = "rate_limit"
	ErrorTypeArchiveCorruption ErrorType = "archive_corruption"
	ErrorTypeComposition       ErrorType = "composition"
	ErrorTypeToolUnavailable   ErrorType = "tool_unavailable"
	ErrorTypeFilesystem        ErrorType = "filesystem"
	ErrorTypeInterrupted       ErrorType = "interrupted"
	ErrorTypeUnknown           ErrorType = "unknown"
)

// Error is a typed failure. Code carries the HTTP status for network and
// rate-limit errors and the process exit status for composition errors.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// Wrap creates a typed error around a cause
func Wrap(t ErrorType, err error, msg string) *Error {
	return &Error{Type: t, Message: msg, Err: err}
}

func Network(code int, msg string, err error) *Error {
	return &Error{Type: ErrorTypeNetwork, Message: msg, Code: code, Err: err}
}

func RateLimit(code int, msg string) *Error {
	return &Error{Type: ErrorTypeRateLimit, Message: msg, Code: code}
}

func ArchiveCorruption(msg string, err error) *Error {
	return &Error{Type: ErrorTypeArchiveCorruption, Message: msg, Err: err}
}

func Composition(exitCode int, msg string, err error) *Error {
	return &Error{Type: ErrorTypeComposition, Message: msg, Code: exitCode, Err: err}
}

func ToolUnavailable(msg string, err error) *Error {
	return &Error{Type: ErrorTypeToolUnavailable, Message: msg, Err: err}
}

func Filesystem(msg string, err error) *Error {
	return &Error{Type: ErrorTypeFilesystem, Message: msg, Err: err}
}

// Interrupted marks work cut short by cancellation of the run
func Interrupted(err error) *Error {
	return &Error{Type: ErrorTypeInterrupted, Message: "run interrupted", Err: err}
}

// TypeOf returns the type of the first *Error in err's chain, or
// ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err's chain contains an *Error of type t
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// IsThrottleStatus reports whether an HTTP status means the server is
// blocking us.
func IsThrottleStatus(statusCode int) bool {
	return statusCode == 403 || statusCode == 429
}

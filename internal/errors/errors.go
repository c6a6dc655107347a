package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is a typed error carrying an ErrorCode kind across service
// boundaries so HTTP handlers and receipt builders can map it without
// string matching.
type Error struct {
	Kind    ErrorCode
	Message string
	Details map[string]interface{}
	cause   error
}

// E creates a typed error with the given kind and message.
func E(kind ErrorCode, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Ef creates a typed error with a formatted message.
func Ef(kind ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a typed error that preserves the underlying cause for
// errors.Is/As chains while presenting a clean client-facing message.
func Wrap(kind ErrorCode, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetail attaches a single context field and returns the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, 1)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// AsError extracts a typed *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the error kind of an error chain, or INTERNAL for
// untyped errors. Nil errors have no kind and return the empty string.
func KindOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ErrCodeInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind ErrorCode) bool {
	return KindOf(err) == kind
}

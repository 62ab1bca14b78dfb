package optimization

import (
	"errors"
	"fmt"
)

// Kind classifies errors so callers can react without string matching.
type Kind string

const (
	// KindInvalidConfig marks a construction-time configuration error. Fatal.
	KindInvalidConfig Kind = "invalid config"
	// KindInvalidArgument marks a call with malformed arguments, usually a caller bug.
	KindInvalidArgument Kind = "invalid argument"
	// KindInvalidState marks a call that is illegal in the current lifecycle state.
	KindInvalidState Kind = "invalid state"
)

// Sentinel errors for use with errors.Is.
var (
	ErrInvalidConfig   = &Error{Kind: KindInvalidConfig, Message: string(KindInvalidConfig)}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument, Message: string(KindInvalidArgument)}
	ErrInvalidState    = &Error{Kind: KindInvalidState, Message: string(KindInvalidState)}
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind classifies the error.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches sentinel errors by kind, so a wrapped ErrInvalidState
// still satisfies errors.Is(err, ErrInvalidState).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind != "" && e.Kind == t.Kind
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new error of the sentinel's kind.
func NewError(kind *Error, message string) *Error {
	return &Error{
		Kind:    kind.Kind,
		Message: message,
	}
}

// NewErrorf creates a new error of the sentinel's kind with a formatted message.
func NewErrorf(kind *Error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind.Kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// The kind is inherited when err already carries one.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	wrapped := &Error{
		Message: message,
		Err:     err,
	}
	if e, ok := IsOptimizationError(err); ok {
		wrapped.Kind = e.Kind
	}
	return wrapped
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return WrapError(err, fmt.Sprintf(format, args...))
}

// IsOptimizationError finds the first Error in err's chain.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first Error in err's chain, or "".
func KindOf(err error) Kind {
	if e, ok := IsOptimizationError(err); ok {
		return e.Kind
	}
	return ""
}

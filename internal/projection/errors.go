package projection

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a projection failure.
type ErrorCode string

const (
	// ErrUnmappableField means an accessor has no source column or field.
	ErrUnmappableField ErrorCode = "UNMAPPABLE_FIELD"

	// ErrConstructorMismatch means a DTO constructor does not accept the
	// selected columns.
	ErrConstructorMismatch ErrorCode = "CONSTRUCTOR_MISMATCH"
)

// Error describes a target that cannot be built from a statement.
type Error struct {
	Code    ErrorCode
	Target  string // projection, constructor or entity name
	Field   string // offending accessor, if any
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s.%s: %s", e.Code, e.Target, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Target, e.Message)
}

// IsError reports whether err is a projection error and returns it.
func IsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func unmappable(target, field, format string, args ...any) *Error {
	return &Error{Code: ErrUnmappableField, Target: target, Field: field, Message: fmt.Sprintf(format, args...)}
}

func mismatch(target, format string, args ...any) *Error {
	return &Error{Code: ErrConstructorMismatch, Target: target, Message: fmt.Sprintf(format, args...)}
}

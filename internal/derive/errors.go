package derive

import (
	"errors"
	"fmt"
)

// ErrNotDerivable is returned for method names that carry no query prefix.
// It is not a derivation failure: the caller falls through to its next
// query source.
var ErrNotDerivable = errors.New("method name is not derivable")

// ErrorCode identifies a derivation failure.
type ErrorCode string

const (
	// ErrUnknownField means a property names no field of the entity.
	ErrUnknownField ErrorCode = "UNKNOWN_FIELD"

	// ErrParameterCountMismatch means the clauses consume a different
	// number of values than the operation declares.
	ErrParameterCountMismatch ErrorCode = "PARAMETER_COUNT_MISMATCH"

	// ErrUnrecognizedOperator means text remains after a valid property
	// that is not an operator keyword.
	ErrUnrecognizedOperator ErrorCode = "UNRECOGNIZED_OPERATOR"
)

// Error describes why a method name could not be derived.
type Error struct {
	Code     ErrorCode
	Method   string
	Token    string // offending property or operator text
	Expected int    // PARAMETER_COUNT_MISMATCH only
	Actual   int    // PARAMETER_COUNT_MISMATCH only
	Message  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Code {
	case ErrParameterCountMismatch:
		return fmt.Sprintf("%s: %s: clauses consume %d value(s), operation declares %d", e.Method, e.Code, e.Expected, e.Actual)
	default:
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %q: %s", e.Method, e.Code, e.Token, e.Message)
		}
		return fmt.Sprintf("%s: %s: %q", e.Method, e.Code, e.Token)
	}
}

// IsError reports whether err is a derivation error and returns it.
func IsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether err is a derivation error with the given code.
func HasCode(err error, code ErrorCode) bool {
	e, ok := IsError(err)
	return ok && e.Code == code
}

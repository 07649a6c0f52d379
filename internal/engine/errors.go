package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/repoql/internal/derive"
	"github.com/roach88/repoql/internal/projection"
)

// ResolutionError means no query source could be chosen for an operation.
// It is always raised by Register.
type ResolutionError struct {
	// Code identifies the error category.
	Code ResolutionErrorCode

	// Op identifies the operation, "Contract.method".
	Op string

	// Message is a human-readable description.
	Message string

	// Cause is the failure of the last strategy tried, if any.
	Cause error
}

// ResolutionErrorCode categorizes resolution errors.
type ResolutionErrorCode string

const (
	// ErrNoStrategyApplicable means the operation has no explicit query, no
	// named query, no custom delegate and a method name that cannot be
	// derived.
	ErrNoStrategyApplicable ResolutionErrorCode = "NO_STRATEGY_APPLICABLE"

	// ErrAmbiguousStrategy means explicit query text and a custom delegate
	// were both supplied for the same operation.
	ErrAmbiguousStrategy ResolutionErrorCode = "AMBIGUOUS_STRATEGY"
)

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// ExecutionError is a failure to prepare or run a statement.
//
// INVALID_QUERY is raised by Register whenever the query text can be
// checked without the store, otherwise by the first call. STORE_FAILURE
// carries the store's own error as Cause; it is never retried.
type ExecutionError struct {
	// Code identifies the error category.
	Code ExecutionErrorCode

	// Op identifies the operation, "Contract.method".
	Op string

	// CallID correlates the error with the call's log lines. Empty for
	// errors raised by Register.
	CallID string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// ExecutionErrorCode categorizes execution errors.
type ExecutionErrorCode string

const (
	// ErrInvalidQuery indicates query text that does not parse or does not
	// fit the operation.
	ErrInvalidQuery ExecutionErrorCode = "INVALID_QUERY"

	// ErrStoreFailure indicates the store rejected or failed a statement.
	ErrStoreFailure ExecutionErrorCode = "STORE_FAILURE"

	// ErrNonUniqueResult indicates a single or optional operation matched
	// more than one record.
	ErrNonUniqueResult ExecutionErrorCode = "NON_UNIQUE_RESULT"

	// ErrInvalidArgument indicates call arguments that do not fit the
	// declared parameters.
	ErrInvalidArgument ExecutionErrorCode = "INVALID_ARGUMENT"
)

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	if e.CallID != "" {
		msg += " (call=" + e.CallID + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// IsResolutionError reports whether err is a resolution error with the
// given code. Uses errors.As to handle wrapped and joined errors.
func IsResolutionError(err error, code ResolutionErrorCode) bool {
	var re *ResolutionError
	return errors.As(err, &re) && re.Code == code
}

// IsExecutionError reports whether err is an execution error with the
// given code.
func IsExecutionError(err error, code ExecutionErrorCode) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && ee.Code == code
}

// IsInvalidQuery reports whether err is an INVALID_QUERY execution error.
func IsInvalidQuery(err error) bool {
	return IsExecutionError(err, ErrInvalidQuery)
}

// IsStoreFailure reports whether err is a STORE_FAILURE execution error.
func IsStoreFailure(err error) bool {
	return IsExecutionError(err, ErrStoreFailure)
}

// IsDerivationError reports whether err is a method-name derivation error
// with the given code.
func IsDerivationError(err error, code derive.ErrorCode) bool {
	return derive.HasCode(err, code)
}

// IsProjectionError reports whether err is a projection error with the
// given code.
func IsProjectionError(err error, code projection.ErrorCode) bool {
	pe, ok := projection.IsError(err)
	return ok && pe.Code == code
}

// ErrorCode returns the code of the first typed error in err's chain:
// resolution, execution, derivation or projection. Other errors report
// "ERROR".
func ErrorCode(err error) string {
	var re *ResolutionError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	var de *derive.Error
	if errors.As(err, &de) {
		return string(de.Code)
	}
	if pe, ok := projection.IsError(err); ok {
		return string(pe.Code)
	}
	return "ERROR"
}

func invalidQuery(op string, cause error, format string, args ...any) *ExecutionError {
	return &ExecutionError{Code: ErrInvalidQuery, Op: op, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func invalidArgument(c *call, format string, args ...any) *ExecutionError {
	return &ExecutionError{Code: ErrInvalidArgument, Op: c.op, CallID: c.id, Message: fmt.Sprintf(format, args...)}
}

func storeFailure(c *call, step string, cause error) *ExecutionError {
	return &ExecutionError{Code: ErrStoreFailure, Op: c.op, CallID: c.id, Message: step, Cause: cause}
}

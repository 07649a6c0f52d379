package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ErrorKind classifies a store failure.
type ErrorKind string

const (
	// KindConstraint is an integrity constraint violation.
	KindConstraint ErrorKind = "constraint"

	// KindConflict is a lock or serialization conflict; retrying may succeed.
	KindConflict ErrorKind = "conflict"

	// KindOther is any other failure (syntax, connectivity, ...).
	KindOther ErrorKind = "other"
)

// Error wraps a driver error with its classification.
type Error struct {
	Kind ErrorKind
	Op   string // operation label, may be empty
	Step string // what the store was doing
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

// Unwrap returns the driver error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsConstraint reports whether err is an integrity constraint violation.
func IsConstraint(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindConstraint
}

// IsConflict reports whether err is a lock or serialization conflict.
func IsConflict(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindConflict
}

func wrap(step string, err error) error {
	return wrapOp("", step, err)
}

func wrapOp(op, step string, err error) error {
	return &Error{Kind: classify(err), Op: op, Step: step, Err: err}
}

func classify(err error) ErrorKind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsIntegrityConstraintViolation(pgErr.Code):
			return KindConstraint
		case pgErr.Code == pgerrcode.LockNotAvailable,
			pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected:
			return KindConflict
		}
		return KindOther
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrConstraint:
			return KindConstraint
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return KindConflict
		}
	}
	return KindOther
}

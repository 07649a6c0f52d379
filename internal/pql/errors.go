package pql

import (
	"errors"
	"fmt"
)

// Error is a parse or translation failure in query text.
type Error struct {
	Pos     int    // byte offset in the text, -1 when not positional
	Token   string // offending token, if any
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Pos < 0 {
		return e.Message
	}
	if e.Token != "" {
		return fmt.Sprintf("at %d near %q: %s", e.Pos, e.Token, e.Message)
	}
	return fmt.Sprintf("at %d: %s", e.Pos, e.Message)
}

// IsError reports whether err is a pql error and returns it.
func IsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func errorf(tok token, format string, args ...any) *Error {
	return &Error{Pos: tok.pos, Token: tok.text, Message: fmt.Sprintf(format, args...)}
}

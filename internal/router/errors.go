package router

import (
	"errors"
	"fmt"
)

// Code classifies a failure for the presentation layer.
type Code string

const (
	// CodeValidation is a malformed command or payload, rejected before
	// any mutation.
	CodeValidation Code = "validation_error"
	// CodeNotFound is a reference to a board, column, or card that does
	// not exist. Unknown commands also map here.
	CodeNotFound Code = "not_found"
	// CodeIO is a storage adapter read or write failure.
	CodeIO Code = "io_error"
	// CodeDuplicate is a requestId already in flight.
	CodeDuplicate Code = "duplicate_request"
	// CodeConflict is an external change racing a pending local write.
	// Resolved automatically; surfaced as a warning, not a failure.
	CodeConflict Code = "conflict"
	// CodeInternal is a handler panic or other unclassified failure.
	CodeInternal Code = "internal_error"
)

// Error is a classified engine failure carried across the router boundary.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the failure code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeInternal
}

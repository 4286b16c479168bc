// Package gpgerr defines the error taxonomy shared by the engine, the wait
// loop and the operation layer.
package gpgerr

import (
	"errors"
	"fmt"
)

// Code identifies the kind of a failure.
type Code string

// Engine and wait loop failures.
const (
	ResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	InvalidMode        Code = "INVALID_MODE"
	UnsupportedType    Code = "UNSUPPORTED_TYPE"
	ProcessStartFailed Code = "PROCESS_START_FAILED"
	RegistrationFailed Code = "REGISTRATION_FAILED"
	IOFailure          Code = "IO_FAILURE"
	Canceled           Code = "CANCELED"
)

// Operation layer failures.
const (
	InvalidValue Code = "INVALID_VALUE"
	NoData       Code = "NO_DATA"
	NoPassphrase Code = "NO_PASSPHRASE"
	Busy         Code = "BUSY"
)

// Error is a coded failure with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error with a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HasCode checks if the error matches a specific code.
func (e *Error) HasCode(code Code) bool {
	return e.Code == code
}

// Is reports whether any error in err's chain is an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Package apperr defines the error taxonomy shared by both transports.
// Every failure the core surfaces maps to exactly one Code, and both the
// HTTP layer and the WebSocket layer derive their wire representation
// (status code or message_error payload) from it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping.
type Code string

const (
	CodeValidation    Code = "validation"     // bad input (type, empty content)
	CodeAuthorization Code = "authorization"  // caller is not a participant
	CodeNotFound      Code = "not_found"      // missing conversation/message
	CodeConflict      Code = "conflict"       // duplicate conversation pair
	CodeTransient     Code = "transient"      // storage fault, retried once already
	CodeInternal      Code = "internal"       // anything else
)

// Error carries a code, a client-safe message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Constructors.

func Validation(msg string) error {
	return &Error{Code: CodeValidation, Message: msg}
}

func Authorization(msg string) error {
	return &Error{Code: CodeAuthorization, Message: msg}
}

func NotFound(msg string) error {
	return &Error{Code: CodeNotFound, Message: msg}
}

func Conflict(msg string) error {
	return &Error{Code: CodeConflict, Message: msg}
}

func Transient(msg string, cause error) error {
	return &Error{Code: CodeTransient, Message: msg, Cause: cause}
}

func Internal(msg string, cause error) error {
	return &Error{Code: CodeInternal, Message: msg, Cause: cause}
}

// CodeOf extracts the Code from an error chain. Unclassified errors are
// reported as internal.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// MessageOf returns the client-safe message from an error chain, or a
// generic fallback for unclassified errors (which may carry internals).
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// HTTPStatus maps an error chain to an HTTP status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

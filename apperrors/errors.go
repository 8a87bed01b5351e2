// apperrors/errors.go
package apperrors

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
)

// Code classifies a failure so transports can map it to a status or close code.
type Code string

const (
	CodeAuth                Code = "AUTH"
	CodeValidation          Code = "VALIDATION"
	CodeStateConflict       Code = "STATE_CONFLICT"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInternal            Code = "INTERNAL"
)

// HTTPStatus returns the REST status used for the code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeValidation:
		return http.StatusBadRequest
	case CodeStateConflict:
		return http.StatusConflict
	case CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// CloseCode returns the websocket close code used when the failure ends a socket.
func (c Code) CloseCode() int {
	switch c {
	case CodeAuth, CodeValidation:
		return websocket.ClosePolicyViolation
	case CodeUpstreamUnavailable:
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseInternalServerErr
	}
}

// Error is the domain error carried across the gateway, lobby and bracket engine.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code so callers can write errors.Is(err, apperrors.ErrStateConflict).
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrAuth                = &Error{Code: CodeAuth}
	ErrValidation          = &Error{Code: CodeValidation}
	ErrStateConflict       = &Error{Code: CodeStateConflict}
	ErrUpstreamUnavailable = &Error{Code: CodeUpstreamUnavailable}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrInternal            = &Error{Code: CodeInternal}
)

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the code of err, defaulting to CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// MessageOf returns the user-facing message of err without its cause chain.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable error kind, shared between transports.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden  Code = "FORBIDDEN"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeInternal   Code = "INTERNAL_ERROR"
)

var httpStatus = map[Code]int{
	CodeValidation:   http.StatusBadRequest,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeForbidden:    http.StatusForbidden,
	CodeNotFound:     http.StatusNotFound,
	CodeConflict:     http.StatusConflict,
	CodeInternal:     http.StatusInternalServerError,
}

// Error is the single typed error every handler produces. Cause is
// kept for logging (the causal chain) but never serialized to a
// client.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

func Validation(msg string) *Error   { return newErr(CodeValidation, msg, nil) }
func Unauthorized(msg string) *Error { return newErr(CodeUnauthorized, msg, nil) }
func Forbidden(msg string) *Error    { return newErr(CodeForbidden, msg, nil) }
func NotFound(msg string) *Error     { return newErr(CodeNotFound, msg, nil) }
func Conflict(msg string) *Error     { return newErr(CodeConflict, msg, nil) }

// Internal wraps an unexpected failure, keeping the causal chain for
// logging without leaking it to the client.
func Internal(msg string, cause error) *Error {
	return newErr(CodeInternal, msg, cause)
}

// As extracts an *Error from err, falling back to an internal error
// wrapping it if err isn't already one of ours.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("unexpected error", err)
}

// HTTPBody is the JSON body shape for request/response-path errors.
type HTTPBody struct {
	Error struct {
		Code    Code           `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// ToHTTP maps err to an HTTP status and response body.
func ToHTTP(err error) (int, HTTPBody) {
	e := As(err)
	status, ok := httpStatus[e.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	var body HTTPBody
	body.Error.Code = e.Code
	body.Error.Message = e.Message
	body.Error.Details = e.Details
	return status, body
}

// AckEnvelope is the success/error shape returned to a channel ack.
type AckEnvelope struct {
	Success bool   `json:"success"`
	Hash    string `json:"hash,omitempty"`
	Error   *struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ToAck maps err to a channel ack error envelope. Channel acks only
// ever surface FORBIDDEN, VALIDATION_ERROR, or INTERNAL_ERROR per
// spec; other codes collapse to INTERNAL_ERROR.
func ToAck(err error) AckEnvelope {
	e := As(err)
	code := e.Code
	switch code {
	case CodeForbidden, CodeValidation, CodeInternal:
	default:
		code = CodeInternal
	}
	env := AckEnvelope{Success: false}
	env.Error = &struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	}{Code: code, Message: e.Message}
	return env
}

package message

import (
	"errors"
	"strings"
)

// Code classifies an Error. Codes travel on the wire as strings.
type Code string

const (
	CodeServiceNotFound  Code = "service_not_found"
	CodeMethodNotFound   Code = "method_not_found"
	CodeBadRequest       Code = "bad_request"
	CodeInvocationFailed Code = "invocation_failed"
	CodeTimeout          Code = "timeout"
	CodeRateLimited      Code = "rate_limited"
	CodeInternal         Code = "internal"
)

// Error is a transportable failure description. It is plain data so it can be
// serialized by any codec, and it implements error so callers can return it.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   *Error `json:"cause,omitempty"`
}

// NewError returns an Error without a cause.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap returns an Error with the given code whose cause chain is built from err.
// A *Error anywhere in err's chain is kept as the cause.
func Wrap(code Code, msg string, err error) *Error {
	e := &Error{Code: code, Message: msg}
	if err != nil {
		e.Cause = FromError(err)
	}
	return e
}

// FromError converts any error into an *Error. An *Error in the chain is
// returned unchanged; anything else becomes CodeInvocationFailed.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInvocationFailed, Message: err.Error()}
}

func (e *Error) Error() string {
	var sb strings.Builder
	for cur := e; cur != nil; cur = cur.Cause {
		if cur != e {
			sb.WriteString(": ")
		}
		sb.WriteString(string(cur.Code))
		if cur.Message != "" {
			sb.WriteString(" ")
			sb.WriteString(cur.Message)
		}
	}
	return sb.String()
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: CodeTimeout})
// works against anything carried in a Response.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Sentinels for errors.Is.
var (
	ErrServiceNotFound = &Error{Code: CodeServiceNotFound, Message: "service not found"}
	ErrMethodNotFound  = &Error{Code: CodeMethodNotFound, Message: "method not found"}
	ErrRateLimited     = &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}
)

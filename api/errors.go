// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error taxonomy shared by transports, the lifecycle manager and collaborators.

package api

import (
	"errors"
	"fmt"
)

// Transport level conditions. ErrWouldBlock is a control-flow value, not a failure.
var (
	ErrWouldBlock        = errors.New("operation would block")
	ErrConnReset         = errors.New("connection reset by peer")
	ErrUnsupported       = errors.New("operation not supported on this transport")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrHandshake         = errors.New("tls handshake failed")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrNotFound          = errors.New("resource not found")
)

// ErrorCode classifies an Error.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeTransient
	ErrCodePeerClosed
	ErrCodeTransport
	ErrCodeUnsupported
	ErrCodeResourceExhausted
	ErrCodeInvalidArgument
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap attaches a cause to the error.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Classify maps an I/O result error onto the taxonomy used by callers to
// decide between retry, teardown and alternate paths.
func Classify(err error) ErrorCode {
	var e *Error
	switch {
	case err == nil:
		return ErrCodeOK
	case errors.As(err, &e):
		return e.Code
	case errors.Is(err, ErrWouldBlock):
		return ErrCodeTransient
	case errors.Is(err, ErrUnsupported):
		return ErrCodeUnsupported
	case errors.Is(err, ErrResourceExhausted):
		return ErrCodeResourceExhausted
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidArgument
	default:
		return ErrCodeTransport
	}
}

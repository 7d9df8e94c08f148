// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by the transfer handles, the multiplex engine and the facade.

package api

import (
	"errors"
	"fmt"
)

// Usage errors: caller misuse, always returned at the offending call.
var (
	ErrNilHandle          = errors.New("nil transfer handle")
	ErrAlreadyClosed      = errors.New("handle already closed")
	ErrHandleClosed       = errors.New("handle is closed")
	ErrStillRegistered    = errors.New("handle is still registered with an engine")
	ErrAlreadyRegistered  = errors.New("handle already registered with an engine")
	ErrNotRegistered      = errors.New("handle not registered with this engine")
	ErrInvalidOption      = errors.New("invalid option")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrAlreadyInitialized = errors.New("runtime already initialized")
	ErrNotInitialized     = errors.New("runtime not initialized")
	ErrEngineClosed       = errors.New("engine is closed")
	ErrEnginePoisoned     = errors.New("engine is poisoned by a fatal protocol error")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrInvalidReturn      = errors.New("callback returned an invalid value")
)

// ErrorCode classifies failures the way the completion channel reports them.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeUsage
	ErrCodeTransfer
	ErrCodeCallbackAbort
	ErrCodeResourceExhausted
	ErrCodeFatalProtocol
)

var codeNames = [...]string{
	ErrCodeOK:                "ok",
	ErrCodeUsage:             "usage",
	ErrCodeTransfer:          "transfer",
	ErrCodeCallbackAbort:     "callback_abort",
	ErrCodeResourceExhausted: "resource_exhausted",
	ErrCodeFatalProtocol:     "fatal_protocol",
}

// String returns the short classification name, suitable for metric labels.
func (c ErrorCode) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error represents a structured error with code, context and an optional cause.
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
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap records cause as the wrapped error.
func (e *Error) Wrap(cause error) *Error {
	e.Err = cause
	return e
}

// Usage builds an ErrCodeUsage error around one of the sentinels above.
func Usage(sentinel error, message string) *Error {
	return NewError(ErrCodeUsage, message).Wrap(sentinel)
}

// CodeOf returns the classification of err, ErrCodeOK for nil and
// ErrCodeUsage for errors that carry no classification.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUsage
}

// IsFatal reports whether err poisons the engine that produced it.
func IsFatal(err error) bool {
	return CodeOf(err) == ErrCodeFatalProtocol
}

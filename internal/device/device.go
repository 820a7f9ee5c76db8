package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure the session core can report
type ErrorKind string

const (
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindNotConnected        ErrorKind = "not_connected"
	KindOperationInProgress ErrorKind = "operation_in_progress"
	KindDecode              ErrorKind = "decode_error"
	KindTimeout             ErrorKind = "timeout"
	KindCancelled           ErrorKind = "cancelled"
	KindAdapter             ErrorKind = "adapter_error"
)

// Error is the single error type surfaced by the session core.
// Msg carries the human-readable detail; for KindAdapter it is the opaque native message.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Msg == "" && e.Err == nil:
		return string(e.Kind)
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per kind
var (
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
	ErrNotConnected        = &Error{Kind: KindNotConnected}
	ErrOperationInProgress = &Error{Kind: KindOperationInProgress}
	ErrDecode              = &Error{Kind: KindDecode}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrCancelled           = &Error{Kind: KindCancelled}
	ErrAdapter             = &Error{Kind: KindAdapter}
)

// NewError builds an Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// AdapterError wraps an opaque native failure message.
func AdapterError(msg string) *Error {
	return &Error{Kind: KindAdapter, Msg: msg}
}

// KindOf extracts the ErrorKind of err, if err is (or wraps) an *Error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err is an Error with the given kind
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// NormalizeError maps a backend failure onto the session error kinds.
// Already classified errors pass through; known stack messages become their kind;
// anything else is reported as an adapter error that keeps the original as its cause.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "not connected"), containsIgnoreCase(msg, "connection is not initialized"):
		return &Error{Kind: KindNotConnected, Err: err}
	case containsIgnoreCase(msg, "deadline exceeded"), containsIgnoreCase(msg, "timed out"), containsIgnoreCase(msg, "timeout"):
		return &Error{Kind: KindTimeout, Err: err}
	case containsIgnoreCase(msg, "context canceled"):
		return &Error{Kind: KindCancelled, Err: err}
	default:
		return &Error{Kind: KindAdapter, Msg: msg, Err: err}
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Package perrors provides the structured error taxonomy used across the
// levin request pipeline (parsers, connection, middleware).
package perrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Type categorizes an Error by where in the pipeline it originated.
type Type string

const (
	// TypeParse marks bytes that were not a valid prefix for a parser.
	// Recoverable at the Connection layer by trying the next candidate.
	TypeParse Type = "parse"

	// TypeHandler marks any uncaught failure inside the middleware pipeline.
	TypeHandler Type = "handler"

	// TypeTimeout marks a handler that exceeded its TimeLimit deadline.
	TypeTimeout Type = "timeout"

	// TypeProtocol marks an HTTP/2 protocol-level violation.
	TypeProtocol Type = "protocol"

	// TypeStreamClosed marks a write attempted against an abandoned stream.
	TypeStreamClosed Type = "stream_closed"

	// TypeDisableComponent is raised by a component during Start to signal
	// it should be pruned from the active list. Not a user-facing error.
	TypeDisableComponent Type = "disable_component"

	// TypeTransportLost marks a connection whose socket is gone.
	TypeTransportLost Type = "transport_lost"
)

// Error is a structured error carrying enough context to log and to branch
// on programmatically via errors.Is/As.
type Error struct {
	Type      Type
	Op        string
	Message   string
	Cause     error
	Stream    int
	Timestamp time.Time
}

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s]", e.Type)
	if e.Op != "" {
		s += " " + e.Op
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Type alone, mirroring the teacher's error-type comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

func newErr(t Type, op, msg string, cause error) *Error {
	return &Error{Type: t, Op: op, Message: msg, Cause: cause, Timestamp: time.Now()}
}

// NewParseError wraps a byte sequence that failed to parse as this protocol.
func NewParseError(op string, cause error) *Error {
	return newErr(TypeParse, op, "input is not a valid prefix for this parser", cause)
}

// NewHandlerError wraps an uncaught panic or error from inside the pipeline.
func NewHandlerError(cause error) *Error {
	return newErr(TypeHandler, "handle", "uncaught handler failure", cause)
}

// NewTimeoutError marks a handler that exceeded its deadline.
func NewTimeoutError(limit time.Duration) *Error {
	return newErr(TypeTimeout, "handle", fmt.Sprintf("handler exceeded %v limit", limit), nil)
}

// NewProtocolError wraps an HTTP/2 connection-level protocol violation.
func NewProtocolError(op string, cause error) *Error {
	return newErr(TypeProtocol, op, "protocol error", cause)
}

// NewStreamClosedError marks a write against a stream that is already gone.
func NewStreamClosedError(stream int) *Error {
	e := newErr(TypeStreamClosed, "write", "stream closed", nil)
	e.Stream = stream
	return e
}

// DisableComponent is the sentinel a Component.Start returns to ask the
// Application to prune it from the active component list. It is not an
// error to the user — Application.Start swallows it silently.
var DisableComponent = newErr(TypeDisableComponent, "start", "component disabled itself", nil)

// NewTransportLostError marks a connection whose socket has been lost.
func NewTransportLostError(cause error) *Error {
	return newErr(TypeTransportLost, "write", "transport lost", cause)
}

// IsTimeout reports whether err is (or wraps) a TypeTimeout Error, a net
// timeout, or a context deadline.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) && e.Type == TypeTimeout {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsParseError reports whether err is (or wraps) a TypeParse Error.
func IsParseError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == TypeParse
}

// IsDisableComponent reports whether err signals component self-disable.
func IsDisableComponent(err error) bool {
	return errors.Is(err, DisableComponent)
}

// IsTransportLost reports whether err is (or wraps) a TypeTransportLost Error.
func IsTransportLost(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == TypeTransportLost
}

// GetType returns the Error's Type, or "" if err is not a *Error.
func GetType(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

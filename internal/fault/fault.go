// ABOUTME: Error kinds for the hub core and the *Error type that carries them.
// ABOUTME: Kinds double as sentinels so errors.Is(err, fault.Timeout) works through wrapping.

package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a hub failure.
type Kind string

const (
	ServerNotConfigured Kind = "ServerNotConfigured"
	ServerNotAvailable  Kind = "ServerNotAvailable"
	Timeout             Kind = "Timeout"
	NoResponse          Kind = "NoResponse"
	MalformedResponse   Kind = "MalformedResponse"
	RemoteError         Kind = "RemoteError"
	UnsupportedTool     Kind = "UnsupportedTool"
	ProcessStartFailure Kind = "ProcessStartFailure"
	Internal            Kind = "Internal"
)

// Error implements error so a Kind can be used as an errors.Is target.
func (k Kind) Error() string { return string(k) }

// Error is a classified hub failure.
type Error struct {
	Kind   Kind
	Server string
	Tool   string
	Detail string
	Err    error
}

// New returns an *Error of the given kind with a formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := e.message()
	if msg == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + msg
}

func (e *Error) message() string {
	var parts []string
	switch {
	case e.Tool != "" && e.Server != "":
		parts = append(parts, fmt.Sprintf("tool %s on server %s", e.Tool, e.Server))
	case e.Server != "":
		parts = append(parts, "server "+e.Server)
	case e.Tool != "":
		parts = append(parts, "tool "+e.Tool)
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if e.Err != nil && e.Detail == "" {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WithServer returns a copy of e that names the server, unless it already does.
func (e *Error) WithServer(server string) *Error {
	c := *e
	if c.Server == "" {
		c.Server = server
	}
	return &c
}

// KindOf reports the kind of err. Errors that were never classified are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// WithContext attaches the tool and server to err, keeping its kind.
// Unclassified errors become Internal.
func WithContext(err error, tool, server string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if !errors.As(err, &fe) {
		return &Error{Kind: Internal, Tool: tool, Server: server, Err: err}
	}
	c := *fe
	if c.Tool == "" {
		c.Tool = tool
	}
	if c.Server == "" {
		c.Server = server
	}
	return &c
}

// FromContext classifies a context error: an expired deadline is a Timeout,
// anything else (cancellation) is Internal.
func FromContext(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(Timeout, err, "deadline exceeded")
	}
	return Wrap(Internal, err, "call abandoned: %v", err)
}

// Render formats err for the tool execution contract.
func Render(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Error()
	}
	return string(Internal) + ": " + err.Error()
}

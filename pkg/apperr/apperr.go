package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and policy decisions.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindPermissionDenied   Kind = "permission_denied"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindPreconditionFailed Kind = "precondition_failed"
	KindUpstreamTimeout    Kind = "upstream_timeout"
	KindUpstreamRejected   Kind = "upstream_rejected"
	KindUpstreamUnavail    Kind = "upstream_unavailable"
)

// Error carries a kind, a caller-safe message and an optional wrapped cause.
// The cause is for logs; handlers must only surface Msg.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	if e.Msg != "" {
		return e.Msg
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind with a caller-safe message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an error of the given kind around a cause. The cause is kept
// for logging; msg is what callers may see.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or "" when err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsUpstream reports whether err originated from an external processing call.
func IsUpstream(err error) bool {
	switch KindOf(err) {
	case KindUpstreamTimeout, KindUpstreamRejected, KindUpstreamUnavail:
		return true
	}
	return false
}

func Validation(msg string) *Error         { return New(KindValidation, msg) }
func PermissionDenied(msg string) *Error   { return New(KindPermissionDenied, msg) }
func NotFound(msg string) *Error           { return New(KindNotFound, msg) }
func Conflict(msg string) *Error           { return New(KindConflict, msg) }
func PreconditionFailed(msg string) *Error { return New(KindPreconditionFailed, msg) }

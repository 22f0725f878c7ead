package schemas

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so callers branch on kind, never on
// message text.
type ErrorKind string

const (
	// KindValidation is malformed input, rejected before any resource is
	// acquired and never retried automatically.
	KindValidation ErrorKind = "VALIDATION"
	// KindNotFound means a referenced profile/proxy/group/workflow/execution
	// does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindLaunch means a browser session failed to start.
	KindLaunch ErrorKind = "LAUNCH"
	// KindInterpreter means the workflow graph failed during execution.
	KindInterpreter ErrorKind = "INTERPRETER"
	// KindInvalidState is an operation against an execution in an
	// incompatible lifecycle state.
	KindInvalidState ErrorKind = "INVALID_STATE"
	// KindConflict is a session request for a profile whose session is
	// already held elsewhere.
	KindConflict ErrorKind = "CONFLICT"
)

// Error is the engine's tagged error type. It wraps an optional cause so
// errors.Is/As keep working through the chain.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors carrying the same kind, so sentinel-style checks like
// errors.Is(err, &Error{Kind: KindConflict}) work.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Kind == e.Kind && (te.Msg == "" || te.Msg == e.Msg)
}

// NewError builds a tagged error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError tags an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain, or "" when the chain
// carries no tagged error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

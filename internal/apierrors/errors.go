// Package apierrors defines the single closed error taxonomy shared by every
// component (§7). Every failure in the engine is one of these Kinds;
// nothing is silently swallowed, and the per-step funnel (internal/player)
// is the only place that converts one of these into a terminal result.
//
// This generalizes gasoline-mcp's StructuredError pattern
// (internal/mcp/errors.go: self-describing snake_case code, human message,
// retry guidance) from "MCP tool JSON response" to "typed Go error sum
// returned up the call stack" — see §9's design note on replacing
// exception-driven control flow with a typed result + error sum.
package apierrors

import "fmt"

// Kind is one of the ten closed error categories from §7.
type Kind string

const (
	KindTransport         Kind = "transport"
	KindProtocolError     Kind = "protocol_error"
	KindTimeout           Kind = "timeout"
	KindElementNotFound   Kind = "element_not_found"
	KindFrameNavigation   Kind = "frame_navigation"
	KindCheckpointFailure Kind = "checkpoint_failure"
	KindHealingExhausted  Kind = "healing_exhausted"
	KindLLMUnavailable    Kind = "llm_unavailable"
	KindInterrupted       Kind = "interrupted"
	KindConfig            Kind = "config"
)

// Error is the engine-wide error type. Every component returns (or wraps)
// one of these rather than an ad hoc error value.
type Error struct {
	Kind   Kind
	Detail string
	// Wrapped is the underlying cause, if any (e.g. HealingExhausted wraps
	// the original ElementNotFound per §4.13).
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is reports whether target is an *Error with the same Kind, so callers can
// do `errors.Is(err, apierrors.New(KindTimeout, ""))`-style checks, but most
// callers should prefer errors.As to inspect Detail/Wrapped.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf constructs an *Error with a formatted detail message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping an existing error,
// e.g. HealingExhausted wrapping the original ElementNotFound (§4.13).
func Wrap(kind Kind, detail string, wrapped error) *Error {
	return &Error{Kind: kind, Detail: detail, Wrapped: wrapped}
}

// Terminal renders the single human-readable terminal message format
// mandated by §7: `"<Kind> at step N/M: <detail>"`.
func (e *Error) Terminal(stepIndex, totalSteps int) string {
	return fmt.Sprintf("%s at step %d/%d: %s", e.Kind, stepIndex, totalSteps, e.Detail)
}

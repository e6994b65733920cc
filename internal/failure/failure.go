// Package failure defines the error taxonomy surfaced by the voice pipeline.
//
// Adapters wrap their transport errors in a *Error of the matching Kind so the
// orchestrator never forwards raw upstream errors to a client.
package failure

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// Configuration errors reject a start request before a session exists.
	Configuration Kind = "configuration"
	// Recognition errors are fatal to the session.
	Recognition Kind = "recognition"
	// Generation errors are fatal to the current cycle only.
	Generation Kind = "generation"
	// Synthesis errors are fatal to the current segment only.
	Synthesis Kind = "synthesis"
)

type Error struct {
	Kind      Kind
	Op        string
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg + " failed"
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: Synthesis})
// reports whether err carries the synthesis kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func ConfigurationError(op string, format string, args ...any) *Error {
	return newError(Configuration, op, fmt.Errorf(format, args...))
}

func RecognitionFailure(op string, err error) *Error {
	return newError(Recognition, op, err)
}

func GenerationFailure(op string, err error) *Error {
	return newError(Generation, op, err)
}

func SynthesisFailure(op string, err error) *Error {
	return newError(Synthesis, op, err)
}

// KindOf returns the taxonomy kind carried by err, or "" when err is not a
// classified pipeline error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Classify guarantees err carries a kind, wrapping unclassified errors with
// fallback. Already classified errors are returned as-is.
func Classify(err error, fallback Kind, op string) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return newError(fallback, op, err)
}

// WithRetryable marks the error as retryable by the client and returns it.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithCode attaches an upstream error code and returns the error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

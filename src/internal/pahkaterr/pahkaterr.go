// Package pahkaterr defines the error taxonomy shared across the client
// core: every failure that crosses a package boundary carries an
// enumerated Kind plus a human-readable message, attached by the layer
// that first detected it.
package pahkaterr

import (
	"errors"
	"fmt"

	jujuerrors "github.com/juju/errors"
)

// Kind enumerates the error taxonomy.
type Kind int

const (
	Unknown Kind = iota
	Configuration
	Network
	Schema
	Resolve
	Download
	Install
	Concurrency
	Contradiction
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Network:
		return "network"
	case Schema:
		return "schema"
	case Resolve:
		return "resolve"
	case Download:
		return "download"
	case Install:
		return "install"
	case Concurrency:
		return "concurrency"
	case Contradiction:
		return "contradiction"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. Cause is always a juju/errors-annotated
// chain so callers can still Trace/ErrorStack it for diagnostics.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a Kind-tagged error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: jujuerrors.New(message)}
}

// Annotate wraps cause with a Kind and a message, preserving the juju/errors
// trace so the originating call site remains visible in diagnostics.
func Annotate(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: jujuerrors.Annotate(cause, message)}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Package hfserr defines the error kinds shared across the core
// B-tree/catalog/data-stream layers, per the error handling design:
// every parse, read, or lookup either succeeds deterministically or
// produces one of these kinds, never a bare string or a panic.
package hfserr

import (
	"errors"
	"fmt"
)

// Kind discriminates the semantic category of a failure. It is never
// meant to be switched on directly by callers outside this module;
// use [KindOf] or [Of] to recover or test the Kind of a wrapped error.
type Kind int

const (
	_ Kind = iota
	InvalidArgument
	OutOfBounds
	InvalidData
	UnsupportedValue
	Io
	NotFound
	OutOfMemory
	Aborted
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case OutOfBounds:
		return "out of bounds"
	case InvalidData:
		return "invalid data"
	case UnsupportedValue:
		return "unsupported value"
	case Io:
		return "io error"
	case NotFound:
		return "not found"
	case OutOfMemory:
		return "out of memory"
	case Aborted:
		return "aborted"
	default:
		return "unknown error"
	}
}

// Error is a causal-chain error carrying a [Kind] plus the operation
// name that produced it, so that wrapping up through the B-tree,
// catalog, and façade layers never loses the original signal.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets two *Error values of the same Kind compare equal under
// errors.Is, so callers can write errors.Is(err, hfserr.New(hfserr.NotFound, "", nil)).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an *Error for operation op, wrapping err (which may
// be nil for a leaf failure with no further cause).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Of reports whether err's Kind equals kind.
func Of(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrap annotates err with op, preserving its Kind if it already has
// one, or tagging it InvalidData otherwise (the common case: a parse
// helper returning a bare error that a caller needs to annotate with
// its own operation name without losing the original Kind).
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return New(existing.Kind, op, err)
	}
	return New(InvalidData, op, err)
}

// KindOf reports the Kind of err, or 0 if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Package errs classifies failures so callers can decide whether to abort,
// skip a sentence, or degrade.
package errs

import (
	"github.com/pkg/errors"
)

// Kind is the failure class carried by an *Error.
type Kind uint8

const (
	Unknown Kind = iota
	// Configuration covers unrecognised or mutually inconsistent options. Fatal.
	Configuration
	// Data covers malformed input for a single sentence. The sentence is skipped.
	Data
	// Resource covers budgets too small to do the requested work. The caller degrades.
	Resource
	// Checkpoint covers unreadable or incompatible saved weights. Fatal.
	Checkpoint
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration error"
	case Data:
		return "data error"
	case Resource:
		return "resource error"
	case Checkpoint:
		return "checkpoint error"
	default:
		return "error"
	}
}

// Fatal reports whether errors of this kind must stop the run.
func (k Kind) Fatal() bool {
	return k == Configuration || k == Checkpoint || k == Unknown
}

// Error is a classified error.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.err.Error() }

// Unwrap exposes the wrapped error to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.err }

// Cause lets github.com/pkg/errors.Cause walk through the classification.
func (e *Error) Cause() error { return e.err }

// New creates a classified error with a stack trace.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, err: errors.Errorf(format, args...)}
}

// Wrap classifies err, annotating it with a message. It returns nil when err is nil.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, err: errors.Wrapf(err, format, args...)}
}

// KindOf returns the outermost classification of err, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

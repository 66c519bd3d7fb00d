package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind classifies an error into one of the failure categories the session
// code branches on. Spawn and IO failures end the session; channel and
// timeout failures only affect the assistant exchange; parse failures only
// degrade reconstructed context.
type Kind string

const (
	KindSpawn   Kind = "spawn"
	KindIO      Kind = "io"
	KindChannel Kind = "channel"
	KindTimeout Kind = "timeout"
	KindParse   Kind = "parse"
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

type kinded struct {
	kind Kind
	err  error
}

func (k *kinded) Error() string { return string(k.kind) + ": " + k.err.Error() }
func (k *kinded) Unwrap() error { return k.err }

// WithKind attaches a Kind to err. Returns nil if err is nil.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kinded{kind: kind, err: err}
}

// Kindf creates a new kinded error with caller information.
func Kindf(kind Kind, format string, a ...interface{}) error {
	return &kinded{kind: kind, err: fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))}
}

// Is reports whether any error in err's chain carries the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if k, ok := err.(*kinded); ok && k.kind == kind {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

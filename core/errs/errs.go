// Package errs defines the failure taxonomy shared by the container, codec and
// rewrite layers. Every error returned by those layers matches exactly one of
// the sentinels below with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedContainer covers bad magic, unsupported version and
	// inconsistent lacing. The file is left untouched.
	ErrMalformedContainer = errors.New("malformed container")

	// ErrIntegrity reports a page whose stored CRC does not match its bytes.
	ErrIntegrity = errors.New("page CRC mismatch")

	// ErrTruncatedStream means fewer bytes were available than a length
	// field promised.
	ErrTruncatedStream = errors.New("truncated stream")

	// ErrIO wraps filesystem failures, including short reads while moving
	// file bytes.
	ErrIO = errors.New("i/o failure")

	// ErrSaveCorruption is raised after the file was already mutated and the
	// rewritten region does not parse back.
	ErrSaveCorruption = errors.New("save left file corrupted")
)

// PageError attaches the position of a failure to one of the sentinels.
type PageError struct {
	Kind   error  // one of the sentinels above
	Offset int64  // byte offset of the page (or field) in the file, -1 if unknown
	Seq    uint32 // page sequence number, valid when HasSeq is set
	HasSeq bool
	Msg    string
	Err    error // underlying cause, may be nil
}

func (e *PageError) Error() string {
	s := e.Kind.Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Offset >= 0 {
		s += fmt.Sprintf(" (offset %d", e.Offset)
		if e.HasSeq {
			s += fmt.Sprintf(", page %d", e.Seq)
		}
		s += ")"
	} else if e.HasSeq {
		s += fmt.Sprintf(" (page %d)", e.Seq)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the taxonomy kind and the underlying cause.
func (e *PageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// At builds a PageError of the given kind at a byte offset.
func At(kind error, offset int64, format string, args ...any) *PageError {
	return &PageError{Kind: kind, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Malformed is shorthand for a position-less ErrMalformedContainer.
func Malformed(format string, args ...any) error {
	return At(ErrMalformedContainer, -1, format, args...)
}

// Truncated is shorthand for a position-less ErrTruncatedStream.
func Truncated(format string, args ...any) error {
	return At(ErrTruncatedStream, -1, format, args...)
}

// IO wraps a filesystem error as ErrIO.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PageError{Kind: ErrIO, Offset: -1, Msg: op, Err: err}
}

// WithPage returns a copy of err annotated with a page sequence number and
// offset when err is a *PageError without position; other errors are wrapped.
func WithPage(err error, offset int64, seq uint32) error {
	if err == nil {
		return nil
	}
	var pe *PageError
	if errors.As(err, &pe) {
		cp := *pe
		if cp.Offset < 0 {
			cp.Offset = offset
		}
		if !cp.HasSeq {
			cp.Seq, cp.HasSeq = seq, true
		}
		return &cp
	}
	return fmt.Errorf("page %d at offset %d: %w", seq, offset, err)
}

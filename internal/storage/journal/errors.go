package journal

import (
	"errors"
	"fmt"
)

// Error is a journal failure with a stable error code.
//
// Two errors are equal under errors.Is when their codes match, so callers can
// compare against the sentinels below regardless of details or cause.
type Error struct {
	Code    string
	Message string
	Details string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of the error with details attached.
func (e *Error) WithDetails(format string, args ...any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: fmt.Sprintf(format, args...),
		Cause:   e.Cause,
	}
}

// Wrap returns a copy of the error wrapping cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

var (
	// ErrFormat indicates the file is not a journal (bad or truncated magic).
	ErrFormat = &Error{Code: "TK-FMT-4000", Message: "not a journal file"}

	// ErrVersion indicates a journal written by an unsupported format version.
	ErrVersion = &Error{Code: "TK-FMT-4001", Message: "unsupported journal version"}

	// ErrCorrupted indicates a record failed its CRC check or is truncated.
	ErrCorrupted = &Error{Code: "TK-REC-5000", Message: "journal record corrupted"}

	// ErrEncoding indicates a key or value cannot be represented on disk.
	ErrEncoding = &Error{Code: "TK-ENC-4000", Message: "record cannot be encoded"}

	// ErrLockContention is returned by non-blocking lock attempts.
	ErrLockContention = &Error{Code: "TK-LCK-4090", Message: "journal is locked by another process"}

	// ErrBroken indicates the background writer gave up; it is sticky.
	ErrBroken = &Error{Code: "TK-JNL-5030", Message: "journal writer failed"}

	// ErrClosed indicates an operation on a closed journal.
	ErrClosed = &Error{Code: "TK-JNL-4100", Message: "journal closed"}
)

// IsCorruption reports whether err signals on-disk damage (format, version or CRC).
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorrupted) || errors.Is(err, ErrFormat) || errors.Is(err, ErrVersion)
}

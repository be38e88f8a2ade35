package errs

import (
	"errors"
	"fmt"
)

// Kind classifies every error the compression pipeline can surface.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnsupportedFormat
	KindInvalidQuality
	KindBackendUnavailable
	KindBackendExecution
	KindIO
	KindTimeout
)

// String returns the wire name of the kind, used in JSON error bodies
// and log fields.
func (k Kind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "UnsupportedFormat"
	case KindInvalidQuality:
		return "InvalidQuality"
	case KindBackendUnavailable:
		return "BackendUnavailable"
	case KindBackendExecution:
		return "BackendExecutionError"
	case KindIO:
		return "IOError"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// ExitCode maps the kind to the CLI process exit code.
func (k Kind) ExitCode() int {
	switch k {
	case KindUnsupportedFormat:
		return 1
	case KindInvalidQuality:
		return 2
	case KindBackendUnavailable:
		return 3
	case KindBackendExecution:
		return 4
	case KindIO, KindTimeout:
		return 5
	default:
		return 1
	}
}

// Error is a classified error. Diagnostic carries raw backend output
// (stderr) when available and is preserved verbatim for operators.
type Error struct {
	Kind       Kind
	Message    string
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Diagnostic)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, unwrapping as needed.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Package pkgerr defines the error taxonomy shared by every install and
// removal stage.
//
// Each failure carries a Kind. Callers classify errors with errors.Is against
// the exported sentinels (ErrIntegrity, ErrFetch, ...) or with the Fatal and
// Retryable helpers; the wrapped cause stays reachable through errors.As.
package pkgerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnsupportedPlatform
	KindFetch
	KindIntegrity
	KindExtraction
	KindMissingExecutable
	KindIntegrationWarning
	KindFilesystem
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnsupportedPlatform:
		return "unsupported platform"
	case KindFetch:
		return "fetch failed"
	case KindIntegrity:
		return "integrity check failed"
	case KindExtraction:
		return "extraction failed"
	case KindMissingExecutable:
		return "executable not found"
	case KindIntegrationWarning:
		return "integration warning"
	case KindFilesystem:
		return "filesystem error"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is classification.
var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrFetch               = errors.New("fetch failed")
	ErrIntegrity           = errors.New("integrity check failed")
	ErrExtraction          = errors.New("extraction failed")
	ErrMissingExecutable   = errors.New("executable not found")
	ErrIntegrationWarning  = errors.New("integration warning")
	ErrFilesystem          = errors.New("filesystem error")
)

var sentinels = map[Kind]error{
	KindUnsupportedPlatform: ErrUnsupportedPlatform,
	KindFetch:               ErrFetch,
	KindIntegrity:           ErrIntegrity,
	KindExtraction:          ErrExtraction,
	KindMissingExecutable:   ErrMissingExecutable,
	KindIntegrationWarning:  ErrIntegrationWarning,
	KindFilesystem:          ErrFilesystem,
}

// Error is a classified failure of a single operation.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "fetch", "extract"
	Path string // path or URL the failure concerns (may be empty)
	Err  error  // underlying cause (may be nil)

	timeout bool
}

// Error formats as "op: kind (path): cause".
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.timeout {
		b.WriteString(" (timeout)")
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %q", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// Timeout reports whether a fetch failed because its deadline passed.
func (e *Error) Timeout() bool {
	return e.timeout
}

// New creates a classified error.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Newf creates a classified error whose cause is a formatted message.
func Newf(kind Kind, op, path, format string, args ...interface{}) *Error {
	return New(kind, op, path, fmt.Errorf(format, args...))
}

// Fetch classifies a network failure, marking it as a timeout when the cause
// is a passed deadline.
func Fetch(op, url string, err error) *Error {
	e := New(KindFetch, op, url, err)
	if errors.Is(err, context.DeadlineExceeded) {
		e.timeout = true
	} else {
		var te interface{ Timeout() bool }
		if errors.As(err, &te) && te.Timeout() {
			e.timeout = true
		}
	}
	return e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTimeout reports whether err is a fetch that ran out of time.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.timeout
}

// Retryable reports whether a caller may retry the operation with backoff.
// Only fetch failures qualify; integrity failures never do.
func Retryable(err error) bool {
	return KindOf(err) == KindFetch
}

// Fatal reports whether err must abort the current operation. Integration
// warnings are the only non-fatal kind.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindIntegrationWarning
}

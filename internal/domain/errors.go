package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// Sentinels for errors.Is matching of the typed errors below
var (
	ErrParse             = errors.New("parse error")
	ErrUnsupportedSource = errors.New("unsupported source")
	ErrFetch             = errors.New("fetch error")
	ErrNotFound          = errors.New("not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrWrite             = errors.New("write error")
	ErrSchema            = errors.New("schema error")
)

// ParseError reports input that could not be understood, such as a
// malformed entries file
type ParseError struct {
	Source string
	Line   int
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("cannot parse %s", e.Source)
	if e.Line > 0 {
		msg += fmt.Sprintf(" (line %d)", e.Line)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }
func (e *ParseError) Unwrap() error        { return e.Err }

// UnsupportedSourceError reports a recognized but unsupported input, or
// input on an unknown domain
type UnsupportedSourceError struct {
	Input  string
	Reason string
}

func (e *UnsupportedSourceError) Error() string {
	return fmt.Sprintf("unsupported source %q: %s", e.Input, e.Reason)
}

func (e *UnsupportedSourceError) Is(target error) bool { return target == ErrUnsupportedSource }

// FetchError reports a network or server failure. Retryable marks
// transient conditions: timeouts, resets, 429 and 5xx.
type FetchError struct {
	URL        string
	Status     int
	Retryable  bool
	RetryDelay time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s failed", e.URL)
	}
}

func (e *FetchError) Is(target error) bool { return target == ErrFetch }
func (e *FetchError) Unwrap() error        { return e.Err }

// RetryAfter exposes the server requested delay to the retry policy
func (e *FetchError) RetryAfter() time.Duration { return e.RetryDelay }

// NotFoundError reports a 404 for a title, listing or file
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string        { return fmt.Sprintf("not found: %s", e.URL) }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AccessDeniedError reports a 401/403 or an API "errors" payload
type AccessDeniedError struct {
	URL    string
	Reason string
}

func (e *AccessDeniedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("access denied: %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("access denied: %s", e.URL)
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// WriteError reports a local or remote storage failure. It is never retried.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string        { return fmt.Sprintf("write %s: %v", e.Key, e.Err) }
func (e *WriteError) Is(target error) bool { return target == ErrWrite }
func (e *WriteError) Unwrap() error        { return e.Err }

// SchemaError reports an API record missing a mandatory field
type SchemaError struct {
	Record string
	Field  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s is missing mandatory field %q", e.Record, e.Field)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// IsTransient reports whether err is worth retrying: retryable fetch
// errors, timeouts, connection resets and truncated bodies.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.Retryable {
		return true
	}

	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrWrite) || errors.Is(err, ErrSchema) {
		return false
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsSkippable reports errors that mean a title is unavailable rather than
// broken: it no longer exists or we may not access it.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied)
}

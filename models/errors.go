package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies pipeline failures so callers can react without string matching.
type ErrorKind string

const (
	KindExtraction      ErrorKind = "extraction_failure"
	KindOCRSkipped      ErrorKind = "ocr_skipped"
	KindEmptyCorpus     ErrorKind = "empty_corpus"
	KindRateLimited     ErrorKind = "rate_limited"
	KindProviderFailure ErrorKind = "provider_failure"
	KindProviderTimeout ErrorKind = "provider_timeout"
	KindParseFailure    ErrorKind = "parse_failure"
)

// Error is a typed pipeline failure. Reason is safe to show to the user; Raw holds the
// unparseable model output for parse failures. RetryAfter is set on cooldown denials.
type Error struct {
	Kind       ErrorKind
	Reason     string
	Raw        string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed error, optionally wrapping a cause.
func NewError(kind ErrorKind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ReasonOf returns the user-facing reason of a typed error, or err.Error() otherwise.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}

// RetryAfterOf returns how long to wait before err's request may be retried, or 0.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

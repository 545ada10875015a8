// Package errors provides structured error kinds for the anomaly pipeline.
// Every outbound call and message handler classifies its failure into one of
// the kinds below so callers can branch on propagation policy instead of
// string-matching error messages.
package errors

import (
	"errors"
	"fmt"
)

// Error kinds used across the pipeline's error handling design.
const (
	KindTransport             = "transport"
	KindParse                 = "parse"
	KindSchema                = "schema"
	KindPolicyDenied          = "policy_denied"
	KindRateLimited           = "rate_limited"
	KindDeadlineExceeded      = "deadline_exceeded"
	KindDependencyUnavailable = "dependency_unavailable"
	KindInternal              = "internal"
)

// PipelineError is a structured error carrying a kind, the failing operation,
// and an optional wrapped cause.
type PipelineError struct {
	Kind    string
	Op      string
	Err     error
	Message string
}

func (e *PipelineError) Error() string {
	if e.Message != "" {
		if e.Err == nil || e.Err.Error() == e.Message {
			return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches on kind, and on op when the target specifies one.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Op == "" || e.Op == t.Op)
}

// Wrap wraps err with an operation and kind.
func Wrap(err error, kind, op, message string) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Op: op, Err: err, Message: message}
}

func Wrapf(err error, kind, op, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Op: op, Err: err, Message: fmt.Sprintf(format, args...)}
}

func New(kind, op, message string) error {
	return &PipelineError{Kind: kind, Op: op, Err: errors.New(message), Message: message}
}

func Newf(kind, op, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return &PipelineError{Kind: kind, Op: op, Err: errors.New(msg), Message: msg}
}

// IsKind reports whether err is a PipelineError of the given kind.
func IsKind(err error, kind string) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// GetKind extracts the kind, or "" if err is not a PipelineError.
func GetKind(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether the propagation policy calls for a capped
// local retry before falling back to log-and-drop/degrade.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch GetKind(err) {
	case KindTransport, KindDeadlineExceeded:
		return true
	default:
		return false
	}
}

// Degrades reports whether the kind should trigger graceful degradation
// (fallback path + context_sources annotation) rather than dropping the unit
// of work outright.
func Degrades(err error) bool {
	return GetKind(err) == KindDependencyUnavailable
}

// Convenience constructors, one per kind.

func Transport(op string, err error) error {
	return Wrap(err, KindTransport, op, "")
}

func Transportf(op string, err error, format string, args ...interface{}) error {
	return Wrapf(err, KindTransport, op, format, args...)
}

func Parse(op string, err error) error {
	return Wrap(err, KindParse, op, "")
}

func Schema(op, message string) error {
	return New(KindSchema, op, message)
}

func Schemaf(op, format string, args ...interface{}) error {
	return Newf(KindSchema, op, format, args...)
}

func PolicyDenied(op, reason string) error {
	return New(KindPolicyDenied, op, reason)
}

func RateLimited(op, reason string) error {
	return New(KindRateLimited, op, reason)
}

func DeadlineExceeded(op string, err error) error {
	return Wrap(err, KindDeadlineExceeded, op, "")
}

func DependencyUnavailable(op string, err error) error {
	return Wrap(err, KindDependencyUnavailable, op, "")
}

func Internal(op string, err error) error {
	return Wrap(err, KindInternal, op, "")
}

func Internalf(op string, err error, format string, args ...interface{}) error {
	return Wrapf(err, KindInternal, op, format, args...)
}

package runner

import (
	"errors"
	"fmt"
)

// ErrorKind classifies backend failures so the orchestrator can decide
// between retry, backoff and surfacing.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindExitNonZero ErrorKind = "exit_nonzero"
	KindParse       ErrorKind = "parse_error"
	KindNetwork     ErrorKind = "network"
	KindRateLimited ErrorKind = "rate_limited"
)

// Error is the only error type runners return for backend failures. The
// rendered string starts with the stable runner_error prefix.
type Error struct {
	Kind    ErrorKind
	Backend string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("runner_error: %s: %s: %s", e.Backend, e.Kind, e.Detail)
	}
	return fmt.Sprintf("runner_error: %s: %s", e.Backend, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(backend string, kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Backend: backend,
		Detail:  fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf extracts the runner error kind, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

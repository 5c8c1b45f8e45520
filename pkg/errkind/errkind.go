// Package errkind defines the stable error kinds the runtime surfaces
// outward. The string form of a Kind is part of the external contract:
// gateways, the web UI, and persisted audit rows all match on it.
package errkind

import (
	"errors"
	"fmt"
)

type Kind string

const (
	NoSession                   Kind = "no_session"
	SessionNotFound             Kind = "session_not_found"
	UnknownTool                 Kind = "unknown_tool"
	PermissionDenied            Kind = "permission_denied"
	RateLimited                 Kind = "rate_limited"
	RequestTimeout              Kind = "request_timeout"
	QueueFull                   Kind = "queue_full"
	Cancelled                   Kind = "cancelled"
	ScopeCreep                  Kind = "scope_creep"
	FlatteryRejected            Kind = "flattery_rejected"
	MaxRetriesReached           Kind = "max_retries_reached"
	DelegationBlockedDepth      Kind = "delegation_blocked_depth"
	DelegationBlockedCycle      Kind = "delegation_blocked_cycle"
	DelegationBlockedChainLimit Kind = "delegation_blocked_chain_length"
	DelegationBlockedCooldown   Kind = "delegation_blocked_cooldown"
	RunnerError                 Kind = "runner_error"
)

// Error pairs a stable Kind with free-form detail. Detail is for logs and
// diagnostics only; callers that need to branch must use the Kind.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// New creates an Error with the given kind and formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, unwrapping as needed.
// Returns "" when err carries no Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

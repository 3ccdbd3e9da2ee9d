package domain

import "errors"

// Sentinel errors for the coordinator error taxonomy. Callers match with
// errors.Is; internal transport failures are never surfaced directly.
var (
	// ErrAuth is returned when a registration credential is missing or wrong.
	ErrAuth = errors.New("authentication failed")

	// ErrNodeUnavailable is returned when no active session exists for the
	// target node, or the session was lost while a command was pending.
	ErrNodeUnavailable = errors.New("node unavailable")

	// ErrCommandTimeout is returned when a command was not resolved within
	// its deadline.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrCommandCancelled is returned on a handle whose command was
	// cancelled by the caller before resolution.
	ErrCommandCancelled = errors.New("command cancelled")

	// ErrCommandDenied is returned when the capability policy rejects a
	// command type for the target node.
	ErrCommandDenied = errors.New("command denied by policy")

	// ErrAgentLimit is returned when registering would exceed the
	// configured concurrent agent bound.
	ErrAgentLimit = errors.New("agent limit reached")

	// ErrMalformedMessage is returned for envelopes that violate the wire
	// schema. The message is dropped.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrNotFound is returned for lookups of unknown nodes, subjects or
	// correlation ids.
	ErrNotFound = errors.New("not found")
)

package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the store and service layers.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrApprovalConflict is returned when deciding an already-resolved
	// Approval. The caller must re-fetch state; the original resolution is
	// never overwritten.
	ErrApprovalConflict = errors.New("approval already resolved")

	// ErrRunTerminal is returned when attempting to mutate a run that has
	// already reached success or failed.
	ErrRunTerminal = errors.New("workflow run is terminal")

	// ErrInvalid marks a request the caller can fix: missing fields,
	// malformed graphs, unknown enum values.
	ErrInvalid = errors.New("invalid request")
)

// CycleError is a structural DAG error: after removing every resolvable node,
// the named nodes remain with unmet dependencies. It is fatal at validation
// time; no node executes.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving nodes: %s", strings.Join(e.Nodes, ", "))
}

// TemplateResolutionError marks an input template placeholder that could not
// be resolved against the run context or prior node outputs. It fails the one
// NodeRun it belongs to.
type TemplateResolutionError struct {
	Placeholder string
}

func (e *TemplateResolutionError) Error() string {
	return fmt.Sprintf("unresolved template placeholder %q", e.Placeholder)
}

// ExecutionError captures a sandbox failure: non-zero exit or timeout.
type ExecutionError struct {
	AgentID  string
	ExitCode int
	Message  string
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("agent %s failed (exit %d): %s", e.AgentID, e.ExitCode, e.Message)
	}
	return fmt.Sprintf("agent %s failed with exit code %d", e.AgentID, e.ExitCode)
}

// SchemaValidationError marks agent output that does not satisfy the agent's
// declared output schema. Kept distinct from ExecutionError so the two show
// up separately in run detail and events.
type SchemaValidationError struct {
	AgentID string
	Detail  string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("agent %s output failed schema validation: %s", e.AgentID, e.Detail)
}

// BusUnavailableError wraps a relay failure. Publication to the ledger is
// authoritative; this error is logged by the bridge and never propagated to
// the component that produced the originating transition.
type BusUnavailableError struct {
	Err error
}

func (e *BusUnavailableError) Error() string {
	return fmt.Sprintf("message bus unavailable: %v", e.Err)
}

func (e *BusUnavailableError) Unwrap() error { return e.Err }

// Package orchestrator coordinates automation agents against a stream of
// instructions: admission and queueing, candidate selection, strategy
// execution, lifecycle tracking, and graceful shutdown.
package orchestrator

import "errors"

// Error kinds surfaced by the orchestrator. Agent-level failures are
// recovered inside the strategy engine; only ErrTaskTimeout,
// ErrAgentsUnavailable, and ErrShuttingDown reach callers directly.
var (
	// ErrAgentsUnavailable indicates the candidate set was empty or every
	// candidate was unhealthy.
	ErrAgentsUnavailable = errors.New("no agents available")
	// ErrAgentExecution indicates an agent call returned a failure.
	ErrAgentExecution = errors.New("agent execution failed")
	// ErrAgentTimeout indicates an agent call exceeded its per-call budget.
	ErrAgentTimeout = errors.New("agent call timed out")
	// ErrTaskTimeout indicates the caller's wait elapsed while the task
	// was still in flight.
	ErrTaskTimeout = errors.New("task timed out")
	// ErrAllAgentsFailed indicates every candidate attempt failed.
	ErrAllAgentsFailed = errors.New("all agents failed")
	// ErrTaskNotFound indicates the task ID is unknown.
	ErrTaskNotFound = errors.New("task not found")
	// ErrShuttingDown indicates the orchestrator no longer accepts work.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

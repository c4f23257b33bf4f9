package models

import "time"

// Strategy selects how a candidate set is turned into a single result.
type Strategy string

const (
	// StrategySequential tries candidates in order, stopping at the first success.
	StrategySequential Strategy = "sequential"
	// StrategyParallel dispatches to every candidate at once and keeps the best.
	StrategyParallel Strategy = "parallel"
	// StrategyAdaptive runs parallel first and falls back to sequential on failure.
	StrategyAdaptive Strategy = "adaptive"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyAdaptive:
		return true
	default:
		return false
	}
}

// Attempt records a single agent invocation made while coordinating a task.
type Attempt struct {
	// AgentName is the registry name of the invoked agent.
	AgentName string `json:"agent_name"`
	// Success indicates whether the invocation produced a usable result.
	Success bool `json:"success"`
	// Confidence is the agent's self-reported quality signal in [0,1].
	Confidence float64 `json:"confidence"`
	// Duration is how long the invocation took, including retries.
	Duration time.Duration `json:"duration"`
	// Error holds the failure message for unsuccessful attempts.
	Error string `json:"error,omitempty"`
}

// CoordinationResult is the per-task outcome produced by the strategy engine.
type CoordinationResult struct {
	// TaskID is the task this result belongs to.
	TaskID string `json:"task_id"`
	// Success is true if any attempt succeeded.
	Success bool `json:"success"`
	// Attempts lists every agent invocation in the order it was made.
	Attempts []Attempt `json:"attempts"`
	// AuthoritativeAgent names the attempt chosen to represent the outcome.
	AuthoritativeAgent string `json:"authoritative_agent,omitempty"`
	// Data is the payload returned by the authoritative agent.
	Data any `json:"data,omitempty"`
	// Strategy is the coordination strategy that produced this result.
	Strategy Strategy `json:"strategy"`
	// Duration is the total coordination time for the task.
	Duration time.Duration `json:"duration"`
}

// Metric is an immutable per-task execution statistic.
// Metrics are append-only and never mutated after insertion.
type Metric struct {
	// TaskID is the task this metric describes.
	TaskID string `json:"task_id"`
	// Timestamp is when the task reached a terminal state.
	Timestamp time.Time `json:"timestamp"`
	// Success indicates the terminal state was completed rather than failed.
	Success bool `json:"success"`
	// Duration is the total coordination time.
	Duration time.Duration `json:"duration"`
	// Agents lists the agents involved, in attempt order.
	Agents []string `json:"agents"`
}

package models

import "time"

// TaskStatus represents the current state of a submitted task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued but not yet dispatched.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task has been handed to agents.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates at least one agent produced a usable result.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task ended without a usable result.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for states a task can never leave.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is an immutable unit of work submitted to the orchestrator.
type Task struct {
	// ID is the unique identifier for this task. IDs are never reused.
	ID string `json:"id"`
	// SessionID identifies the owning automation session.
	SessionID string `json:"session_id"`
	// Instruction is the free-form text the agents act on.
	Instruction string `json:"instruction"`
	// Context carries optional structured data alongside the instruction.
	Context map[string]any `json:"context,omitempty"`
	// Priority orders dequeuing; higher values are dispatched first.
	Priority int `json:"priority"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
}

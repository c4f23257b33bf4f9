// Package agent defines the contract every automation backend must
// implement to be orchestrated, plus a scripted implementation used by
// tests and demo wiring. The orchestrator calls only this interface and
// never inspects backend-internal state.
package agent

import (
	"context"
	"time"

	"github.com/mwhitby/drover/pkg/models"
)

// Result is the outcome of a single Execute call.
type Result struct {
	// Success indicates the backend believes the instruction was carried out.
	Success bool `json:"success"`
	// Data is the backend-specific payload (extracted content, screenshot
	// reference, generated code, ...). Opaque to the orchestrator.
	Data any `json:"data,omitempty"`
	// Confidence is a quality signal in [0,1]; higher means preferred.
	Confidence float64 `json:"confidence"`
	// Duration is the backend-measured execution time.
	Duration time.Duration `json:"duration"`
}

// Agent is the uniform capability wrapper for one automation backend.
//
// Execute must honor ctx cancellation: when the orchestrator times a call
// out it cancels the context and stops waiting. Backends that ignore the
// context keep running in the background; their late results are discarded.
type Agent interface {
	// Initialize prepares the backend for use. Called once at registration.
	Initialize(ctx context.Context) error
	// Execute runs one task and reports the outcome.
	Execute(ctx context.Context, task *models.Task) (*Result, error)
	// HealthCheck reports whether the backend can currently accept work.
	HealthCheck(ctx context.Context) bool
	// Capabilities returns the tags the backend declares.
	Capabilities() []models.Capability
	// Status returns free-form diagnostics for operator visibility.
	Status() map[string]any
	// Close releases backend resources. Called during shutdown.
	Close() error
}

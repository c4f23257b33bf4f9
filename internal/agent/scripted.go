package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mwhitby/drover/pkg/models"
)

// ScriptedAgent is a deterministic Agent used by tests and the serve
// command's demo wiring. It succeeds or fails on a fixed script instead
// of driving a real backend.
type ScriptedAgent struct {
	// Name is returned in diagnostics and used for registration.
	Name string
	// Caps are the capabilities the agent declares.
	Caps []models.Capability
	// Confidence is reported on every successful execution.
	Confidence float64
	// Latency is slept (context permitting) before each execution returns.
	Latency time.Duration
	// FailFirst makes the first N executions fail before succeeding.
	FailFirst int
	// AlwaysFail makes every execution fail.
	AlwaysFail bool
	// Hang makes Execute block until the context is cancelled.
	Hang bool

	calls     atomic.Int64
	healthy   atomic.Bool
	initOnce  sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewScriptedAgent returns a healthy scripted agent with the given name,
// capabilities, and confidence.
func NewScriptedAgent(name string, confidence float64, caps ...models.Capability) *ScriptedAgent {
	a := &ScriptedAgent{Name: name, Caps: caps, Confidence: confidence}
	a.healthy.Store(true)
	return a
}

// Initialize implements Agent.
func (a *ScriptedAgent) Initialize(ctx context.Context) error {
	a.initOnce.Do(func() { a.healthy.Store(true) })
	return ctx.Err()
}

// Execute implements Agent, following the configured script.
func (a *ScriptedAgent) Execute(ctx context.Context, task *models.Task) (*Result, error) {
	call := a.calls.Add(1)
	start := time.Now()

	if a.Hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if a.Latency > 0 {
		select {
		case <-time.After(a.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if a.AlwaysFail || int(call) <= a.FailFirst {
		return nil, fmt.Errorf("%s: scripted failure on call %d", a.Name, call)
	}

	return &Result{
		Success:    true,
		Data:       map[string]any{"agent": a.Name, "instruction": task.Instruction},
		Confidence: a.Confidence,
		Duration:   time.Since(start),
	}, nil
}

// HealthCheck implements Agent.
func (a *ScriptedAgent) HealthCheck(ctx context.Context) bool {
	return a.healthy.Load() && !a.closed.Load()
}

// SetHealthy overrides the health check result.
func (a *ScriptedAgent) SetHealthy(healthy bool) {
	a.healthy.Store(healthy)
}

// Capabilities implements Agent.
func (a *ScriptedAgent) Capabilities() []models.Capability {
	return a.Caps
}

// Status implements Agent.
func (a *ScriptedAgent) Status() map[string]any {
	return map[string]any{
		"name":    a.Name,
		"calls":   a.calls.Load(),
		"healthy": a.healthy.Load(),
		"closed":  a.closed.Load(),
	}
}

// Close implements Agent.
func (a *ScriptedAgent) Close() error {
	a.closeOnce.Do(func() { a.closed.Store(true) })
	return nil
}

// Closed reports whether Close has been called.
func (a *ScriptedAgent) Closed() bool {
	return a.closed.Load()
}

// Calls returns how many times Execute has been invoked.
func (a *ScriptedAgent) Calls() int {
	return int(a.calls.Load())
}

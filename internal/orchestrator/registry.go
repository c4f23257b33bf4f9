package orchestrator

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mwhitby/drover/internal/agent"
	"github.com/mwhitby/drover/pkg/models"
)

// successRateAlpha weights the newest outcome in the rolling success rate.
const successRateAlpha = 0.2

// registryEntry pairs a descriptor with its adapter and bookkeeping.
type registryEntry struct {
	desc    models.AgentDescriptor
	adapter agent.Agent
	// order preserves registration order for priority ties.
	order int
	// attempts counts reported executions; zero means no history yet.
	attempts int
}

// Registry holds every known agent adapter, its declared capabilities,
// and its health state. It provides thread-safe registration, lookup,
// and health tracking.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	nextOrd int
	logger  *DebugLogger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *DebugLogger) *Registry {
	if logger == nil {
		logger = NopLogger()
	}
	return &Registry{
		entries: make(map[string]*registryEntry),
		logger:  logger,
	}
}

// Register adds an agent under desc.Name. Registration is idempotent by
// name: re-registering replaces the adapter but preserves the rolling
// success-rate history. Capabilities default to the adapter's declared
// set when the descriptor leaves them empty. Newly registered agents
// start available and healthy; the health monitor adjusts from there.
func (r *Registry) Register(desc models.AgentDescriptor, adapter agent.Agent) error {
	if desc.Name == "" {
		return fmt.Errorf("register agent: name is required")
	}
	if adapter == nil {
		return fmt.Errorf("register agent %s: adapter is required", desc.Name)
	}
	if len(desc.Capabilities) == 0 {
		desc.Capabilities = adapter.Capabilities()
	}
	desc.Available = true
	desc.Healthy = true

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[desc.Name]; ok {
		desc.SuccessRate = existing.desc.SuccessRate
		desc.LastUsed = existing.desc.LastUsed
		existing.desc = desc
		existing.adapter = adapter
		r.logger.Log("[registry] re-registered agent %s (history preserved, %d attempts)", desc.Name, existing.attempts)
		return nil
	}

	r.entries[desc.Name] = &registryEntry{
		desc:    desc,
		adapter: adapter,
		order:   r.nextOrd,
	}
	r.nextOrd++
	r.logger.Log("[registry] registered agent %s priority=%d caps=%v", desc.Name, desc.Priority, desc.Capabilities)
	return nil
}

// Get returns a copy of the descriptor for the named agent.
func (r *Registry) Get(name string) (models.AgentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return models.AgentDescriptor{}, false
	}
	return e.desc, true
}

// Adapter returns the adapter registered under name. The strategy engine
// resolves adapters at dispatch time; a dispatch that already holds an
// adapter keeps running even if the agent is deregistered afterwards.
func (r *Registry) Adapter(name string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.adapter, true
}

// Adapters returns a snapshot of registered adapters keyed by name.
// Used by the health monitor.
func (r *Registry) Adapters() map[string]agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]agent.Agent, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.adapter
	}
	return out
}

// ListAvailable returns descriptors for every agent that is both
// available and healthy, ordered by priority (highest first) with ties
// broken by registration order.
func (r *Registry) ListAvailable() []models.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]*registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.desc.Available && e.desc.Healthy {
			candidates = append(candidates, e)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].desc.Priority != candidates[j].desc.Priority {
			return candidates[i].desc.Priority > candidates[j].desc.Priority
		}
		return candidates[i].order < candidates[j].order
	})

	out := make([]models.AgentDescriptor, len(candidates))
	for i, e := range candidates {
		out[i] = e.desc
	}
	return out
}

// SetHealth updates the health flag for the named agent.
// Unknown names are ignored.
func (r *Registry) SetHealth(name string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok && e.desc.Healthy != healthy {
		e.desc.Healthy = healthy
		r.logger.Log("[registry] agent %s healthy=%v", name, healthy)
	}
}

// SetAvailable updates the availability flag for the named agent.
func (r *Registry) SetAvailable(name string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.desc.Available = available
	}
}

// Deregister removes the named agent. In-flight executions already
// dispatched to the adapter finish on their own; new selections never
// choose it again. The adapter is not closed here so those executions
// can complete; shutdown closes whatever is still registered.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		delete(r.entries, name)
		r.logger.Log("[registry] deregistered agent %s", name)
	}
}

// ReportResult folds one execution outcome into the agent's rolling
// success rate and stamps LastUsed.
func (r *Registry) ReportResult(name string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if e.attempts == 0 {
		e.desc.SuccessRate = outcome
	} else {
		e.desc.SuccessRate = e.desc.SuccessRate*(1-successRateAlpha) + outcome*successRateAlpha
	}
	e.attempts++
	e.desc.LastUsed = time.Now()
}

// Statuses returns the externally visible health summary for all agents.
func (r *Registry) Statuses() map[string]models.AgentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.AgentStatus, len(r.entries))
	for name, e := range r.entries {
		caps := make([]models.Capability, len(e.desc.Capabilities))
		copy(caps, e.desc.Capabilities)
		out[name] = models.AgentStatus{Healthy: e.desc.Healthy, Capabilities: caps}
	}
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CloseAll tears down every registered adapter and clears the registry.
// Individual close failures are logged, never propagated: a misbehaving
// backend must not abort shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make(map[string]agent.Agent, len(r.entries))
	for name, e := range r.entries {
		entries[name] = e.adapter
	}
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for name, adapter := range entries {
		if err := adapter.Close(); err != nil {
			log.Printf("[registry] close agent %s: %v", name, err)
			r.logger.Log("[registry] close agent %s failed: %v", name, err)
		}
	}
}

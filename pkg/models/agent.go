package models

import "time"

// Capability is a tag describing something an automation backend can do.
type Capability string

const (
	// CapabilityVisual covers screenshot capture and visual analysis.
	CapabilityVisual Capability = "visual"
	// CapabilityExtraction covers HTML and structured data extraction.
	CapabilityExtraction Capability = "extraction"
	// CapabilityNavigation covers page loads, links, and history moves.
	CapabilityNavigation Capability = "navigation"
	// CapabilityForm covers filling and submitting forms.
	CapabilityForm Capability = "form"
	// CapabilityChat covers conversational instruction handling.
	CapabilityChat Capability = "chat"
	// CapabilityInteraction covers clicking, typing, and scrolling.
	CapabilityInteraction Capability = "interaction"
	// CapabilityWorkflow covers multi-step scripted sequences.
	CapabilityWorkflow Capability = "workflow"
	// CapabilityCodegen covers backends that emit replayable automation code.
	CapabilityCodegen Capability = "codegen"
)

// AgentDescriptor is the registry's view of one automation backend.
// It is owned by the registry; callers receive copies.
type AgentDescriptor struct {
	// Name uniquely identifies the agent within the registry.
	Name string `json:"name"`
	// Capabilities are the tags the agent declared at registration.
	Capabilities []Capability `json:"capabilities"`
	// Priority orders candidates; higher values are preferred.
	Priority int `json:"priority"`
	// Available is false while the agent is administratively disabled.
	Available bool `json:"available"`
	// Healthy reflects the most recent health check.
	Healthy bool `json:"healthy"`
	// LastUsed is when the agent was last dispatched a task.
	LastUsed time.Time `json:"last_used,omitempty"`
	// SuccessRate is the rolling fraction of successful executions.
	SuccessRate float64 `json:"success_rate"`
}

// HasCapability returns true if the descriptor declares the given tag.
func (d *AgentDescriptor) HasCapability(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// AgentStatus is the externally visible health summary for one agent.
type AgentStatus struct {
	// Healthy reflects the most recent health check.
	Healthy bool `json:"healthy"`
	// Capabilities are the declared capability tags.
	Capabilities []Capability `json:"capabilities"`
}

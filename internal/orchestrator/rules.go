package orchestrator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mwhitby/drover/pkg/models"
)

// CapabilityRule maps trigger terms found in an instruction to the
// capability tags an agent must declare to be a candidate.
type CapabilityRule struct {
	// Triggers are matched case-insensitively as substrings of the instruction.
	Triggers []string `yaml:"triggers"`
	// Capabilities are the tags activated when any trigger matches.
	Capabilities []models.Capability `yaml:"capabilities"`
}

// RuleSet is the full trigger table plus the fallback used when no rule fires.
type RuleSet struct {
	// Rules is the ordered trigger table.
	Rules []CapabilityRule `yaml:"rules"`
	// DefaultCapabilities select the fallback candidate set when no rule
	// triggers. Empty means "every available agent".
	DefaultCapabilities []models.Capability `yaml:"default_capabilities"`
}

// DefaultRuleSet is the built-in trigger table. It covers the verbs the
// supported automation backends act on; operators can replace it with a
// YAML file via the selector.rules_file setting.
var DefaultRuleSet = RuleSet{
	Rules: []CapabilityRule{
		{
			Triggers:     []string{"screenshot", "capture", "look at", "visual", "image", "see"},
			Capabilities: []models.Capability{models.CapabilityVisual},
		},
		{
			Triggers:     []string{"extract", "scrape", "get text", "read", "parse", "table", "data"},
			Capabilities: []models.Capability{models.CapabilityExtraction},
		},
		{
			Triggers:     []string{"navigate", "go to", "open", "visit", "back", "forward", "url"},
			Capabilities: []models.Capability{models.CapabilityNavigation},
		},
		{
			Triggers:     []string{"fill", "form", "submit", "enter", "input", "login", "sign in", "sign up"},
			Capabilities: []models.Capability{models.CapabilityForm, models.CapabilityInteraction},
		},
		{
			Triggers:     []string{"click", "press", "type", "scroll", "hover", "select", "drag", "button"},
			Capabilities: []models.Capability{models.CapabilityInteraction},
		},
		{
			Triggers:     []string{"ask", "chat", "answer", "explain", "summarize"},
			Capabilities: []models.Capability{models.CapabilityChat},
		},
		{
			Triggers:     []string{"workflow", "sequence", "steps", "then", "automate"},
			Capabilities: []models.Capability{models.CapabilityWorkflow},
		},
	},
	DefaultCapabilities: nil,
}

// LoadRuleSet reads a RuleSet from a YAML file.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s contains no rules", path)
	}
	return &rs, nil
}

package orchestrator

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mwhitby/drover/pkg/models"
)

// Selector maps an incoming instruction to a ranked set of candidate
// agents. It never fails: an empty registry simply yields an empty
// candidate list, which the strategy engine treats as AgentsUnavailable.
type Selector struct {
	registry *Registry
	logger   *DebugLogger

	mu    sync.RWMutex
	rules RuleSet

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSelector creates a Selector over the given registry.
// A nil rules argument installs the built-in DefaultRuleSet.
func NewSelector(registry *Registry, rules *RuleSet, logger *DebugLogger) *Selector {
	if logger == nil {
		logger = NopLogger()
	}
	rs := DefaultRuleSet
	if rules != nil {
		rs = *rules
	}
	return &Selector{
		registry: registry,
		logger:   logger,
		rules:    rs,
		done:     make(chan struct{}),
	}
}

// Select returns the ordered candidate list for an instruction.
// Candidates are the union of available agents whose capabilities
// intersect the triggered tags, deduplicated, ordered by declared
// priority (highest first) then rolling success rate.
func (s *Selector) Select(instruction string, _ map[string]any) []models.AgentDescriptor {
	triggered := s.triggeredCapabilities(instruction)

	available := s.registry.ListAvailable()
	if len(available) == 0 {
		return nil
	}

	var wanted []models.Capability
	if len(triggered) > 0 {
		wanted = triggered
	} else {
		// No rule fired: fall back to the configured default candidate set.
		s.mu.RLock()
		wanted = s.rules.DefaultCapabilities
		s.mu.RUnlock()
	}

	var candidates []models.AgentDescriptor
	if len(wanted) == 0 {
		// No fallback configured either: every available agent is a candidate.
		candidates = available
	} else {
		for _, desc := range available {
			if intersects(desc.Capabilities, wanted) {
				candidates = append(candidates, desc)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].SuccessRate > candidates[j].SuccessRate
	})

	if len(triggered) > 0 {
		s.logger.Log("[selector] instruction matched tags %v, %d candidate(s)", triggered, len(candidates))
	} else {
		s.logger.Log("[selector] no rule triggered, fallback produced %d candidate(s)", len(candidates))
	}
	return candidates
}

// triggeredCapabilities returns the union of tags whose rules match the
// instruction, deduplicated, in rule order.
func (s *Selector) triggeredCapabilities(instruction string) []models.Capability {
	lower := strings.ToLower(instruction)

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[models.Capability]bool)
	var tags []models.Capability
	for _, rule := range s.rules.Rules {
		for _, trigger := range rule.Triggers {
			if strings.Contains(lower, strings.ToLower(trigger)) {
				for _, c := range rule.Capabilities {
					if !seen[c] {
						seen[c] = true
						tags = append(tags, c)
					}
				}
				break
			}
		}
	}
	return tags
}

// SetRules atomically replaces the rule table.
func (s *Selector) SetRules(rs RuleSet) {
	s.mu.Lock()
	s.rules = rs
	s.mu.Unlock()
}

// WatchRules loads the rule table from path and reloads it whenever the
// file changes. Reload failures keep the previous table and are logged.
func (s *Selector) WatchRules(path string) error {
	rs, err := LoadRuleSet(path)
	if err != nil {
		return err
	}
	s.SetRules(*rs)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// No watcher available: the initial load still applies.
		s.logger.Log("[selector] rules watcher unavailable: %v", err)
		return nil
	}
	// Watch the directory: editors replace files on save, which drops
	// watches registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		s.logger.Log("[selector] watch rules dir: %v", err)
		return nil
	}
	s.watcher = watcher

	go s.watchLoop(path)
	return nil
}

// watchLoop reloads the rule table on write/create events for path.
func (s *Selector) watchLoop(path string) {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			rs, err := LoadRuleSet(path)
			if err != nil {
				s.logger.Log("[selector] rules reload failed, keeping previous table: %v", err)
				continue
			}
			s.SetRules(*rs)
			s.logger.Log("[selector] reloaded %d rule(s) from %s", len(rs.Rules), path)
		case <-s.watcher.Errors:
			// Keep watching.
		}
	}
}

// Close stops the rules watcher, if any.
func (s *Selector) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
}

// intersects returns true if the two capability sets share any tag.
func intersects(have, want []models.Capability) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

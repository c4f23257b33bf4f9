package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/mwhitby/drover/pkg/models"
)

// taskOutcome is the preserved terminal state of a task. Outcomes are
// immutable once recorded so repeated waits return identical results.
type taskOutcome struct {
	result *models.CoordinationResult
	err    error
}

// taskRecord tracks one admitted task through its lifecycle.
type taskRecord struct {
	task      *models.Task
	status    models.TaskStatus
	startedAt time.Time
	// done is closed exactly once on the terminal transition.
	done chan struct{}
}

// maxRetainedOutcomes bounds the preserved terminal outcomes. Beyond it
// the oldest are evicted, after which their tasks read as not found.
const maxRetainedOutcomes = 1024

// Tracker is the source of truth for task lifecycle state. It owns the
// active record map and the preserved outcomes of terminal tasks.
type Tracker struct {
	mu       sync.RWMutex
	active   map[string]*taskRecord
	outcomes map[string]*taskOutcome
	// order holds outcome IDs oldest first, for eviction.
	order  []string
	logger *DebugLogger
}

// NewTracker creates an empty Tracker.
func NewTracker(logger *DebugLogger) *Tracker {
	if logger == nil {
		logger = NopLogger()
	}
	return &Tracker{
		active:   make(map[string]*taskRecord),
		outcomes: make(map[string]*taskOutcome),
		logger:   logger,
	}
}

// Admit creates a pending record for the task. Task IDs are unique and
// never reused; re-admitting a known ID is an error.
func (t *Tracker) Admit(task *models.Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[task.ID]; ok {
		return fmt.Errorf("task %s already admitted", task.ID)
	}
	if _, ok := t.outcomes[task.ID]; ok {
		return fmt.Errorf("task %s already completed", task.ID)
	}
	t.active[task.ID] = &taskRecord{
		task:   task,
		status: models.TaskStatusPending,
		done:   make(chan struct{}),
	}
	return nil
}

// MarkRunning transitions a pending record to running.
func (t *Tracker) MarkRunning(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.active[taskID]; ok && rec.status == models.TaskStatusPending {
		rec.status = models.TaskStatusRunning
		rec.startedAt = time.Now()
	}
}

// Resolve records the terminal outcome for a task, removes it from the
// active map, and wakes every waiter. Resolving an already terminal or
// unknown task is a no-op, which makes the wait-timeout race harmless.
// Returns true if this call performed the transition.
func (t *Tracker) Resolve(taskID string, result *models.CoordinationResult, err error) bool {
	t.mu.Lock()
	rec, ok := t.active[taskID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.active, taskID)

	status := models.TaskStatusFailed
	if result != nil && result.Success {
		status = models.TaskStatusCompleted
	}
	rec.status = status
	t.outcomes[taskID] = &taskOutcome{result: result, err: err}
	t.order = append(t.order, taskID)
	for len(t.order) > maxRetainedOutcomes {
		evicted := t.order[0]
		t.order = t.order[1:]
		delete(t.outcomes, evicted)
	}
	t.mu.Unlock()

	close(rec.done)
	t.logger.Log("[tracker] task %s -> %s", taskID, status)
	return true
}

// Await blocks until the task reaches a terminal state or the timeout
// elapses. On timeout the task is marked failed with ErrTaskTimeout; the
// dispatched agent work is abandoned, not cancelled here (the per-call
// contexts in the strategy engine still bound each agent invocation).
// Await on an already terminal task returns its preserved outcome, so
// repeated calls return identical results.
func (t *Tracker) Await(taskID string, timeout time.Duration) (*models.CoordinationResult, error) {
	t.mu.RLock()
	if out, ok := t.outcomes[taskID]; ok {
		t.mu.RUnlock()
		return out.result, out.err
	}
	rec, ok := t.active[taskID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("await task %s: %w", taskID, ErrTaskNotFound)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-rec.done:
		t.mu.RLock()
		out := t.outcomes[taskID]
		t.mu.RUnlock()
		if out == nil {
			return nil, fmt.Errorf("await task %s: %w", taskID, ErrTaskNotFound)
		}
		return out.result, out.err
	case <-timer.C:
		timeoutErr := fmt.Errorf("task %s exceeded wait budget of %s: %w", taskID, timeout, ErrTaskTimeout)
		if t.Resolve(taskID, nil, timeoutErr) {
			return nil, timeoutErr
		}
		// Lost the race: the task went terminal while the timer fired.
		t.mu.RLock()
		out := t.outcomes[taskID]
		t.mu.RUnlock()
		if out == nil {
			return nil, fmt.Errorf("await task %s: %w", taskID, ErrTaskNotFound)
		}
		return out.result, out.err
	}
}

// Status returns the current lifecycle state of a task.
func (t *Tracker) Status(taskID string) (models.TaskStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if rec, ok := t.active[taskID]; ok {
		return rec.status, true
	}
	if out, ok := t.outcomes[taskID]; ok {
		if out.result != nil && out.result.Success {
			return models.TaskStatusCompleted, true
		}
		return models.TaskStatusFailed, true
	}
	return "", false
}

// RunningCount returns the number of records currently in the running state.
func (t *Tracker) RunningCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, rec := range t.active {
		if rec.status == models.TaskStatusRunning {
			n++
		}
	}
	return n
}

// WaitRunning blocks until every currently running record goes terminal
// or the grace period elapses. Returns the IDs still running afterwards.
func (t *Tracker) WaitRunning(grace time.Duration) []string {
	t.mu.RLock()
	waiting := make(map[string]chan struct{})
	for id, rec := range t.active {
		if rec.status == models.TaskStatusRunning {
			waiting[id] = rec.done
		}
	}
	t.mu.RUnlock()

	deadline := time.Now().Add(grace)
	var stragglers []string
	for id, done := range waiting {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			select {
			case <-done:
			default:
				stragglers = append(stragglers, id)
			}
			continue
		}
		timer := time.NewTimer(remaining)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			stragglers = append(stragglers, id)
		}
	}
	return stragglers
}

// Clear drops all records and preserved outcomes. Used during shutdown.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = make(map[string]*taskRecord)
	t.outcomes = make(map[string]*taskOutcome)
	t.order = nil
}

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mwhitby/drover/internal/agent"
	"github.com/mwhitby/drover/pkg/models"
)

// Status is the externally visible orchestrator state summary.
type Status struct {
	// Queued is the current admission queue length.
	Queued int `json:"queued"`
	// Running is the number of tasks currently executing.
	Running int `json:"running"`
	// MaxConcurrentTasks is the configured concurrency budget.
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`
	// Strategy is the global coordination strategy.
	Strategy models.Strategy `json:"strategy"`
}

// Orchestrator owns the registry, admission queue, lifecycle tracker,
// metrics store, and event bus, and drives task execution through the
// strategy engine. Construct one per process and pass it by reference;
// there is no ambient global state.
type Orchestrator struct {
	strategy         models.Strategy
	maxConcurrent    int
	taskTimeout      time.Duration
	dispatchInterval time.Duration
	shutdownGrace    time.Duration
	healthInterval   time.Duration

	registry *Registry
	selector *Selector
	queue    TaskQueue
	tracker  *Tracker
	metrics  *MetricsCollector
	events   *EventBus
	engine   *strategyEngine
	logger   *DebugLogger

	// ctx governs the dispatch and health loops.
	ctx    context.Context
	cancel context.CancelFunc
	// taskCtx governs in-flight agent work; it outlives ctx so running
	// tasks can drain within the shutdown grace period.
	taskCtx    context.Context
	taskCancel context.CancelFunc
	// loopWG tracks the dispatch and health loops.
	loopWG sync.WaitGroup
	// accepting is false once shutdown begins.
	accepting atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates an Orchestrator with the given options applied over defaults.
// Call Start to begin dispatching and Shutdown to tear down.
func New(opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	if o.queue == nil {
		o.queue = NewMemoryQueue()
	}

	registry := NewRegistry(o.logger)
	selector := NewSelector(registry, o.rules, o.logger)
	if o.rulesFile != "" {
		if err := selector.WatchRules(o.rulesFile); err != nil {
			log.Printf("[orchestrator] selector rules file %s unusable, using built-in table: %v", o.rulesFile, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	taskCtx, taskCancel := context.WithCancel(context.Background())
	orch := &Orchestrator{
		strategy:         o.strategy,
		maxConcurrent:    o.maxConcurrentTasks,
		taskTimeout:      o.taskTimeout,
		dispatchInterval: o.dispatchInterval,
		shutdownGrace:    o.shutdownGrace,
		healthInterval:   o.healthCheckInterval,
		registry:         registry,
		selector:         selector,
		queue:            o.queue,
		tracker:          NewTracker(o.logger),
		metrics:          NewMetricsCollector(),
		events:           NewEventBus(),
		engine: &strategyEngine{
			registry:     registry,
			agentTimeout: o.agentTimeout,
			retries:      o.retries,
			logger:       o.logger,
		},
		logger:     o.logger,
		ctx:        ctx,
		cancel:     cancel,
		taskCtx:    taskCtx,
		taskCancel: taskCancel,
	}
	orch.accepting.Store(true)
	return orch
}

// RegisterAgent initializes the adapter and adds it to the registry.
func (o *Orchestrator) RegisterAgent(ctx context.Context, desc models.AgentDescriptor, adapter agent.Agent) error {
	if adapter == nil {
		return fmt.Errorf("register agent %s: adapter is required", desc.Name)
	}
	if err := adapter.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize agent %s: %w", desc.Name, err)
	}
	return o.registry.Register(desc, adapter)
}

// DeregisterAgent removes an agent from future selections. Executions
// already dispatched to it are allowed to finish.
func (o *Orchestrator) DeregisterAgent(name string) {
	o.registry.Deregister(name)
}

// SetAgentHealth overrides the health flag for an agent.
func (o *Orchestrator) SetAgentHealth(name string, healthy bool) {
	o.registry.SetHealth(name, healthy)
}

// Start launches the dispatch loop and, when configured, the health
// monitor. Safe to call once; subsequent calls are no-ops.
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		o.loopWG.Add(1)
		go o.dispatchLoop()
		if o.healthInterval > 0 {
			o.loopWG.Add(1)
			go o.healthLoop()
		}
		o.logger.Log("[orchestrator] started: strategy=%s max_concurrent=%d", o.strategy, o.maxConcurrent)
	})
}

// Submit admits a task and returns its ID. Submit never blocks on
// execution; back-pressure is visible only through Status().Queued.
func (o *Orchestrator) Submit(sessionID, instruction string, taskCtx map[string]any, priority int) (string, error) {
	if !o.accepting.Load() {
		return "", ErrShuttingDown
	}

	task := &models.Task{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Instruction: instruction,
		Context:     taskCtx,
		Priority:    priority,
		CreatedAt:   time.Now(),
	}
	if err := o.tracker.Admit(task); err != nil {
		return "", fmt.Errorf("admit task: %w", err)
	}
	if err := o.queue.Push(task); err != nil {
		// The record exists; fail it rather than leaving a waiter hanging.
		o.tracker.Resolve(task.ID, nil, fmt.Errorf("enqueue task: %w", err))
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	o.logger.Log("[orchestrator] submitted task %s session=%s priority=%d", task.ID, sessionID, priority)
	return task.ID, nil
}

// AwaitCompletion blocks until the task is terminal or the timeout
// elapses. Successful and all-agents-failed coordinations both return a
// CoordinationResult; only TaskTimeout and AgentsUnavailable surface as
// errors. Calling it again for a finished task returns the identical
// result.
func (o *Orchestrator) AwaitCompletion(taskID string, timeout time.Duration) (*models.CoordinationResult, error) {
	if timeout <= 0 {
		timeout = o.taskTimeout
	}
	return o.tracker.Await(taskID, timeout)
}

// TaskStatus returns the lifecycle state of a task.
func (o *Orchestrator) TaskStatus(taskID string) (models.TaskStatus, bool) {
	return o.tracker.Status(taskID)
}

// GetStatus returns the orchestrator state summary.
func (o *Orchestrator) GetStatus() Status {
	return Status{
		Queued:             o.queue.Len(),
		Running:            o.tracker.RunningCount(),
		MaxConcurrentTasks: o.maxConcurrent,
		Strategy:           o.strategy,
	}
}

// GetAgentStatuses returns the health summary for every registered agent.
func (o *Orchestrator) GetAgentStatuses() map[string]models.AgentStatus {
	return o.registry.Statuses()
}

// Subscribe registers an event consumer. See EventBus.Subscribe.
func (o *Orchestrator) Subscribe(buffer int) <-chan Event {
	return o.events.Subscribe(buffer)
}

// Metrics returns a copy of all recorded metrics in insertion order.
func (o *Orchestrator) Metrics() []models.Metric {
	return o.metrics.Snapshot()
}

// dispatchLoop pops ready tasks on a fixed cadence while respecting the
// concurrency budget.
func (o *Orchestrator) dispatchLoop() {
	defer o.loopWG.Done()

	ticker := time.NewTicker(o.dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.dispatchReady()
		}
	}
}

// dispatchReady drains the queue up to the concurrency budget. Runs only
// on the dispatch loop goroutine, so the running count cannot overshoot.
func (o *Orchestrator) dispatchReady() {
	for o.tracker.RunningCount() < o.maxConcurrent {
		task, ok, err := o.queue.Pop()
		if err != nil {
			log.Printf("[orchestrator] queue pop failed: %v", err)
			return
		}
		if !ok {
			return
		}
		o.dispatch(task)
	}
}

// dispatch hands one task to the strategy engine asynchronously.
func (o *Orchestrator) dispatch(task *models.Task) {
	// The record can go terminal while the task is still queued (a
	// caller's wait timed out). Its outcome is settled; executing now
	// would contradict it.
	if status, ok := o.tracker.Status(task.ID); !ok || status.Terminal() {
		o.logger.Log("[orchestrator] skipping task %s: already %s before dispatch", task.ID, status)
		return
	}

	o.tracker.MarkRunning(task.ID)
	o.events.Publish(Event{Type: EventTaskStarted, TaskID: task.ID})

	strategy := o.strategyForTask(task)
	candidates := o.selector.Select(task.Instruction, task.Context)
	o.logger.Log("[orchestrator] dispatching task %s strategy=%s candidates=%d", task.ID, strategy, len(candidates))

	go func() {
		result, err := o.engine.Execute(o.taskCtx, task, strategy, candidates)
		if err != nil {
			// Dispatch-level failure (no candidates): the record fails
			// with a descriptive error instead of being dropped.
			if o.tracker.Resolve(task.ID, nil, err) {
				o.metrics.Record(task.ID, false, time.Since(task.CreatedAt), nil)
				o.events.Publish(Event{Type: EventTaskFailed, TaskID: task.ID, Error: err})
			}
			return
		}

		if !o.tracker.Resolve(task.ID, result, nil) {
			// The record went terminal while the agents ran: a caller's
			// wait timed out and its failed outcome is already on the
			// books. The late result is discarded, not recorded.
			o.logger.Log("[orchestrator] discarding late result for task %s", task.ID)
			return
		}
		o.metrics.Record(task.ID, result.Success, result.Duration, attemptedAgents(result))
		if result.Success {
			o.events.Publish(Event{Type: EventTaskCompleted, TaskID: task.ID, Result: result})
		} else {
			o.events.Publish(Event{Type: EventTaskFailed, TaskID: task.ID, Result: result, Error: ErrAllAgentsFailed})
		}
	}()
}

// strategyForTask honors a per-task strategy override carried in the
// task context, falling back to the global strategy.
func (o *Orchestrator) strategyForTask(task *models.Task) models.Strategy {
	if task.Context != nil {
		if raw, ok := task.Context["strategy"].(string); ok {
			if s := models.Strategy(raw); s.Valid() {
				return s
			}
		}
	}
	return o.strategy
}

// healthLoop runs adapter health checks on a fixed cadence.
func (o *Orchestrator) healthLoop() {
	defer o.loopWG.Done()

	ticker := time.NewTicker(o.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.checkHealth()
		}
	}
}

// checkHealth probes every adapter and records the result.
func (o *Orchestrator) checkHealth() {
	for name, adapter := range o.registry.Adapters() {
		ctx, cancel := context.WithTimeout(o.ctx, o.engine.agentTimeout)
		healthy := adapter.HealthCheck(ctx)
		cancel()
		o.registry.SetHealth(name, healthy)
	}
}

// Shutdown stops accepting submissions, stops dequeuing, waits for
// running tasks up to the grace period (logging any that do not finish),
// closes every adapter, and clears all state. Safe to call more than once.
func (o *Orchestrator) Shutdown() {
	o.stopOnce.Do(func() {
		o.accepting.Store(false)
		o.cancel()
		o.loopWG.Wait()

		stragglers := o.tracker.WaitRunning(o.shutdownGrace)
		for _, id := range stragglers {
			log.Printf("[orchestrator] task %s did not finish within shutdown grace of %s", id, o.shutdownGrace)
			o.logger.Log("[orchestrator] abandoning task %s at shutdown", id)
		}
		// Cut the cord on whatever is still running.
		o.taskCancel()

		o.registry.CloseAll()
		o.selector.Close()
		if err := o.queue.Close(); err != nil {
			log.Printf("[orchestrator] close queue: %v", err)
		}
		o.tracker.Clear()
		o.metrics.Clear()
		o.events.Close()
		o.logger.Log("[orchestrator] shutdown complete")
	})
}

// attemptedAgents lists the agent names in a result's attempt order.
func attemptedAgents(result *models.CoordinationResult) []string {
	agents := make([]string, 0, len(result.Attempts))
	for _, a := range result.Attempts {
		agents = append(agents, a.AgentName)
	}
	return agents
}

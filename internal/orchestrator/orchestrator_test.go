package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mwhitby/drover/internal/agent"
	"github.com/mwhitby/drover/pkg/models"
)

// newTestOrchestrator builds a started orchestrator with a fast dispatch
// cadence and the health monitor disabled.
func newTestOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{
		WithDispatchInterval(5 * time.Millisecond),
		WithTaskTimeout(5 * time.Second),
		WithAgentTimeout(time.Second),
		WithHealthCheckInterval(0),
	}
	o := New(append(base, opts...)...)
	t.Cleanup(o.Shutdown)
	return o
}

func mustRegister(t *testing.T, o *Orchestrator, a *agent.ScriptedAgent, priority int) {
	t.Helper()
	desc := models.AgentDescriptor{Name: a.Name, Priority: priority}
	if err := o.RegisterAgent(context.Background(), desc, a); err != nil {
		t.Fatalf("RegisterAgent %s: %v", a.Name, err)
	}
}

func TestOrchestrator_SubmitAndAwait(t *testing.T) {
	o := newTestOrchestrator(t)
	mustRegister(t, o, agent.NewScriptedAgent("clicker", 0.9, models.CapabilityInteraction), 1)
	o.Start()

	taskID, err := o.Submit("session-1", "click the login button", nil, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if taskID == "" {
		t.Fatal("Submit returned empty task ID")
	}

	result, err := o.AwaitCompletion(taskID, 3*time.Second)
	if err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}
	if !result.Success {
		t.Fatalf("result not successful: %+v", result.Attempts)
	}
	if result.AuthoritativeAgent != "clicker" {
		t.Errorf("AuthoritativeAgent = %s, want clicker", result.AuthoritativeAgent)
	}
	if result.TaskID != taskID {
		t.Errorf("TaskID = %s, want %s", result.TaskID, taskID)
	}

	status, ok := o.TaskStatus(taskID)
	if !ok || status != models.TaskStatusCompleted {
		t.Errorf("TaskStatus = (%s, %t), want completed", status, ok)
	}
}

func TestOrchestrator_SelectionRoutesByInstruction(t *testing.T) {
	o := newTestOrchestrator(t)
	clicker := agent.NewScriptedAgent("clicker", 0.9, models.CapabilityInteraction)
	scraper := agent.NewScriptedAgent("scraper", 0.9, models.CapabilityExtraction)
	mustRegister(t, o, clicker, 1)
	mustRegister(t, o, scraper, 1)
	o.Start()

	taskID, err := o.Submit("s", "extract the price table", nil, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	result, err := o.AwaitCompletion(taskID, 3*time.Second)
	if err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}

	if result.AuthoritativeAgent != "scraper" {
		t.Errorf("AuthoritativeAgent = %s, want scraper", result.AuthoritativeAgent)
	}
	if clicker.Calls() != 0 {
		t.Errorf("clicker ran %d times, want 0", clicker.Calls())
	}
}

func TestOrchestrator_HigherPriorityRunsFirst(t *testing.T) {
	// A single-slot orchestrator serializes execution, exposing queue order.
	o := newTestOrchestrator(t, WithMaxConcurrentTasks(1), WithStrategy(models.StrategySequential))
	worker := agent.NewScriptedAgent("worker", 0.9, models.CapabilityInteraction)
	worker.Latency = 20 * time.Millisecond
	mustRegister(t, o, worker, 1)

	// Queue before starting so the dispatcher sees all three at once.
	var ids [3]string
	var err error
	for i, priority := range []int{1, 9, 5} {
		ids[i], err = o.Submit("s", "click the button", nil, priority)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	sub := o.Subscribe(16)
	o.Start()

	events := make(map[string]int)
	order := 0
	deadline := time.After(5 * time.Second)
	for len(events) < 3 {
		select {
		case event := <-sub:
			if event.Type == EventTaskStarted {
				events[event.TaskID] = order
				order++
			}
		case <-deadline:
			t.Fatalf("saw only %d started events", len(events))
		}
	}

	if !(events[ids[1]] < events[ids[2]] && events[ids[2]] < events[ids[0]]) {
		t.Errorf("start order = %v for priorities [1 9 5], want 9 before 5 before 1", events)
	}
}

func TestOrchestrator_ConcurrencyBudgetNeverExceeded(t *testing.T) {
	const budget = 2
	o := newTestOrchestrator(t, WithMaxConcurrentTasks(budget))

	var mu sync.Mutex
	running, peak := 0, 0
	tracked := &trackingAgent{
		inner: agent.NewScriptedAgent("worker", 0.9, models.CapabilityInteraction),
		onStart: func() {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
		},
		onEnd: func() {
			mu.Lock()
			running--
			mu.Unlock()
		},
	}
	desc := models.AgentDescriptor{Name: "worker", Capabilities: []models.Capability{models.CapabilityInteraction}}
	if err := o.RegisterAgent(context.Background(), desc, tracked); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	o.Start()

	ids := make([]string, 6)
	for i := range ids {
		id, err := o.Submit("s", "click the button", nil, 0)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids[i] = id
	}
	for _, id := range ids {
		if _, err := o.AwaitCompletion(id, 5*time.Second); err != nil {
			t.Fatalf("AwaitCompletion %s: %v", id, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > budget {
		t.Errorf("peak concurrent executions = %d, budget %d", peak, budget)
	}
}

func TestOrchestrator_NoAgentsAvailable(t *testing.T) {
	o := newTestOrchestrator(t)
	o.Start()

	taskID, err := o.Submit("s", "click the button", nil, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	_, err = o.AwaitCompletion(taskID, 3*time.Second)
	if !errors.Is(err, ErrAgentsUnavailable) {
		t.Fatalf("AwaitCompletion error = %v, want ErrAgentsUnavailable", err)
	}

	status, _ := o.TaskStatus(taskID)
	if status != models.TaskStatusFailed {
		t.Errorf("TaskStatus = %s, want failed", status)
	}
}

func TestOrchestrator_AllAgentsFailedIsAResultNotAnError(t *testing.T) {
	o := newTestOrchestrator(t, WithStrategy(models.StrategySequential))
	broken := agent.NewScriptedAgent("broken", 0.9, models.CapabilityInteraction)
	broken.AlwaysFail = true
	mustRegister(t, o, broken, 1)
	o.Start()

	taskID, err := o.Submit("s", "click the button", nil, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result, err := o.AwaitCompletion(taskID, 3*time.Second)
	if err != nil {
		t.Fatalf("AwaitCompletion error = %v, want nil for an exhausted candidate list", err)
	}
	if result.Success {
		t.Error("result should not be successful")
	}
	if len(result.Attempts) == 0 {
		t.Error("attempts should be on the record")
	}
}

func TestOrchestrator_TaskTimeout(t *testing.T) {
	o := newTestOrchestrator(t, WithAgentTimeout(10*time.Second))
	hung := agent.NewScriptedAgent("hung", 0.9, models.CapabilityInteraction)
	hung.Hang = true
	mustRegister(t, o, hung, 1)
	o.Start()

	taskID, err := o.Submit("s", "click the button", nil, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	start := time.Now()
	_, err = o.AwaitCompletion(taskID, 100*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("AwaitCompletion error = %v, want ErrTaskTimeout", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timeout surfaced after %s, want promptly after the 100ms budget", elapsed)
	}

	// Repeated waits on the timed-out task return the same verdict.
	_, err = o.AwaitCompletion(taskID, 100*time.Millisecond)
	if !errors.Is(err, ErrTaskTimeout) {
		t.Errorf("second AwaitCompletion error = %v, want the preserved ErrTaskTimeout", err)
	}
}

func TestOrchestrator_TimeoutOutcomeStaysFailed(t *testing.T) {
	o := newTestOrchestrator(t)
	slow := agent.NewScriptedAgent("slow", 0.9, models.CapabilityInteraction)
	slow.Latency = 150 * time.Millisecond
	mustRegister(t, o, slow, 1)
	sub := o.Subscribe(32)
	o.Start()

	taskID, err := o.Submit("s", "click the button", nil, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := o.AwaitCompletion(taskID, 30*time.Millisecond); !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("AwaitCompletion error = %v, want ErrTaskTimeout", err)
	}

	// Let the abandoned agent work settle well past its latency.
	deadline := time.Now().Add(2 * time.Second)
	for slow.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)

	// The terminal state set by the timeout must not be contradicted by
	// the late result.
	status, _ := o.TaskStatus(taskID)
	if status != models.TaskStatusFailed {
		t.Errorf("TaskStatus = %s after settle, want failed", status)
	}
	for _, metric := range o.Metrics() {
		if metric.TaskID == taskID {
			t.Errorf("late result recorded a metric: %+v", metric)
		}
	}
	for {
		select {
		case event := <-sub:
			if event.TaskID == taskID && event.Type == EventTaskCompleted {
				t.Error("task_completed published for a timed-out task")
			}
		default:
			return
		}
	}
}

func TestOrchestrator_TimedOutQueuedTaskNeverDispatched(t *testing.T) {
	o := newTestOrchestrator(t, WithMaxConcurrentTasks(1))
	slow := agent.NewScriptedAgent("slow", 0.9, models.CapabilityInteraction)
	slow.Latency = 200 * time.Millisecond
	mustRegister(t, o, slow, 1)
	sub := o.Subscribe(32)
	o.Start()

	first, err := o.Submit("s", "click the button", nil, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := o.Submit("s", "click the button", nil, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The single slot is busy with the first task, so the second times
	// out while still queued.
	if _, err := o.AwaitCompletion(second, 20*time.Millisecond); !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("AwaitCompletion error = %v, want ErrTaskTimeout", err)
	}
	if _, err := o.AwaitCompletion(first, 3*time.Second); err != nil {
		t.Fatalf("AwaitCompletion first: %v", err)
	}
	// Give the dispatcher time to pop what is left in the queue.
	time.Sleep(100 * time.Millisecond)

	if slow.Calls() != 1 {
		t.Errorf("agent ran %d times, want 1: the timed-out task must not execute", slow.Calls())
	}
	for {
		select {
		case event := <-sub:
			if event.TaskID == second && event.Type == EventTaskStarted {
				t.Error("task_started published for a task that timed out in the queue")
			}
		default:
			return
		}
	}
}

func TestOrchestrator_PerTaskStrategyOverride(t *testing.T) {
	o := newTestOrchestrator(t, WithStrategy(models.StrategySequential))
	first := agent.NewScriptedAgent("first", 0.5, models.CapabilityInteraction)
	second := agent.NewScriptedAgent("second", 0.9, models.CapabilityInteraction)
	mustRegister(t, o, first, 5)
	mustRegister(t, o, second, 1)
	o.Start()

	taskID, err := o.Submit("s", "click the button", map[string]any{"strategy": "parallel"}, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	result, err := o.AwaitCompletion(taskID, 3*time.Second)
	if err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}

	if result.Strategy != models.StrategyParallel {
		t.Errorf("Strategy = %s, want the per-task parallel override", result.Strategy)
	}
	// Under sequential, the high-priority first agent would have won and
	// second would never run.
	if second.Calls() != 1 {
		t.Errorf("second ran %d times, want 1 under parallel", second.Calls())
	}
	if result.AuthoritativeAgent != "second" {
		t.Errorf("AuthoritativeAgent = %s, want the higher-confidence second", result.AuthoritativeAgent)
	}
}

func TestOrchestrator_SubmitAfterShutdown(t *testing.T) {
	o := New(WithDispatchInterval(5 * time.Millisecond))
	o.Start()
	o.Shutdown()

	if _, err := o.Submit("s", "click the button", nil, 0); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Submit error = %v, want ErrShuttingDown", err)
	}
}

func TestOrchestrator_ShutdownDrainsRunningTask(t *testing.T) {
	o := New(
		WithDispatchInterval(5*time.Millisecond),
		WithShutdownGrace(2*time.Second),
		WithHealthCheckInterval(0),
	)
	slow := agent.NewScriptedAgent("slow", 0.9, models.CapabilityInteraction)
	slow.Latency = 100 * time.Millisecond
	desc := models.AgentDescriptor{Name: "slow"}
	if err := o.RegisterAgent(context.Background(), desc, slow); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	o.Start()

	taskID, err := o.Submit("s", "click the button", nil, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Let the dispatcher pick it up before shutting down.
	waitForRunning(t, o, taskID)

	done := make(chan struct{})
	go func() {
		o.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return")
	}
	if slow.Calls() != 1 {
		t.Errorf("slow ran %d times, want the in-flight execution to finish", slow.Calls())
	}
	if !slow.Closed() {
		t.Error("adapter should be closed after shutdown")
	}
}

func TestOrchestrator_DeregisterMidFlight(t *testing.T) {
	o := newTestOrchestrator(t, WithStrategy(models.StrategySequential))
	slow := agent.NewScriptedAgent("slow", 0.9, models.CapabilityInteraction)
	slow.Latency = 100 * time.Millisecond
	mustRegister(t, o, slow, 1)
	o.Start()

	taskID, err := o.Submit("s", "click the button", nil, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Wait until the adapter is actually executing before pulling it.
	deadline := time.Now().Add(2 * time.Second)
	for slow.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if slow.Calls() == 0 {
		t.Fatal("agent never started executing")
	}

	o.DeregisterAgent("slow")

	result, err := o.AwaitCompletion(taskID, 3*time.Second)
	if err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}
	if !result.Success {
		t.Error("in-flight execution should finish despite deregistration")
	}
	if slow.Closed() {
		t.Error("deregistration must not close a busy adapter")
	}
	if _, ok := o.GetAgentStatuses()["slow"]; ok {
		t.Error("deregistered agent still visible")
	}
}

func TestOrchestrator_EventsAndMetrics(t *testing.T) {
	o := newTestOrchestrator(t)
	mustRegister(t, o, agent.NewScriptedAgent("clicker", 0.9, models.CapabilityInteraction), 1)
	sub := o.Subscribe(16)
	o.Start()

	taskID, err := o.Submit("s", "click the button", nil, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := o.AwaitCompletion(taskID, 3*time.Second); err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}

	var types []EventType
	deadline := time.After(3 * time.Second)
	for len(types) < 2 {
		select {
		case event := <-sub:
			if event.TaskID == taskID {
				types = append(types, event.Type)
			}
		case <-deadline:
			t.Fatalf("saw events %v, want started and completed", types)
		}
	}
	if types[0] != EventTaskStarted || types[1] != EventTaskCompleted {
		t.Errorf("event order = %v, want [task_started task_completed]", types)
	}

	metrics := o.Metrics()
	if len(metrics) != 1 {
		t.Fatalf("Metrics has %d entries, want 1", len(metrics))
	}
	if metrics[0].TaskID != taskID || !metrics[0].Success {
		t.Errorf("metric = %+v, want success for %s", metrics[0], taskID)
	}
	if len(metrics[0].Agents) != 1 || metrics[0].Agents[0] != "clicker" {
		t.Errorf("metric agents = %v, want [clicker]", metrics[0].Agents)
	}
}

func TestOrchestrator_GetStatus(t *testing.T) {
	o := newTestOrchestrator(t, WithMaxConcurrentTasks(7), WithStrategy(models.StrategyParallel))

	status := o.GetStatus()
	if status.MaxConcurrentTasks != 7 {
		t.Errorf("MaxConcurrentTasks = %d, want 7", status.MaxConcurrentTasks)
	}
	if status.Strategy != models.StrategyParallel {
		t.Errorf("Strategy = %s, want parallel", status.Strategy)
	}
	if status.Queued != 0 || status.Running != 0 {
		t.Errorf("fresh orchestrator reports queued=%d running=%d", status.Queued, status.Running)
	}
}

func TestOrchestrator_HealthMonitorSidelinesUnhealthyAgent(t *testing.T) {
	o := newTestOrchestrator(t, WithHealthCheckInterval(10*time.Millisecond))
	flaky := agent.NewScriptedAgent("flaky", 0.9, models.CapabilityInteraction)
	mustRegister(t, o, flaky, 1)
	o.Start()

	flaky.SetHealthy(false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := o.GetAgentStatuses()["flaky"]; ok && !status.Healthy {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("health monitor never marked the agent unhealthy")
}

// waitForRunning polls until the task reaches the running state.
func waitForRunning(t *testing.T, o *Orchestrator, taskID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := o.TaskStatus(taskID); ok && status == models.TaskStatusRunning {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never started running", taskID)
}

// trackingAgent wraps a scripted agent with start/end hooks to observe
// concurrency.
type trackingAgent struct {
	inner   *agent.ScriptedAgent
	onStart func()
	onEnd   func()
}

func (a *trackingAgent) Initialize(ctx context.Context) error { return a.inner.Initialize(ctx) }

func (a *trackingAgent) Execute(ctx context.Context, task *models.Task) (*agent.Result, error) {
	a.onStart()
	defer a.onEnd()
	return a.inner.Execute(ctx, task)
}

func (a *trackingAgent) HealthCheck(ctx context.Context) bool { return a.inner.HealthCheck(ctx) }
func (a *trackingAgent) Capabilities() []models.Capability    { return a.inner.Capabilities() }
func (a *trackingAgent) Status() map[string]any               { return a.inner.Status() }
func (a *trackingAgent) Close() error                         { return a.inner.Close() }

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwhitby/drover/pkg/models"
)

// strategyEngine executes a task against an ordered candidate list under
// one of the coordination strategies. Agent-level failures never leave
// the engine: a failed or timed-out call becomes a recorded attempt and
// the strategy proceeds.
type strategyEngine struct {
	registry     *Registry
	agentTimeout time.Duration
	retries      int
	logger       *DebugLogger
}

// invocation is the outcome of one candidate invocation.
type invocation struct {
	attempt models.Attempt
	data    any
	// finished orders completions for confidence ties in parallel mode.
	finished time.Time
}

// Execute coordinates the task across candidates using the strategy.
// An empty candidate list is an immediate failure with ErrAgentsUnavailable.
func (e *strategyEngine) Execute(ctx context.Context, task *models.Task, strategy models.Strategy, candidates []models.AgentDescriptor) (*models.CoordinationResult, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("task %s: %w", task.ID, ErrAgentsUnavailable)
	}

	start := time.Now()
	var result *models.CoordinationResult
	switch strategy {
	case models.StrategyParallel:
		result = e.runParallel(ctx, task, candidates)
	case models.StrategyAdaptive:
		result = e.runParallel(ctx, task, candidates)
		if !result.Success {
			e.logger.Log("[strategy] task %s: parallel produced no success, falling back to sequential", task.ID)
			fallback := e.runSequential(ctx, task, candidates)
			// The sequential verdict is authoritative; the parallel
			// attempts stay on the record.
			fallback.Attempts = append(result.Attempts, fallback.Attempts...)
			result = fallback
		}
	default:
		result = e.runSequential(ctx, task, candidates)
	}

	result.TaskID = task.ID
	result.Strategy = strategy
	result.Duration = time.Since(start)
	return result, nil
}

// runSequential attempts candidates strictly in order and stops at the
// first success. Every attempt, successful or not, is recorded.
func (e *strategyEngine) runSequential(ctx context.Context, task *models.Task, candidates []models.AgentDescriptor) *models.CoordinationResult {
	result := &models.CoordinationResult{}
	for _, desc := range candidates {
		inv := e.invoke(ctx, task, desc.Name)
		result.Attempts = append(result.Attempts, inv.attempt)
		if inv.attempt.Success {
			result.Success = true
			result.AuthoritativeAgent = inv.attempt.AgentName
			result.Data = inv.data
			break
		}
	}
	return result
}

// runParallel dispatches the task to every candidate concurrently and
// waits for all to settle. The authoritative result is the successful
// attempt with the highest confidence, ties broken by earliest completion.
func (e *strategyEngine) runParallel(ctx context.Context, task *models.Task, candidates []models.AgentDescriptor) *models.CoordinationResult {
	invocations := make([]invocation, len(candidates))
	done := make(chan int, len(candidates))
	for i, desc := range candidates {
		go func(i int, name string) {
			invocations[i] = e.invoke(ctx, task, name)
			done <- i
		}(i, desc.Name)
	}
	for range candidates {
		<-done
	}

	result := &models.CoordinationResult{}
	best := -1
	for i := range invocations {
		result.Attempts = append(result.Attempts, invocations[i].attempt)
		if !invocations[i].attempt.Success {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		cur, prev := invocations[i], invocations[best]
		if cur.attempt.Confidence > prev.attempt.Confidence ||
			(cur.attempt.Confidence == prev.attempt.Confidence && cur.finished.Before(prev.finished)) {
			best = i
		}
	}
	if best >= 0 {
		result.Success = true
		result.AuthoritativeAgent = invocations[best].attempt.AgentName
		result.Data = invocations[best].data
	}
	return result
}

// invoke runs one agent call with the per-call timeout and the configured
// retry budget. The adapter is resolved at call time: an agent
// deregistered after selection yields a failed attempt instead of a
// stale dispatch.
func (e *strategyEngine) invoke(ctx context.Context, task *models.Task, name string) invocation {
	start := time.Now()

	adapter, ok := e.registry.Adapter(name)
	if !ok {
		return invocation{
			attempt: models.Attempt{
				AgentName: name,
				Duration:  time.Since(start),
				Error:     fmt.Sprintf("agent %s is no longer registered", name),
			},
			finished: time.Now(),
		}
	}

	var lastErr error
	for try := 0; try <= e.retries; try++ {
		callCtx, cancel := context.WithTimeout(ctx, e.agentTimeout)
		res, err := adapter.Execute(callCtx, task)
		cancel()

		switch {
		case err == nil && res != nil && res.Success:
			e.registry.ReportResult(name, true)
			return invocation{
				attempt: models.Attempt{
					AgentName:  name,
					Success:    true,
					Confidence: clampConfidence(res.Confidence),
					Duration:   time.Since(start),
				},
				data:     res.Data,
				finished: time.Now(),
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			lastErr = fmt.Errorf("agent %s exceeded call budget of %s: %w", name, e.agentTimeout, ErrAgentTimeout)
		case err != nil:
			lastErr = fmt.Errorf("agent %s: %v: %w", name, err, ErrAgentExecution)
		default:
			lastErr = fmt.Errorf("agent %s reported failure: %w", name, ErrAgentExecution)
		}

		if ctx.Err() != nil {
			// The whole coordination was cancelled; stop retrying.
			break
		}
		if try < e.retries {
			e.logger.Log("[strategy] task %s: agent %s attempt %d failed, retrying: %v", task.ID, name, try+1, lastErr)
		}
	}

	e.registry.ReportResult(name, false)
	return invocation{
		attempt: models.Attempt{
			AgentName: name,
			Duration:  time.Since(start),
			Error:     lastErr.Error(),
		},
		finished: time.Now(),
	}
}

// clampConfidence bounds an agent-reported confidence to [0,1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

package orchestrator

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mwhitby/drover/pkg/models"
)

// EventType identifies the kind of orchestrator event.
type EventType string

const (
	// EventTaskStarted is emitted when a task is dispatched to agents.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted is emitted when a task completes successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed is emitted when a task reaches the failed state.
	EventTaskFailed EventType = "task_failed"
)

// Event is an observer notification. Events are best-effort: correctness
// never depends on delivery.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task.
	TaskID string
	// Result carries the coordination result for completion events.
	Result *models.CoordinationResult
	// Error contains failure details for task_failed events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// subscriber is one registered event consumer.
type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

// EventBus fans orchestrator events out to subscribers. Delivery is FIFO
// per subscriber and non-blocking for the emitter: a subscriber that
// stops draining loses events rather than stalling coordination.
type EventBus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
}

// NewEventBus creates an EventBus with no subscribers.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a consumer and returns its event channel. The
// buffer absorbs bursts; once it is full new events for this subscriber
// are dropped.
func (b *EventBus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subs = append(b.subs, sub)
	return sub.ch
}

// Publish delivers the event to every subscriber without blocking.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			count := sub.dropped.Add(1)
			if count%10 == 1 { // Log every 10th drop to avoid spam
				log.Printf("[orchestrator] WARNING: subscriber buffer full, dropped event (total dropped: %d): type=%s", count, event.Type)
			}
		}
	}
}

// DroppedCount returns the total events dropped across all subscribers.
func (b *EventBus) DroppedCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total uint64
	for _, sub := range b.subs {
		total += sub.dropped.Load()
	}
	return total
}

// Close closes every subscriber channel. Publish after Close is a no-op.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}

package orchestrator

import (
	"sync"
	"time"

	"github.com/mwhitby/drover/pkg/models"
)

// MetricsCollector records one append-only metric per terminal task.
// Metrics live in memory only; they are the sole place a task's outcome
// survives after its record leaves the active map.
type MetricsCollector struct {
	mu      sync.Mutex
	metrics []models.Metric
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// Record appends a metric for a task that reached a terminal state.
func (m *MetricsCollector) Record(taskID string, success bool, duration time.Duration, agents []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, models.Metric{
		TaskID:    taskID,
		Timestamp: time.Now(),
		Success:   success,
		Duration:  duration,
		Agents:    agents,
	})
}

// Snapshot returns a copy of all metrics in insertion order.
func (m *MetricsCollector) Snapshot() []models.Metric {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Metric, len(m.metrics))
	copy(out, m.metrics)
	return out
}

// Len returns the number of recorded metrics.
func (m *MetricsCollector) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.metrics)
}

// Clear drops all metrics. Used during shutdown.
func (m *MetricsCollector) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = nil
}

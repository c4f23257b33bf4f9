package orchestrator

import (
	"time"

	"github.com/mwhitby/drover/pkg/models"
)

// Defaults applied when no option overrides them.
const (
	// DefaultMaxConcurrentTasks caps tasks executing at once.
	DefaultMaxConcurrentTasks = 3
	// DefaultTaskTimeout is the per-task wait ceiling.
	DefaultTaskTimeout = 60 * time.Second
	// DefaultAgentTimeout is the per-agent-call ceiling.
	DefaultAgentTimeout = 30 * time.Second
	// DefaultDispatchInterval is the scheduling loop cadence.
	DefaultDispatchInterval = 1 * time.Second
	// DefaultShutdownGrace bounds the wait for running tasks at shutdown.
	DefaultShutdownGrace = 30 * time.Second
	// DefaultHealthCheckInterval is the health monitor cadence.
	DefaultHealthCheckInterval = 30 * time.Second
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	strategy            models.Strategy
	maxConcurrentTasks  int
	taskTimeout         time.Duration
	agentTimeout        time.Duration
	dispatchInterval    time.Duration
	retries             int
	shutdownGrace       time.Duration
	healthCheckInterval time.Duration
	queue               TaskQueue
	rules               *RuleSet
	rulesFile           string
	logger              *DebugLogger
}

// WithStrategy sets the global coordination strategy.
func WithStrategy(s models.Strategy) Option {
	return func(o *orchestratorOptions) {
		if s.Valid() {
			o.strategy = s
		}
	}
}

// WithMaxConcurrentTasks caps how many tasks may run at once.
func WithMaxConcurrentTasks(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.maxConcurrentTasks = n
		}
	}
}

// WithTaskTimeout sets the default per-task wait ceiling.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) {
		if d > 0 {
			o.taskTimeout = d
		}
	}
}

// WithAgentTimeout sets the per-agent-call ceiling.
func WithAgentTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) {
		if d > 0 {
			o.agentTimeout = d
		}
	}
}

// WithDispatchInterval sets the scheduling loop cadence.
func WithDispatchInterval(d time.Duration) Option {
	return func(o *orchestratorOptions) {
		if d > 0 {
			o.dispatchInterval = d
		}
	}
}

// WithRetries sets how many additional attempts a failed agent call gets
// before it is recorded as failed.
func WithRetries(n int) Option {
	return func(o *orchestratorOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithShutdownGrace bounds the wait for running tasks during shutdown.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *orchestratorOptions) {
		if d > 0 {
			o.shutdownGrace = d
		}
	}
}

// WithHealthCheckInterval sets the health monitor cadence.
// Zero disables periodic health checks.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(o *orchestratorOptions) {
		if d >= 0 {
			o.healthCheckInterval = d
		}
	}
}

// WithQueue installs a custom admission queue (e.g. the Redis backend).
// The default is an in-memory priority queue.
func WithQueue(q TaskQueue) Option {
	return func(o *orchestratorOptions) {
		if q != nil {
			o.queue = q
		}
	}
}

// WithSelectorRules replaces the built-in capability rule table.
func WithSelectorRules(rs RuleSet) Option {
	return func(o *orchestratorOptions) { o.rules = &rs }
}

// WithSelectorRulesFile loads the rule table from a YAML file and hot
// reloads it on change.
func WithSelectorRulesFile(path string) Option {
	return func(o *orchestratorOptions) { o.rulesFile = path }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// defaultOptions returns the options applied before any Option runs.
func defaultOptions() *orchestratorOptions {
	return &orchestratorOptions{
		strategy:            models.StrategyAdaptive,
		maxConcurrentTasks:  DefaultMaxConcurrentTasks,
		taskTimeout:         DefaultTaskTimeout,
		agentTimeout:        DefaultAgentTimeout,
		dispatchInterval:    DefaultDispatchInterval,
		shutdownGrace:       DefaultShutdownGrace,
		healthCheckInterval: DefaultHealthCheckInterval,
	}
}

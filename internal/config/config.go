// Package config handles configuration loading for drover.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/mwhitby/drover/pkg/models"
)

// Config holds all configuration for drover.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Selector     SelectorConfig     `mapstructure:"selector"`
	API          APIConfig          `mapstructure:"api"`
	// Agents lists the adapters serve mode registers at startup.
	Agents []AgentConfig `mapstructure:"agents"`
	// LogFile is the debug log path; empty disables debug logging.
	LogFile string `mapstructure:"log_file"`
}

// OrchestratorConfig holds the coordination core settings.
type OrchestratorConfig struct {
	// MaxConcurrentTasks caps concurrent task execution.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
	// TaskTimeout is the per-task wait ceiling.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// AgentTimeout is the per-agent-call ceiling.
	AgentTimeout time.Duration `mapstructure:"agent_timeout"`
	// DispatchInterval is the scheduling loop cadence.
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	// Retries is the number of additional attempts per failed agent call.
	Retries int `mapstructure:"retries"`
	// Strategy is the global coordination strategy.
	Strategy string `mapstructure:"strategy"`
	// ShutdownGrace bounds the wait for running tasks at shutdown.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	// HealthCheckInterval is the health monitor cadence; zero disables it.
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// QueueConfig selects and configures the admission queue backend.
type QueueConfig struct {
	// Backend is "memory" or "redis".
	Backend string `mapstructure:"backend"`
	// Redis holds connection settings for the redis backend.
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Key is the sorted-set key holding queued tasks.
	Key string `mapstructure:"key"`
}

// SelectorConfig holds agent selection settings.
type SelectorConfig struct {
	// RulesFile points to a YAML capability rule table; empty uses the
	// built-in table. The file is hot-reloaded on change.
	RulesFile string `mapstructure:"rules_file"`
}

// AgentConfig describes one adapter to register at startup. Kind names
// an entry in the serve command's constructor table.
type AgentConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`
	// Capabilities override the adapter's declared set when non-empty.
	Capabilities []string `mapstructure:"capabilities"`
	// Priority orders agents for selection; higher is preferred.
	Priority int `mapstructure:"priority"`
	// Confidence is reported by scripted agents on success.
	Confidence float64 `mapstructure:"confidence"`
}

// APIConfig holds the HTTP submission front settings.
type APIConfig struct {
	// Addr is the listen address for serve mode.
	Addr string `mapstructure:"addr"`
}

// StrategyOrDefault returns the configured strategy, falling back to
// adaptive for unknown values.
func (c *OrchestratorConfig) StrategyOrDefault() models.Strategy {
	if s := models.Strategy(c.Strategy); s.Valid() {
		return s
	}
	return models.StrategyAdaptive
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
//  1. Environment variables (DROVER_*)
//  2. Project config (.drover.yaml in current directory or a parent)
//  3. User config (~/.config/drover/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("DROVER")
	v.AutomaticEnv()
	v.BindEnv("queue.redis.addr", "DROVER_REDIS_ADDR")
	v.BindEnv("queue.redis.password", "DROVER_REDIS_PASSWORD")
	v.BindEnv("api.addr", "DROVER_API_ADDR")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.max_concurrent_tasks", 3)
	v.SetDefault("orchestrator.task_timeout", "60s")
	v.SetDefault("orchestrator.agent_timeout", "30s")
	v.SetDefault("orchestrator.dispatch_interval", "1s")
	v.SetDefault("orchestrator.retries", 0)
	v.SetDefault("orchestrator.strategy", "adaptive")
	v.SetDefault("orchestrator.shutdown_grace", "30s")
	v.SetDefault("orchestrator.health_check_interval", "30s")

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.redis.addr", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.key", "drover:tasks")

	v.SetDefault("selector.rules_file", "")

	v.SetDefault("api.addr", ":8080")

	v.SetDefault("log_file", "")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrentTasks:  3,
			TaskTimeout:         60 * time.Second,
			AgentTimeout:        30 * time.Second,
			DispatchInterval:    1 * time.Second,
			Retries:             0,
			Strategy:            "adaptive",
			ShutdownGrace:       30 * time.Second,
			HealthCheckInterval: 30 * time.Second,
		},
		Queue: QueueConfig{
			Backend: "memory",
			Redis:   RedisConfig{Key: "drover:tasks"},
		},
		API: APIConfig{Addr: ":8080"},
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// getUserConfigDir returns the XDG config directory for drover.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "drover")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "drover")
	}
	return filepath.Join(home, ".config", "drover")
}

// findProjectConfig searches for .drover.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".drover.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

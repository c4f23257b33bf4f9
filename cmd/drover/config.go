package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mwhitby/drover/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display the effective configuration",
	Long: `Print the configuration drover would run with, after merging the
user config, any project .drover.yaml, and environment overrides.

Project-specific overrides can be placed in .drover.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("user config: %s\n", config.GetUserConfigPath())
		displayConfig(cfg)
	},
}

// displayConfig prints all configuration values.
func displayConfig(cfg *config.Config) {
	// Mask the redis password if set
	passwordDisplay := "(not set)"
	if cfg.Queue.Redis.Password != "" {
		passwordDisplay = "****"
	}

	fmt.Printf("orchestrator.strategy: %s\n", cfg.Orchestrator.StrategyOrDefault())
	fmt.Printf("orchestrator.max_concurrent_tasks: %d\n", cfg.Orchestrator.MaxConcurrentTasks)
	fmt.Printf("orchestrator.task_timeout: %s\n", cfg.Orchestrator.TaskTimeout)
	fmt.Printf("orchestrator.agent_timeout: %s\n", cfg.Orchestrator.AgentTimeout)
	fmt.Printf("orchestrator.dispatch_interval: %s\n", cfg.Orchestrator.DispatchInterval)
	fmt.Printf("orchestrator.retries: %d\n", cfg.Orchestrator.Retries)
	fmt.Printf("orchestrator.shutdown_grace: %s\n", cfg.Orchestrator.ShutdownGrace)
	fmt.Printf("orchestrator.health_check_interval: %s\n", cfg.Orchestrator.HealthCheckInterval)
	fmt.Printf("queue.backend: %s\n", cfg.Queue.Backend)
	fmt.Printf("queue.redis.addr: %s\n", cfg.Queue.Redis.Addr)
	fmt.Printf("queue.redis.password: %s\n", passwordDisplay)
	fmt.Printf("queue.redis.key: %s\n", cfg.Queue.Redis.Key)
	fmt.Printf("selector.rules_file: %s\n", cfg.Selector.RulesFile)
	fmt.Printf("api.addr: %s\n", cfg.API.Addr)
	fmt.Printf("log_file: %s\n", cfg.LogFile)
	for i, ac := range cfg.Agents {
		fmt.Printf("agents[%d]: %s kind=%s priority=%d caps=%v\n", i, ac.Name, ac.Kind, ac.Priority, ac.Capabilities)
	}
}

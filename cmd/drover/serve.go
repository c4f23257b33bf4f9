package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwhitby/drover/internal/agent"
	"github.com/mwhitby/drover/internal/api"
	"github.com/mwhitby/drover/internal/config"
	"github.com/mwhitby/drover/internal/orchestrator"
	"github.com/mwhitby/drover/pkg/models"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator with its HTTP submission front",
	Long: `Start the orchestrator: register the configured agents, begin
dispatching queued tasks, and listen for task submissions over HTTP.

Agents come from the 'agents' list in the config file. Each entry names
a kind from the built-in adapter table; with no agents configured a
demo set of scripted agents is registered so the server is usable out
of the box.

The server runs until interrupted, then drains in-flight tasks within
the configured shutdown grace period.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides api.addr from config)")
}

// agentConstructors maps config 'kind' values to adapter constructors.
// Adapters are compiled in; there is no runtime plugin discovery.
var agentConstructors = map[string]func(config.AgentConfig) agent.Agent{
	"scripted": func(ac config.AgentConfig) agent.Agent {
		return agent.NewScriptedAgent(ac.Name, ac.Confidence, parseCapabilities(ac.Capabilities)...)
	},
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	addr := cfg.API.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	logger := orchestrator.NopLogger()
	if cfg.LogFile != "" {
		logger, err = orchestrator.NewDebugLogger(cfg.LogFile)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
	}

	opts := []orchestrator.Option{
		orchestrator.WithStrategy(cfg.Orchestrator.StrategyOrDefault()),
		orchestrator.WithMaxConcurrentTasks(cfg.Orchestrator.MaxConcurrentTasks),
		orchestrator.WithTaskTimeout(cfg.Orchestrator.TaskTimeout),
		orchestrator.WithAgentTimeout(cfg.Orchestrator.AgentTimeout),
		orchestrator.WithDispatchInterval(cfg.Orchestrator.DispatchInterval),
		orchestrator.WithRetries(cfg.Orchestrator.Retries),
		orchestrator.WithShutdownGrace(cfg.Orchestrator.ShutdownGrace),
		orchestrator.WithHealthCheckInterval(cfg.Orchestrator.HealthCheckInterval),
		orchestrator.WithLogger(logger),
	}
	if cfg.Selector.RulesFile != "" {
		opts = append(opts, orchestrator.WithSelectorRulesFile(cfg.Selector.RulesFile))
	}
	if cfg.Queue.Backend == "redis" {
		queue, err := orchestrator.NewRedisQueue(orchestrator.RedisQueueConfig{
			Addr:     cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Key:      cfg.Queue.Redis.Key,
		})
		if err != nil {
			return fmt.Errorf("connect redis queue: %w", err)
		}
		opts = append(opts, orchestrator.WithQueue(queue))
	}

	orch := orchestrator.New(opts...)

	if err := registerAgents(cmd.Context(), orch, cfg.Agents); err != nil {
		return err
	}

	orch.Start()
	defer orch.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner(orch, cfg, addr)

	if err := api.NewServer(addr, orch).Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http server: %w", err)
	}
	fmt.Println("Shutting down, draining in-flight tasks...")
	return nil
}

// registerAgents builds and registers the configured adapters, falling
// back to a demo set when none are configured.
func registerAgents(ctx context.Context, orch *orchestrator.Orchestrator, agents []config.AgentConfig) error {
	if len(agents) == 0 {
		log.Printf("[serve] no agents configured, registering demo scripted agents")
		agents = []config.AgentConfig{
			{Name: "browser", Kind: "scripted", Capabilities: []string{"navigation", "interaction", "form"}, Priority: 2, Confidence: 0.8},
			{Name: "scraper", Kind: "scripted", Capabilities: []string{"extraction"}, Priority: 1, Confidence: 0.9},
			{Name: "vision", Kind: "scripted", Capabilities: []string{"visual"}, Priority: 1, Confidence: 0.7},
		}
	}

	for _, ac := range agents {
		construct, ok := agentConstructors[ac.Kind]
		if !ok {
			return fmt.Errorf("agent %s: unknown kind %q", ac.Name, ac.Kind)
		}
		desc := models.AgentDescriptor{
			Name:         ac.Name,
			Capabilities: parseCapabilities(ac.Capabilities),
			Priority:     ac.Priority,
		}
		if err := orch.RegisterAgent(ctx, desc, construct(ac)); err != nil {
			return fmt.Errorf("register agent %s: %w", ac.Name, err)
		}
	}
	return nil
}

func parseCapabilities(raw []string) []models.Capability {
	caps := make([]models.Capability, 0, len(raw))
	for _, r := range raw {
		caps = append(caps, models.Capability(r))
	}
	return caps
}

// printBanner prints a startup summary with color
func printBanner(orch *orchestrator.Orchestrator, cfg *config.Config, addr string) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)

	bold.Printf("drover %s\n", Version())
	status := orch.GetStatus()
	fmt.Printf("  strategy:   %s\n", status.Strategy)
	fmt.Printf("  budget:     %d concurrent tasks\n", status.MaxConcurrentTasks)
	fmt.Printf("  queue:      %s\n", cfg.Queue.Backend)
	fmt.Printf("  agents:     %d registered\n", len(orch.GetAgentStatuses()))
	green.Printf("  listening:  %s\n", addr)
}

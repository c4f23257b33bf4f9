package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwhitby/drover/internal/orchestrator"
	"github.com/mwhitby/drover/pkg/models"
)

var statusServer string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator and agent state",
	Long: `Display the state of a running drover server.

Shows:
  - Queued and running task counts against the concurrency budget
  - The active coordination strategy
  - Each registered agent with health, availability, and success rate`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "Base URL of the drover server")
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status orchestrator.Status
	if err := getJSON(statusServer+"/api/v1/status", &status); err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}
	var agents map[string]models.AgentStatus
	if err := getJSON(statusServer+"/api/v1/agents", &agents); err != nil {
		return fmt.Errorf("fetch agents: %w", err)
	}

	color.New(color.Bold).Println("Orchestrator")
	fmt.Printf("  strategy: %s\n", status.Strategy)
	fmt.Printf("  queued:   %d\n", status.Queued)
	fmt.Printf("  running:  %d / %d\n", status.Running, status.MaxConcurrentTasks)

	color.New(color.Bold).Println("Agents")
	if len(agents) == 0 {
		fmt.Println("  (none registered)")
		return nil
	}
	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		agentStatus := agents[name]
		mark := color.New(color.FgGreen).Sprint("✓")
		if !agentStatus.Healthy {
			mark = color.New(color.FgRed).Sprint("✗")
		}
		fmt.Printf("  %s %-12s caps=%v\n", mark, name, agentStatus.Capabilities)
	}
	return nil
}

// getJSON fetches a URL and decodes its JSON body.
func getJSON(url string, out any) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwhitby/drover/pkg/models"
)

var (
	submitServer   string
	submitSession  string
	submitPriority int
	submitWait     time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <instruction>",
	Short: "Submit a task to a running drover server",
	Long: `Send an instruction to a running drover server for execution.

By default the command returns the task ID immediately. With --wait it
blocks until the task finishes and prints the coordination result.

Examples:
  drover submit "click the login button"
  drover submit --wait 30s "extract the product table"
  drover submit --priority 5 "take a screenshot of the checkout page"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitServer, "server", "http://localhost:8080", "Base URL of the drover server")
	submitCmd.Flags().StringVar(&submitSession, "session", "cli", "Session identifier attached to the task")
	submitCmd.Flags().IntVar(&submitPriority, "priority", 0, "Task priority (higher runs first)")
	submitCmd.Flags().DurationVar(&submitWait, "wait", 0, "Block until the task finishes, up to this long")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	payload := map[string]any{
		"session_id":  submitSession,
		"instruction": strings.Join(args, " "),
		"priority":    submitPriority,
	}
	if submitWait > 0 {
		payload["wait_ms"] = int(submitWait.Milliseconds())
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := http.Post(submitServer+"/api/v1/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit task: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		var out struct {
			TaskID string `json:"task_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		fmt.Printf("submitted %s\n", out.TaskID)
		return nil
	case http.StatusOK:
		var result models.CoordinationResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		printResult(&result)
		return nil
	default:
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
}

// printResult prints a coordination result with color
func printResult(result *models.CoordinationResult) {
	if result.Success {
		color.New(color.FgGreen).Printf("✓ completed by %s", result.AuthoritativeAgent)
	} else {
		color.New(color.FgRed).Print("✗ all agents failed")
	}
	fmt.Printf(" (%s, strategy %s)\n", result.Duration.Round(time.Millisecond), result.Strategy)

	for _, attempt := range result.Attempts {
		mark := "✗"
		if attempt.Success {
			mark = "✓"
		}
		line := fmt.Sprintf("  %s %s confidence=%.2f duration=%s", mark, attempt.AgentName, attempt.Confidence, attempt.Duration.Round(time.Millisecond))
		if attempt.Error != "" {
			line += " error=" + attempt.Error
		}
		fmt.Println(line)
	}
}

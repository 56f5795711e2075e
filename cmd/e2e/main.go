// Package main provides the e2e smoke-test runner CLI.
// It exercises a running lisa server over HTTP, normally backed by the
// mock-llm fixture server so runs are deterministic and offline.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		baseURL       string
		outputJSON    bool
		timeout       time.Duration
		globalTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "e2e [scenario]",
		Short: "Run lisa e2e smoke tests",
		Long: `Run end-to-end smoke tests against a running lisa server.

Available scenarios:
  session-basic  - Create a session, fetch it, list its messages
  assistants     - List assistants and fetch their bundles
  chat-turn      - Stream one chat turn and verify the SSE protocol
  all            - Run all scenarios (default)

Examples:
  e2e                            # Run all scenarios
  e2e chat-turn                  # Run specific scenario
  e2e --json                     # Output results as JSON
  e2e --base-url http://lisa:80  # Custom server URL
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarioName := "all"
			if len(args) > 0 {
				scenarioName = args[0]
			}

			client := &harness{
				baseURL: strings.TrimRight(baseURL, "/"),
				http:    &http.Client{Timeout: timeout},
			}
			return run(scenarioName, client, outputJSON, globalTimeout)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "lisa server base URL")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "Per-request timeout")
	cmd.Flags().DurationVar(&globalTimeout, "global-timeout", 10*time.Minute, "Global timeout for all scenarios")

	cmd.AddCommand(listCmd())

	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available scenarios",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available scenarios:")
			fmt.Println()
			fmt.Println("  session-basic  Create a session, fetch it, list its messages")
			fmt.Println("  assistants     List assistants and fetch their bundles")
			fmt.Println("  chat-turn      Stream one chat turn and verify the SSE protocol")
			fmt.Println()
			fmt.Println("Use 'e2e all' to run all scenarios.")
		},
	}
}

// scenario is one named smoke test.
type scenario struct {
	name        string
	description string
	run         func(ctx context.Context, h *harness) error
}

// result captures one scenario outcome.
type result struct {
	ScenarioName string        `json:"scenario"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

func scenarioList() []scenario {
	return []scenario{
		{
			name:        "session-basic",
			description: "Create a session, fetch it, list its messages",
			run:         runSessionBasic,
		},
		{
			name:        "assistants",
			description: "List assistants and fetch their bundles",
			run:         runAssistants,
		},
		{
			name:        "chat-turn",
			description: "Stream one chat turn and verify the SSE protocol",
			run:         runChatTurn,
		},
	}
}

func run(scenarioName string, h *harness, outputJSON bool, globalTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), globalTimeout)
	defer cancel()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	all := scenarioList()
	var toRun []scenario
	if scenarioName == "all" {
		toRun = all
	} else {
		for _, s := range all {
			if s.name == scenarioName {
				toRun = []scenario{s}
			}
		}
		if len(toRun) == 0 {
			return fmt.Errorf("unknown scenario: %s", scenarioName)
		}
	}

	results := make([]result, 0, len(toRun))
	allPassed := true

	for _, s := range toRun {
		if ctx.Err() != nil {
			if !outputJSON {
				fmt.Println("\nTest run interrupted!")
			}
			break
		}

		if !outputJSON {
			fmt.Printf("\nRunning: %s\n", s.name)
			fmt.Printf("Description: %s\n\n", s.description)
		}

		started := time.Now()
		err := s.run(ctx, h)
		res := result{
			ScenarioName: s.name,
			Success:      err == nil,
			Duration:     time.Since(started),
		}
		if err != nil {
			res.Error = err.Error()
			allPassed = false
			if !outputJSON {
				fmt.Printf("FAILED: %v\n", err)
			}
		} else if !outputJSON {
			fmt.Println("PASSED")
		}
		results = append(results, res)
	}

	if outputJSON {
		outputJSONResults(results)
	} else {
		outputTextSummary(results)
	}

	if !allPassed {
		return fmt.Errorf("some scenarios failed")
	}
	return nil
}

// --- scenarios ---

func runSessionBasic(ctx context.Context, h *harness) error {
	sess, err := h.createSession(ctx, "e2e", "lisa")
	if err != nil {
		return err
	}
	if sess.ID == "" {
		return fmt.Errorf("created session has no id")
	}

	var got struct {
		ID            string `json:"id"`
		AssistantType string `json:"assistant_type"`
		SessionStatus string `json:"session_status"`
	}
	if err := h.getJSON(ctx, "/sessions/"+sess.ID, &got); err != nil {
		return err
	}
	if got.AssistantType != "lisa" {
		return fmt.Errorf("assistant_type: got %q, want lisa", got.AssistantType)
	}
	if got.SessionStatus != "active" {
		return fmt.Errorf("session_status: got %q, want active", got.SessionStatus)
	}

	var msgs struct {
		Total int `json:"total"`
	}
	if err := h.getJSON(ctx, "/sessions/"+sess.ID+"/messages", &msgs); err != nil {
		return err
	}
	if msgs.Total != 0 {
		return fmt.Errorf("new session has %d messages, want 0", msgs.Total)
	}
	return nil
}

func runAssistants(ctx context.Context, h *harness) error {
	var listing struct {
		Assistants []struct {
			Type string `json:"type"`
		} `json:"assistants"`
	}
	if err := h.getJSON(ctx, "/assistants", &listing); err != nil {
		return err
	}
	if len(listing.Assistants) == 0 {
		return fmt.Errorf("no assistants listed")
	}

	for _, a := range listing.Assistants {
		bundle, err := h.getText(ctx, "/assistants/"+a.Type+"/bundle")
		if err != nil {
			return fmt.Errorf("bundle %s: %w", a.Type, err)
		}
		if strings.TrimSpace(bundle) == "" {
			return fmt.Errorf("bundle %s is empty", a.Type)
		}
	}
	return nil
}

func runChatTurn(ctx context.Context, h *harness) error {
	sess, err := h.createSession(ctx, "e2e", "lisa")
	if err != nil {
		return err
	}

	events, err := h.streamMessage(ctx, sess.ID, "帮我设计登录接口的测试用例")
	if err != nil {
		return err
	}

	types := make(map[string]int)
	for _, ev := range events {
		types[ev.Type]++
	}
	if types["text-delta"] == 0 {
		return fmt.Errorf("no text-delta events in stream")
	}
	if types["finish"] == 0 && types["error"] == 0 {
		return fmt.Errorf("stream did not terminate with finish or error")
	}

	var msgs struct {
		Total int `json:"total"`
	}
	if err := h.getJSON(ctx, "/sessions/"+sess.ID+"/messages", &msgs); err != nil {
		return err
	}
	if msgs.Total < 1 {
		return fmt.Errorf("turn persisted %d messages, want at least 1", msgs.Total)
	}
	return nil
}

// --- harness ---

type harness struct {
	baseURL string
	http    *http.Client
}

type sessionInfo struct {
	ID string `json:"id"`
}

type streamEvent struct {
	Type string `json:"type"`
}

func (h *harness) createSession(ctx context.Context, project, assistantType string) (*sessionInfo, error) {
	body, _ := json.Marshal(map[string]string{
		"project_name":   project,
		"assistant_type": assistantType,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create session: status %d: %s", resp.StatusCode, data)
	}

	var sess sessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (h *harness) getJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, data)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func (h *harness) getText(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, data)
	}
	return string(data), nil
}

func (h *harness) streamMessage(ctx context.Context, sessionID, content string) ([]streamEvent, error) {
	body, _ := json.Marshal(map[string]any{
		"messages": []map[string]string{
			{"role": "user", "content": content},
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.baseURL+"/sessions/"+sessionID+"/messages/v2/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("stream: status %d: %s", resp.StatusCode, data)
	}

	var events []streamEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("invalid stream event %q: %w", data, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return events, nil
}

// --- output ---

func outputJSONResults(results []result) {
	output := struct {
		Timestamp time.Time `json:"timestamp"`
		Results   []result  `json:"results"`
		Summary   struct {
			Total  int `json:"total"`
			Passed int `json:"passed"`
			Failed int `json:"failed"`
		} `json:"summary"`
	}{
		Timestamp: time.Now(),
		Results:   results,
	}

	output.Summary.Total = len(results)
	for _, r := range results {
		if r.Success {
			output.Summary.Passed++
		} else {
			output.Summary.Failed++
		}
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling results: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func outputTextSummary(results []result) {
	fmt.Println("\n═══════════════════════════════════════════════════════════════")
	fmt.Println("                          SUMMARY")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	passed := 0
	failed := 0
	for _, r := range results {
		status := "✓ PASSED"
		if !r.Success {
			status = "✗ FAILED"
			failed++
		} else {
			passed++
		}
		fmt.Printf("  %s  %s (%dms)\n", status, r.ScenarioName, r.Duration.Milliseconds())
		if !r.Success && r.Error != "" {
			errMsg := r.Error
			if len(errMsg) > 80 {
				errMsg = errMsg[:77] + "..."
			}
			fmt.Printf("           %s\n", errMsg)
		}
	}

	fmt.Println(strings.Repeat("─", 65))
	fmt.Printf("  Total: %d | Passed: %d | Failed: %d\n", len(results), passed, failed)
	fmt.Println("═══════════════════════════════════════════════════════════════")

	if failed > 0 {
		fmt.Println("\nSome tests failed. Run with --json for detailed output.")
	}
}

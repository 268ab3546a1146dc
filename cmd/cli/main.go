package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	tenantID  string
	agentID   string
	sessionID string
	timeout   int
	source    string
	status    string
)

func main() {
	root := &cobra.Command{
		Use:   "orchestrator-cli",
		Short: "CLI client for agent-orchestrator",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("ORCHESTRATOR_API_KEY"), "API key")
	root.PersistentFlags().StringVar(&tenantID, "tenant", "", "Tenant ID (default tenant when empty)")

	// Run an agent
	runCmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Start an agent execution",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStart,
	}
	runCmd.Flags().StringVarP(&agentID, "agent", "a", "", "Agent ID (required)")
	runCmd.Flags().StringVar(&sessionID, "session", "", "Session ID for conversational memory")
	runCmd.Flags().IntVar(&timeout, "timeout", 0, "Timeout in seconds (0 uses the server default)")
	runCmd.MarkFlagRequired("agent")
	root.AddCommand(runCmd)

	// Execution status
	root.AddCommand(&cobra.Command{
		Use:   "status [execution-id]",
		Short: "Show execution status and progress",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	})

	// Stop
	root.AddCommand(&cobra.Command{
		Use:   "stop [execution-id]",
		Short: "Cancel a running execution",
		Args:  cobra.ExactArgs(1),
		RunE:  runStop,
	})

	// Restart
	root.AddCommand(&cobra.Command{
		Use:   "restart [execution-id]",
		Short: "Re-run a past execution with its original input",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestart,
	})

	// Validate content
	validateCmd := &cobra.Command{
		Use:   "validate [content]",
		Short: "Run content through the guardrails engine",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}
	validateCmd.Flags().StringVar(&source, "source", "input", "Validation source: input or output")
	root.AddCommand(validateCmd)

	// Policy check
	root.AddCommand(&cobra.Command{
		Use:   "policy <action> <resource>",
		Short: "Check a tenant policy for an action/resource pair",
		Args:  cobra.ExactArgs(2),
		RunE:  runPolicy,
	})

	// List executions
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE:  runList,
	}
	listCmd.Flags().StringVarP(&agentID, "agent", "a", "", "Filter by agent ID")
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status")
	root.AddCommand(listCmd)

	// System status
	root.AddCommand(&cobra.Command{
		Use:   "system",
		Short: "Show system-wide orchestrator status",
		RunE:  runSystem,
	})

	// Health check
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	var prompt string
	if len(args) > 0 {
		prompt = args[0]
	} else {
		// Read from stdin
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		prompt = string(data)
	}

	payload := map[string]any{
		"agent_id":   agentID,
		"input_data": map[string]any{"prompt": prompt},
	}
	if sessionID != "" {
		payload["session_id"] = sessionID
	}
	if timeout > 0 {
		payload["timeout_seconds"] = timeout
	}

	return postJSON("/executions", payload)
}

func runStatus(_ *cobra.Command, args []string) error {
	return getJSON("/executions/" + args[0])
}

func runStop(_ *cobra.Command, args []string) error {
	req, err := newRequest(http.MethodDelete, "/executions/"+args[0], nil)
	if err != nil {
		return err
	}
	return doAndPrint(req)
}

func runRestart(_ *cobra.Command, args []string) error {
	return postJSON("/executions/"+args[0]+"/restart", nil)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var content string
	if len(args) > 0 {
		content = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		content = string(data)
	}

	return postJSON("/validate", map[string]any{
		"content": content,
		"source":  source,
	})
}

func runPolicy(_ *cobra.Command, args []string) error {
	return postJSON("/policy/check", map[string]any{
		"action":   args[0],
		"resource": args[1],
	})
}

func runList(_ *cobra.Command, _ []string) error {
	path := "/executions"
	sep := "?"
	if agentID != "" {
		path += sep + "agent_id=" + agentID
		sep = "&"
	}
	if status != "" {
		path += sep + "status=" + status
	}
	return getJSON(path)
}

func runSystem(_ *cobra.Command, _ []string) error {
	return getJSON("/status")
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func postJSON(path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := newRequest(http.MethodPost, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doAndPrint(req)
}

func getJSON(path string) error {
	req, err := newRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return doAndPrint(req)
}

func newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	return req, nil
}

func doAndPrint(req *http.Request) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func printBody(resp *http.Response) error {
	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
	return nil
}

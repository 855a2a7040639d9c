package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// ClaudeAdapter drives the Claude Code CLI in print mode, one process per
// message, threading a single session through --session-id and --resume.
type ClaudeAdapter struct {
	mu        sync.Mutex
	cfg       Config // Command and WorkDir are filled in
	sessionID string
	started   bool
	procMgr   *ProcessManager
}

// claudeResponse is the JSON printed by `claude -p --output-format json`.
// Result is either a plain string or {"content": [{"type": "text", "text": ...}]}.
type claudeResponse struct {
	SessionID string          `json:"session_id"`
	IsError   bool            `json:"is_error"`
	Result    json.RawMessage `json:"result"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewClaudeAdapter creates an adapter for one session. An empty
// cfg.SessionID starts a fresh session, a given one is resumed. procMgr may be nil.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) (*ClaudeAdapter, error) {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.WorkDir = wd
	}
	cfg.Args = append([]string(nil), cfg.Args...)

	a := &ClaudeAdapter{cfg: cfg, sessionID: cfg.SessionID, started: cfg.SessionID != "", procMgr: procMgr}
	if a.sessionID == "" {
		a.sessionID = uuid.NewString()
	}
	return a, nil
}

// Send sends a message to the CLI and returns the response.
// The first call uses --session-id, subsequent calls use --resume.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	args := append(append([]string{}, a.cfg.Args...), a.buildArgs(msg, a.started)...)

	cmd := newCommand(ctx, a.cfg.Command, args...)
	cmd.Dir = a.cfg.WorkDir

	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{Error: err.Error()}, err
	}

	resp, err := parseClaudeResponse(stdout)
	if err != nil {
		return Response{
			Error: fmt.Sprintf("failed to parse claude response: %v (stderr: %s)", err, string(stderr)),
		}, err
	}
	if resp.SessionID != "" {
		a.sessionID = resp.SessionID
	}

	a.started = true

	if resp.Error != "" {
		return resp, fmt.Errorf("claude reported an error: %s", resp.Error)
	}
	return resp, nil
}

// Close is a no-op (subprocess-per-invocation model).
func (a *ClaudeAdapter) Close() error {
	return nil
}

// SessionID returns the current session identifier.
func (a *ClaudeAdapter) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// buildArgs constructs the command-line arguments for the claude CLI.
func (a *ClaudeAdapter) buildArgs(msg Message, isResume bool) []string {
	args := []string{"-p", msg.Content, "--output-format", "json"}

	if isResume {
		args = append(args, "--resume", a.sessionID)
	} else {
		args = append(args, "--session-id", a.sessionID)
	}

	if a.cfg.Model != "" {
		args = append(args, "--model", a.cfg.Model)
	}
	if a.cfg.SystemPrompt != "" {
		args = append(args, "--system-prompt", a.cfg.SystemPrompt)
	}

	return args
}

// parseClaudeResponse extracts the text content from the CLI output.
// An is_error response is returned with Response.Error set.
func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var content string
	if len(cr.Result) > 0 {
		var text string
		if err := json.Unmarshal(cr.Result, &text); err == nil {
			content = text
		} else {
			var cc claudeContent
			if err := json.Unmarshal(cr.Result, &cc); err != nil {
				return Response{}, fmt.Errorf("unexpected result shape: %w", err)
			}
			for _, item := range cc.Content {
				if item.Type == "text" {
					content += item.Text
				}
			}
		}
	}

	resp := Response{
		Content:   content,
		SessionID: cr.SessionID,
	}
	if cr.IsError {
		resp.Error = content
	}
	return resp, nil
}

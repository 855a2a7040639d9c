package backend

import (
	"context"
	"regexp"
	"slices"
	"testing"
)

// TestNewClaudeAdapter_GeneratesSessionID verifies that a session ID is auto-generated
// when not provided in the config.
func TestNewClaudeAdapter_GeneratesSessionID(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{Type: "claude"}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	uuidPattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidPattern.MatchString(adapter.SessionID()) {
		t.Errorf("Session ID does not match UUID v4 format: %s", adapter.SessionID())
	}
	if adapter.started {
		t.Error("a fresh session must not start in resume mode")
	}
	if adapter.cfg.Command != "claude" {
		t.Errorf("expected default command 'claude', got %q", adapter.cfg.Command)
	}
}

// TestNewClaudeAdapter_ResumesProvidedSessionID verifies that a provided session ID
// is used and resumed rather than created.
func TestNewClaudeAdapter_ResumesProvidedSessionID(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{Type: "claude", SessionID: "test-session-12345"}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	if adapter.SessionID() != "test-session-12345" {
		t.Errorf("Expected session ID test-session-12345, got %s", adapter.SessionID())
	}
	if !adapter.started {
		t.Error("a provided session should be resumed")
	}
}

func TestClaudeAdapter_BuildArgs(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		resume   bool
		expected []string
	}{
		{
			name:     "first message",
			cfg:      Config{SessionID: "test-uuid"},
			expected: []string{"-p", "Hello", "--output-format", "json", "--session-id", "test-uuid"},
		},
		{
			name:     "resume",
			cfg:      Config{SessionID: "test-uuid"},
			resume:   true,
			expected: []string{"-p", "Hello", "--output-format", "json", "--resume", "test-uuid"},
		},
		{
			name:   "model and system prompt",
			cfg:    Config{SessionID: "test-uuid", Model: "sonnet", SystemPrompt: "Be brief"},
			resume: true,
			expected: []string{"-p", "Hello", "--output-format", "json", "--resume", "test-uuid",
				"--model", "sonnet", "--system-prompt", "Be brief"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewClaudeAdapter(tt.cfg, nil)
			if err != nil {
				t.Fatalf("NewClaudeAdapter failed: %v", err)
			}
			args := adapter.buildArgs(Message{Content: "Hello"}, tt.resume)
			if !slices.Equal(args, tt.expected) {
				t.Errorf("Expected args %v, got %v", tt.expected, args)
			}
		})
	}
}

// TestClaudeAdapter_ParsesJSONResponse verifies that parseClaudeResponse
// extracts content from both result shapes.
func TestClaudeAdapter_ParsesJSONResponse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantContent string
		wantSession string
		wantRespErr bool
		wantError   bool
	}{
		{
			name:        "string result",
			input:       `{"type": "result", "session_id": "s-1", "is_error": false, "result": "Hello world"}`,
			wantContent: "Hello world",
			wantSession: "s-1",
		},
		{
			name:        "content blocks",
			input:       `{"session_id": "s-2", "result": {"content": [{"type": "text", "text": "Part 1"}, {"type": "image"}, {"type": "text", "text": "Part 2"}]}}`,
			wantContent: "Part 1Part 2",
			wantSession: "s-2",
		},
		{
			name:        "error result",
			input:       `{"session_id": "s-3", "is_error": true, "result": "rate limited"}`,
			wantContent: "rate limited",
			wantSession: "s-3",
			wantRespErr: true,
		},
		{
			name:  "missing result",
			input: `{"wrong": "structure"}`,
		},
		{
			name:      "invalid JSON",
			input:     `not valid json`,
			wantError: true,
		},
		{
			name:      "unexpected result type",
			input:     `{"result": 42}`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseClaudeResponse([]byte(tt.input))

			if tt.wantError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if resp.Content != tt.wantContent {
				t.Errorf("Expected content %q, got %q", tt.wantContent, resp.Content)
			}
			if resp.SessionID != tt.wantSession {
				t.Errorf("Expected session ID %q, got %q", tt.wantSession, resp.SessionID)
			}
			if (resp.Error != "") != tt.wantRespErr {
				t.Errorf("Response.Error = %q, want error: %v", resp.Error, tt.wantRespErr)
			}
		})
	}
}

// TestClaudeAdapter_Send runs a stand-in CLI and verifies the session flips to resume.
func TestClaudeAdapter_Send(t *testing.T) {
	// bash -c ignores the claude flags that follow the script
	adapter, err := NewClaudeAdapter(Config{
		Command: "bash",
		Args:    []string{"-c", `echo '{"session_id": "from-cli", "result": "pong"}'`},
		WorkDir: t.TempDir(),
	}, NewProcessManager())
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "ping", Role: "user"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Content != "pong" {
		t.Errorf("Expected content 'pong', got %q", resp.Content)
	}
	if adapter.SessionID() != "from-cli" {
		t.Errorf("Expected session ID adopted from CLI, got %q", adapter.SessionID())
	}

	args := adapter.buildArgs(Message{Content: "again"}, adapter.started)
	if !slices.Contains(args, "--resume") {
		t.Error("second call should resume the session")
	}
}

func TestClaudeAdapter_SendReportsCLIError(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{
		Command: "bash",
		Args:    []string{"-c", `echo '{"session_id": "x", "is_error": true, "result": "quota exceeded"}'`},
		WorkDir: t.TempDir(),
	}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "ping"})
	if err == nil {
		t.Fatal("expected error for is_error response")
	}
	if resp.Error != "quota exceeded" {
		t.Errorf("Expected Response.Error 'quota exceeded', got %q", resp.Error)
	}
}

// TestClaudeAdapter_Close verifies that Close() is a no-op and returns nil.
func TestClaudeAdapter_Close(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{SessionID: "test-uuid"}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := adapter.Close(); err != nil {
			t.Errorf("Close() should return nil, got: %v", err)
		}
	}
}

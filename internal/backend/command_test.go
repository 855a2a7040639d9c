package backend

import (
	"context"
	"strings"
	"testing"
)

func TestNewCommandAdapter_RequiresCommand(t *testing.T) {
	if _, err := NewCommandAdapter(Config{}, nil); err == nil {
		t.Fatal("expected error without a command")
	}
}

// TestCommandAdapter_Send verifies the prompt goes to stdin and settings to the environment.
func TestCommandAdapter_Send(t *testing.T) {
	adapter, err := NewCommandAdapter(Config{
		Command:      "bash",
		Args:         []string{"-c", `input=$(cat); printf '  %s|%s|%s|%s\n' "$input" "$TASKFLOW_MODEL" "$TASKFLOW_ROLE" "$TASKFLOW_SESSION_ID"`},
		SessionID:    "sess-9",
		Model:        "local-7b",
		SystemPrompt: "ignored here",
	}, NewProcessManager())
	if err != nil {
		t.Fatalf("NewCommandAdapter failed: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "summarize this", Role: "user"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := "summarize this|local-7b|user|sess-9"
	if resp.Content != want {
		t.Errorf("Content = %q, want %q", resp.Content, want)
	}
	if resp.SessionID != "sess-9" {
		t.Errorf("SessionID = %q, want sess-9", resp.SessionID)
	}
}

func TestCommandAdapter_SendFailure(t *testing.T) {
	adapter, err := NewCommandAdapter(Config{
		Command: "bash",
		Args:    []string{"-c", `echo "model not loaded" >&2; exit 3`},
	}, nil)
	if err != nil {
		t.Fatalf("NewCommandAdapter failed: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "hi"})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("expected stderr in error, got %v", err)
	}
	if resp.Error == "" {
		t.Error("expected Response.Error to be set")
	}
}

func TestCommandAdapter_GeneratesSessionID(t *testing.T) {
	a, err := NewCommandAdapter(Config{Command: "cat"}, nil)
	if err != nil {
		t.Fatalf("NewCommandAdapter failed: %v", err)
	}
	b, err := NewCommandAdapter(Config{Command: "cat"}, nil)
	if err != nil {
		t.Fatalf("NewCommandAdapter failed: %v", err)
	}
	if a.SessionID() == "" || a.SessionID() == b.SessionID() {
		t.Errorf("expected distinct generated session IDs, got %q and %q", a.SessionID(), b.SessionID())
	}
}

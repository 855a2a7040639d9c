package backend

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Environment passed to command providers alongside the prompt on stdin.
const (
	EnvSessionID    = "TASKFLOW_SESSION_ID"
	EnvModel        = "TASKFLOW_MODEL"
	EnvSystemPrompt = "TASKFLOW_SYSTEM_PROMPT"
	EnvRole         = "TASKFLOW_ROLE"
)

// CommandAdapter runs an arbitrary executable per message: the prompt is
// written to stdin and trimmed stdout is the reply. It lets local models and
// wrapper scripts act as providers without a dedicated adapter.
type CommandAdapter struct {
	mu           sync.Mutex
	command      string
	args         []string
	workDir      string
	sessionID    string
	model        string
	systemPrompt string
	procMgr      *ProcessManager
}

// NewCommandAdapter creates a command-backed adapter. cfg.Command is required.
func NewCommandAdapter(cfg Config, procMgr *ProcessManager) (*CommandAdapter, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command backend requires a command")
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return &CommandAdapter{
		command:      cfg.Command,
		args:         cfg.Args,
		workDir:      cfg.WorkDir,
		sessionID:    sessionID,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		procMgr:      procMgr,
	}, nil
}

// Send runs the command once with msg.Content on stdin.
func (c *CommandAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := newCommand(ctx, c.command, c.args...)
	cmd.Dir = c.workDir
	cmd.Stdin = strings.NewReader(msg.Content)
	cmd.Env = append(os.Environ(),
		EnvSessionID+"="+c.sessionID,
		EnvModel+"="+c.model,
		EnvSystemPrompt+"="+c.systemPrompt,
		EnvRole+"="+msg.Role,
	)

	stdout, _, err := executeCommand(ctx, cmd, c.procMgr)
	if err != nil {
		return Response{Error: err.Error()}, err
	}

	return Response{
		Content:   strings.TrimSpace(string(stdout)),
		SessionID: c.sessionID,
	}, nil
}

// Close is a no-op (subprocess-per-invocation model).
func (c *CommandAdapter) Close() error {
	return nil
}

// SessionID returns the session identifier exported to the command.
func (c *CommandAdapter) SessionID() string {
	return c.sessionID
}

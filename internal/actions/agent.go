package actions

import (
	"context"
	"fmt"
	"sort"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Agent is a resolved agent: its role settings plus the provider transport.
type Agent struct {
	Provider     string // provider key, recorded with sessions
	Type         string // backend.Registry type
	Command      string
	Args         []string
	Model        string
	SystemPrompt string
}

// Recorder stores provider sessions and transcripts per run and task.
// persistence.Store satisfies it.
type Recorder interface {
	SaveSession(ctx context.Context, runID, taskName, sessionID, provider string) error
	SaveMessage(ctx context.Context, runID, taskName, role, content string) error
}

// AgentsFromConfig joins every configured agent with its provider.
// Agents naming a missing provider are skipped; config validation reports them.
func AgentsFromConfig(cfg *config.TaskflowConfig) map[string]Agent {
	agents := make(map[string]Agent, len(cfg.Agents))
	for name, a := range cfg.Agents {
		p, ok := cfg.Providers[a.Provider]
		if !ok {
			continue
		}
		agents[name] = Agent{
			Provider:     a.Provider,
			Type:         p.Type,
			Command:      p.Command,
			Args:         append([]string(nil), p.Args...),
			Model:        a.Model,
			SystemPrompt: a.SystemPrompt,
		}
	}
	return agents
}

const promptSchema = `{
  "type": "object",
  "properties": {
    "agent": {"type": "string", "minLength": 1},
    "prompt": {"type": "string", "minLength": 1},
    "output": {"type": "string", "minLength": 1}
  },
  "required": ["agent", "prompt"]
}`

type promptAction struct {
	deps Deps
}

// invoke renders "prompt" against the args, sends it to "agent" and returns
// {output: reply}. Each attempt starts a fresh provider session.
func (p *promptAction) invoke(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["agent"].(string)
	agent, ok := p.deps.Agents[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q (configured: %v)", name, p.agentNames())
	}
	if p.deps.Backends == nil {
		return nil, fmt.Errorf("agent %q: no backends configured", name)
	}

	text, _ := args["prompt"].(string)
	prompt, err := render("prompt", text, args)
	if err != nil {
		return nil, err
	}

	info, hasInfo := scheduler.TaskInfoFrom(ctx)
	logger := logging.FromContext(ctx).With("agent", name, "provider", agent.Provider)
	record := hasInfo && p.deps.Recorder != nil

	b, err := p.deps.Backends.New(backend.Config{
		Type:         agent.Type,
		Provider:     agent.Provider,
		Command:      agent.Command,
		Args:         agent.Args,
		WorkDir:      p.deps.WorkDir,
		Model:        agent.Model,
		SystemPrompt: agent.SystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", name, err)
	}
	defer b.Close()

	if record {
		if err := p.deps.Recorder.SaveMessage(ctx, info.RunID, info.Task, backend.RoleUser, prompt); err != nil {
			logger.Warn("failed to record prompt", "error", err)
		}
	}

	logger.Debug("sending prompt", "session_id", b.SessionID())
	resp, err := b.Send(ctx, backend.Message{Content: prompt, Role: backend.RoleUser})
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", name, err)
	}

	if record {
		if err := p.deps.Recorder.SaveSession(ctx, info.RunID, info.Task, b.SessionID(), agent.Provider); err != nil {
			logger.Warn("failed to record session", "error", err)
		}
		if err := p.deps.Recorder.SaveMessage(ctx, info.RunID, info.Task, backend.RoleAssistant, resp.Content); err != nil {
			logger.Warn("failed to record reply", "error", err)
		}
	}

	return map[string]any{outputKey(args, info, hasInfo, "response"): resp.Content}, nil
}

func (p *promptAction) agentNames() []string {
	names := make([]string, 0, len(p.deps.Agents))
	for n := range p.deps.Agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

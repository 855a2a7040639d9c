// Package app groups named workflows, agents and shared resources behind one
// entry point and records finished runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/aristath/taskflow/internal/actions"
	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Context keys seeded by ExecuteWorkflow. They override workflow defaults.
const (
	KeyApplication = "application"
	KeyAgents      = "agents"
	KeyResources   = "resources"
	KeyInput       = "input"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrDuplicateWorkflow = errors.New("workflow already exists")
)

// Config identifies an application.
type Config struct {
	Name        string
	Description string
	Version     string
}

// Status summarizes an application.
type Status struct {
	Name          string
	Version       string
	AgentCount    int
	WorkflowCount int
	ResourceCount int
}

type entry struct {
	workflow *scheduler.Workflow
	defaults scheduler.ExecutionContext
}

// Application owns the engine, the named workflows and the resources shared by their runs.
type Application struct {
	cfg    Config
	engine *orchestrator.Engine
	store  persistence.Store
	logger *slog.Logger

	mu        sync.RWMutex
	workflows map[string]entry
	agents    map[string]actions.Agent
	resources map[string]any
}

// Option configures an Application.
type Option func(*Application)

// WithStore records every finished run in store.
func WithStore(store persistence.Store) Option {
	return func(a *Application) { a.store = store }
}

// WithAgents exposes agents to workflows under the "agents" context key.
func WithAgents(agents map[string]actions.Agent) Option {
	return func(a *Application) { a.agents = maps.Clone(agents) }
}

// WithLogger sets the application logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) { a.logger = logger }
}

// New creates an application running workflows on engine.
func New(cfg Config, engine *orchestrator.Engine, opts ...Option) *Application {
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	a := &Application{
		cfg:       cfg,
		engine:    engine,
		logger:    slog.Default(),
		workflows: make(map[string]entry),
		agents:    make(map[string]actions.Agent),
		resources: make(map[string]any),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.WithModule(a.logger, "app")
	return a
}

// AddWorkflow registers wf under its name. defaults seed its execution
// context and may be nil.
func (a *Application) AddWorkflow(wf *scheduler.Workflow, defaults scheduler.ExecutionContext) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.workflows[wf.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateWorkflow, wf.Name())
	}
	a.workflows[wf.Name()] = entry{workflow: wf, defaults: defaults.Clone()}
	return nil
}

// RemoveWorkflow drops a workflow. Unknown names are ignored.
func (a *Application) RemoveWorkflow(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.workflows, name)
}

// Workflow returns the workflow registered under name.
func (a *Application) Workflow(name string) (*scheduler.Workflow, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.workflows[name]
	return e.workflow, ok
}

// Workflows returns the registered workflow names, sorted.
func (a *Application) Workflows() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.workflows))
	for name := range a.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddResource stores a shared value. An existing resource is replaced.
func (a *Application) AddResource(name string, resource any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resources[name] = resource
}

// Resource returns a shared value.
func (a *Application) Resource(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.resources[name]
	return r, ok
}

// ExecuteWorkflow runs a registered workflow. The context starts from the
// workflow defaults plus application, agents, resources and input.
// The report is returned whenever the engine produced one, including on deadlock.
func (a *Application) ExecuteWorkflow(ctx context.Context, name string, input map[string]any) (*orchestrator.Report, error) {
	a.mu.RLock()
	e, ok := a.workflows[name]
	initial := e.defaults.Clone()
	initial[KeyApplication] = a
	initial[KeyAgents] = maps.Clone(a.agents)
	initial[KeyResources] = maps.Clone(a.resources)
	a.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, name)
	}
	if input == nil {
		input = map[string]any{}
	}
	initial[KeyInput] = input

	report, err := a.engine.Execute(ctx, e.workflow, initial)
	if report != nil && a.store != nil {
		// a cancelled run is still recorded
		saveCtx := context.WithoutCancel(ctx)
		if serr := a.store.SaveRun(saveCtx, persistence.RunFromReport(report)); serr != nil {
			a.logger.Error("failed to record run", "run_id", report.RunID, "workflow", name, "error", serr)
		}
	}
	return report, err
}

// PruneHistory deletes recorded runs older than maxAge. Without a store it does nothing.
func (a *Application) PruneHistory(ctx context.Context, maxAge time.Duration) (int64, error) {
	if a.store == nil || maxAge <= 0 {
		return 0, nil
	}
	n, err := a.store.DeleteRunsBefore(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	if n > 0 {
		a.logger.Info("pruned run history", "runs", n)
	}
	return n, nil
}

// Status reports counts of agents, workflows and resources.
func (a *Application) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Status{
		Name:          a.cfg.Name,
		Version:       a.cfg.Version,
		AgentCount:    len(a.agents),
		WorkflowCount: len(a.workflows),
		ResourceCount: len(a.resources),
	}
}

func (a *Application) String() string {
	s := a.Status()
	return fmt.Sprintf("Application(name=%q, agents=%d, workflows=%d)", s.Name, s.AgentCount, s.WorkflowCount)
}

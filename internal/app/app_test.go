package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskflow/internal/actions"
	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
)

func newApp(t *testing.T, opts ...Option) *Application {
	t.Helper()
	engine := orchestrator.New(scheduler.NewResolver(nil), orchestrator.WithLogger(logging.Discard()))
	return New(Config{Name: "test-app"}, engine, append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func capture(into *map[string]any) scheduler.ActionRef {
	return scheduler.DirectFunc(func(_ context.Context, args map[string]any) (any, error) {
		*into = args
		return nil, nil
	})
}

func TestAddWorkflow_Duplicate(t *testing.T) {
	a := newApp(t)
	require.NoError(t, a.AddWorkflow(scheduler.NewWorkflow("build", ""), nil))

	err := a.AddWorkflow(scheduler.NewWorkflow("build", "again"), nil)
	assert.True(t, errors.Is(err, ErrDuplicateWorkflow))

	require.NoError(t, a.AddWorkflow(scheduler.NewWorkflow("deploy", ""), nil))
	assert.Equal(t, []string{"build", "deploy"}, a.Workflows())

	a.RemoveWorkflow("build")
	_, ok := a.Workflow("build")
	assert.False(t, ok)
}

func TestExecuteWorkflow_NotFound(t *testing.T) {
	report, err := newApp(t).ExecuteWorkflow(context.Background(), "ghost", nil)
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, ErrWorkflowNotFound))
}

func TestExecuteWorkflow_SeedsContext(t *testing.T) {
	agents := map[string]actions.Agent{"writer": {Provider: "claude", Type: "claude"}}
	a := newApp(t, WithAgents(agents))
	a.AddResource("bucket", "s3://reports")

	var seen map[string]any
	wf := scheduler.NewWorkflow("seeded", "")
	require.NoError(t, wf.AddTask(scheduler.TaskDefinition{Name: "look", Action: capture(&seen)}))
	require.NoError(t, a.AddWorkflow(wf, scheduler.ExecutionContext{"repo": "taskflow", KeyInput: "shadowed"}))

	report, err := a.ExecuteWorkflow(context.Background(), "seeded", map[string]any{"version": "1.2"})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, report.WorkflowStatus)

	assert.Same(t, a, seen[KeyApplication])
	assert.Equal(t, agents, seen[KeyAgents])
	assert.Equal(t, map[string]any{"bucket": "s3://reports"}, seen[KeyResources])
	assert.Equal(t, map[string]any{"version": "1.2"}, seen[KeyInput])
	assert.Equal(t, "taskflow", seen["repo"])
}

func TestExecuteWorkflow_NilInputIsEmpty(t *testing.T) {
	a := newApp(t)

	var seen map[string]any
	wf := scheduler.NewWorkflow("plain", "")
	require.NoError(t, wf.AddTask(scheduler.TaskDefinition{Name: "look", Action: capture(&seen)}))
	require.NoError(t, a.AddWorkflow(wf, nil))

	_, err := a.ExecuteWorkflow(context.Background(), "plain", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, seen[KeyInput])
}

func TestExecuteWorkflow_RecordsRuns(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.NewMemoryStore(ctx)
	require.NoError(t, err)
	defer store.Close()

	a := newApp(t, WithStore(store))

	ok := scheduler.TaskDefinition{Name: "ok", Action: scheduler.DirectFunc(func(context.Context, map[string]any) (any, error) {
		return "done", nil
	})}
	good := scheduler.NewWorkflow("good", "")
	require.NoError(t, good.AddTask(ok))
	require.NoError(t, a.AddWorkflow(good, nil))

	stuck := scheduler.NewWorkflow("stuck", "")
	require.NoError(t, stuck.AddTask(scheduler.TaskDefinition{Name: "a", Action: ok.Action, DependsOn: []string{"b"}}))
	require.NoError(t, stuck.AddTask(scheduler.TaskDefinition{Name: "b", Action: ok.Action, DependsOn: []string{"a"}}))
	require.NoError(t, a.AddWorkflow(stuck, nil))

	report, err := a.ExecuteWorkflow(ctx, "good", nil)
	require.NoError(t, err)
	run, err := store.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, run.Status)
	require.Len(t, run.Tasks, 1)
	assert.Equal(t, `"done"`, run.Tasks[0].Output)

	report, err = a.ExecuteWorkflow(ctx, "stuck", nil)
	require.ErrorIs(t, err, scheduler.ErrDeadlock)
	run, err = store.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusDeadlocked, run.Status)
}

func TestPruneHistory(t *testing.T) {
	ctx := context.Background()

	n, err := newApp(t).PruneHistory(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "no store means nothing to prune")

	store, err := persistence.NewMemoryStore(ctx)
	require.NoError(t, err)
	defer store.Close()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.SaveRun(ctx, &persistence.Run{ID: "old", Workflow: "w", Status: "completed", StartedAt: old, FinishedAt: old}))
	require.NoError(t, store.SaveRun(ctx, &persistence.Run{ID: "new", Workflow: "w", Status: "completed", StartedAt: time.Now(), FinishedAt: time.Now()}))

	n, err = newApp(t, WithStore(store)).PruneHistory(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.GetRun(ctx, "old")
	assert.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestStatus(t *testing.T) {
	a := newApp(t, WithAgents(map[string]actions.Agent{"x": {}, "y": {}}))
	a.AddResource("db", struct{}{})
	a.AddResource("db", "replaced")
	require.NoError(t, a.AddWorkflow(scheduler.NewWorkflow("w", ""), nil))

	assert.Equal(t, Status{Name: "test-app", Version: "1.0.0", AgentCount: 2, WorkflowCount: 1, ResourceCount: 1}, a.Status())
	assert.Equal(t, `Application(name="test-app", agents=2, workflows=1)`, a.String())

	r, ok := a.Resource("db")
	assert.True(t, ok)
	assert.Equal(t, "replaced", r)
}

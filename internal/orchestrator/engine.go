package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/tracing"
)

// Config configures the engine.
type Config struct {
	ConcurrencyLimit int         // Max tasks in flight per round, 0 means unlimited
	BlockingWorkers  int         // Blocking actions running at once, abandoned attempts included (default 4)
	Retry            RetryConfig // Backoff between attempts of a retried task
	StrictPreflight  bool        // Resolve every task before the first round
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ConcurrencyLimit: 0,
		BlockingWorkers:  4,
		Retry:            DefaultRetryConfig(),
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithConfig replaces the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithEventBus publishes run events to bus.
func WithEventBus(bus events.Publisher) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracer records a span per run and per task.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithBreakers guards named actions with circuit breakers from reg.
func WithBreakers(reg *BreakerRegistry) Option {
	return func(e *Engine) { e.breakers = reg }
}

// Engine drives workflows to completion in level-synchronous rounds: every
// ready task of a round runs concurrently, the round ends when all of them
// have finished, and only then are results recorded and outputs merged into
// the execution context.
//
// An Engine may execute many workflows, sequentially or concurrently, but a
// given Workflow runs under at most one Execute call at a time.
type Engine struct {
	resolver *scheduler.Resolver
	cfg      Config
	pool     *WorkerPool
	locks    *ResourceLocks
	breakers *BreakerRegistry
	bus      events.Publisher
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an engine resolving actions through resolver.
func New(resolver *scheduler.Resolver, opts ...Option) *Engine {
	if resolver == nil {
		resolver = scheduler.NewResolver(nil)
	}
	e := &Engine{
		resolver: resolver,
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.cfg.BlockingWorkers <= 0 {
		e.cfg.BlockingWorkers = DefaultConfig().BlockingWorkers
	}
	if e.cfg.Retry == (RetryConfig{}) {
		e.cfg.Retry = DefaultRetryConfig()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = tracing.Noop()
	}

	e.logger = logging.WithModule(e.logger, "engine")
	e.pool = NewWorkerPool(e.cfg.BlockingWorkers)
	e.locks = NewResourceLocks()
	return e
}

// Resolver returns the engine's action resolver.
func (e *Engine) Resolver() *scheduler.Resolver { return e.resolver }

// run carries per-Execute state.
type run struct {
	id       string
	workflow *scheduler.Workflow
	logger   *slog.Logger
	round    int
}

// Execute runs wf until every task has finished, or until no task can make
// progress.
//
// The returned Report lists every result recorded in wf. A deadlock returns
// the report together with a *scheduler.DeadlockError; cancellation of ctx
// between rounds returns the report together with ctx.Err(). Errors raised
// before the first round (re-entrant call, strict preflight) return a nil
// report.
func (e *Engine) Execute(ctx context.Context, wf *scheduler.Workflow, initial scheduler.ExecutionContext) (*Report, error) {
	if err := wf.Begin(); err != nil {
		return nil, err
	}
	defer wf.End()

	r := &run{id: uuid.NewString(), workflow: wf}
	r.logger = e.logger.With("run_id", r.id, "workflow", wf.Name())
	ctx = logging.WithLogger(ctx, r.logger)

	execCtx := scheduler.ExecutionContext{}
	if initial != nil {
		execCtx = initial.Clone()
	}

	if e.cfg.StrictPreflight {
		if err := e.resolver.Preflight(wf, execCtx); err != nil {
			return nil, fmt.Errorf("failed to resolve workflow %q: %w", wf.Name(), err)
		}
	}

	ctx, span := e.tracer.Start(ctx, "workflow "+wf.Name(), trace.WithAttributes(
		attribute.String(tracing.RunIDKey, r.id),
		attribute.String(tracing.WorkflowKey, wf.Name()),
	))
	defer span.End()

	started := time.Now()
	r.logger.Info("workflow started", "tasks", len(wf.Tasks()))

	status, runErr := e.loop(ctx, r, execCtx)

	finished := time.Now()
	span.SetAttributes(attribute.Int(tracing.RoundKey, r.round))
	if runErr != nil {
		tracing.SetError(span, runErr)
		r.logger.Error("workflow stopped", "status", status, "rounds", r.round, "error", runErr)
	} else {
		r.logger.Info("workflow completed", "rounds", r.round, "duration", finished.Sub(started))
	}

	e.publish(events.TopicWorkflow, events.WorkflowFinishedEvent{
		Run:       r.id,
		Workflow:  wf.Name(),
		Rounds:    r.round,
		Err:       runErr,
		Duration:  finished.Sub(started),
		Timestamp: finished,
	})

	return buildReport(r.id, wf, status, r.round, started, finished, execCtx, runErr), runErr
}

func (e *Engine) loop(ctx context.Context, r *run, execCtx scheduler.ExecutionContext) (string, error) {
	wf := r.workflow

	for !wf.IsComplete() {
		if err := ctx.Err(); err != nil {
			return StatusCancelled, err
		}

		ready := e.readyTasks(wf)
		if len(ready) == 0 {
			return StatusDeadlocked, e.deadlock(wf)
		}

		r.round++
		e.runRound(ctx, r, ready, execCtx)
		e.publishProgress(r)
	}
	return StatusCompleted, nil
}

// readyTasks drops tasks an external collaborator cancelled.
func (e *Engine) readyTasks(wf *scheduler.Workflow) []scheduler.TaskDefinition {
	ready := wf.ReadyTasks()
	out := ready[:0]
	for _, def := range ready {
		if res, ok := wf.Result(def.Name); ok && res.Status == scheduler.TaskCancelled {
			continue
		}
		out = append(out, def)
	}
	return out
}

func (e *Engine) deadlock(wf *scheduler.Workflow) error {
	blocked := make(map[string][]string)
	for _, def := range wf.Tasks() {
		if res, ok := wf.Result(def.Name); ok && res.Status.IsTerminal() {
			continue
		}
		blocked[def.Name] = wf.UnmetDependencies(def.Name)
	}
	return &scheduler.DeadlockError{Workflow: wf.Name(), Blocked: blocked}
}

// runRound executes one round and applies its results.
func (e *Engine) runRound(ctx context.Context, r *run, ready []scheduler.TaskDefinition, execCtx scheduler.ExecutionContext) {
	wf := r.workflow
	names := make([]string, len(ready))
	for i, def := range ready {
		names[i] = def.Name
	}

	r.logger.Debug("round started", "round", r.round, "tasks", names)
	e.publish(events.TopicWorkflow, events.RoundStartedEvent{
		Run:       r.id,
		Workflow:  wf.Name(),
		Round:     r.round,
		Tasks:     names,
		Timestamp: time.Now(),
	})

	// Every task of the round sees the same context.
	snapshot := execCtx.Clone()

	for _, def := range ready {
		wf.UpdateTaskResult(scheduler.TaskResult{TaskName: def.Name, Status: scheduler.TaskRunning})
		e.publish(events.TopicTask, events.TaskStartedEvent{
			Run:       r.id,
			Name:      def.Name,
			Action:    def.Action.String(),
			Round:     r.round,
			Timestamp: time.Now(),
		})
	}

	results := make([]*scheduler.TaskResult, len(ready))
	engineErrs := make([]error, len(ready))

	var g errgroup.Group
	if e.cfg.ConcurrencyLimit > 0 {
		g.SetLimit(e.cfg.ConcurrencyLimit)
	}
	for i, def := range ready {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					engineErrs[i] = fmt.Errorf("engine panic while executing task %q: %v", def.Name, p)
				}
			}()

			res, err := e.executeTask(ctx, r, def, snapshot)
			if err != nil {
				engineErrs[i] = err
				return nil
			}
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if res == nil {
			// The task keeps its RUNNING record. A later deadlock names it.
			r.logger.Error("task did not produce a result", "task", ready[i].Name, "error", engineErrs[i])
			continue
		}
		wf.UpdateTaskResult(*res)
		e.publishResult(r, *res)
	}

	for _, res := range results {
		if res == nil || res.Status != scheduler.TaskCompleted {
			continue
		}
		if out, ok := asMapping(res.Output); ok {
			execCtx.Merge(out)
		}
	}
}

// asMapping returns output as a map when it is a map with string keys of any
// element type.
func asMapping(output any) (map[string]any, bool) {
	switch out := output.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return out, true
	case scheduler.ExecutionContext:
		return out, true
	}

	v := reflect.ValueOf(output)
	if v.Kind() != reflect.Map || v.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// executeTask resolves and invokes one task. A non-nil error means the engine
// itself failed and no orderly result exists; action failures come back as a
// FAILED result.
func (e *Engine) executeTask(ctx context.Context, r *run, def scheduler.TaskDefinition, snapshot scheduler.ExecutionContext) (scheduler.TaskResult, error) {
	logger := r.logger.With("task", def.Name, "round", r.round)

	ctx, span := e.tracer.Start(ctx, "task "+def.Name, trace.WithAttributes(
		attribute.String(tracing.RunIDKey, r.id),
		attribute.String(tracing.TaskNameKey, def.Name),
		attribute.String(tracing.ActionKey, def.Action.String()),
		attribute.Int(tracing.RoundKey, r.round),
	))
	defer span.End()

	ctx = scheduler.WithTaskInfo(ctx, scheduler.TaskInfo{
		RunID:    r.id,
		Workflow: r.workflow.Name(),
		Task:     def.Name,
		Round:    r.round,
	})

	inv, err := e.resolver.ResolveTask(def, snapshot)
	if err != nil {
		logger.Warn("failed to resolve action", "action", def.Action.String(), "error", err)
		tracing.SetError(span, err)
		return scheduler.TaskResult{TaskName: def.Name, Status: scheduler.TaskFailed, Err: err}, nil
	}

	args := make(map[string]any, len(snapshot)+len(def.Parameters))
	maps.Copy(args, snapshot)
	maps.Copy(args, def.Parameters)

	release, err := e.locks.LockAll(ctx, def.Exclusive)
	if err != nil {
		return scheduler.TaskResult{}, fmt.Errorf("failed to acquire resources for task %q: %w", def.Name, err)
	}
	defer release()

	var (
		output   any
		attempts int
		poolErr  error
	)
	start := time.Now()
	output, attempts, err = retryInvoke(ctx, func(ctx context.Context) (any, error) {
		if inv.Mode != scheduler.ModeBlocking {
			return e.attemptFunc(def, inv, args, nil)(ctx)
		}
		freeSlot, perr := e.pool.Acquire(ctx)
		if perr != nil {
			poolErr = perr
			return nil, perr
		}
		out, callErr := e.attemptFunc(def, inv, args, freeSlot)(ctx)
		// a rejecting breaker never reaches the action
		if errors.Is(callErr, gobreaker.ErrOpenState) || errors.Is(callErr, gobreaker.ErrTooManyRequests) {
			freeSlot()
		}
		return out, callErr
	}, def.RetryCount, e.cfg.Retry, func(n int, err error, wait time.Duration) {
		logger.Warn("retrying task", "attempt", n, "backoff", wait, "error", err)
		e.publish(events.TopicTask, events.TaskRetryingEvent{
			Run:       r.id,
			Name:      def.Name,
			Attempt:   n,
			Err:       err,
			Backoff:   wait,
			Timestamp: time.Now(),
		})
	})
	elapsed := time.Since(start)

	if poolErr != nil && errors.Is(err, poolErr) {
		return scheduler.TaskResult{}, fmt.Errorf("failed to schedule blocking task %q: %w", def.Name, poolErr)
	}

	span.SetAttributes(attribute.Int(tracing.AttemptsKey, attempts))
	if err != nil {
		logger.Warn("task failed", "attempts", attempts, "duration", elapsed, "error", err)
		tracing.SetError(span, err)
		return scheduler.TaskResult{
			TaskName:      def.Name,
			Status:        scheduler.TaskFailed,
			Err:           err,
			ExecutionTime: elapsed,
			Attempts:      attempts,
		}, nil
	}

	logger.Debug("task completed", "attempts", attempts, "duration", elapsed)
	span.SetAttributes(attribute.String(tracing.TaskStatusKey, scheduler.TaskCompleted.String()))
	return scheduler.TaskResult{
		TaskName:      def.Name,
		Status:        scheduler.TaskCompleted,
		Output:        output,
		ExecutionTime: elapsed,
		Attempts:      attempts,
	}, nil
}

// attemptFunc builds one guarded invocation: panic recovery, then the
// per-attempt timeout, then the action's breaker. A non-nil release runs when
// the action returns, which for an abandoned attempt is after the timeout.
func (e *Engine) attemptFunc(def scheduler.TaskDefinition, inv scheduler.Invokable, args map[string]any, release func()) invokeFunc {
	fn := func(ctx context.Context) (any, error) {
		if release != nil {
			defer release()
		}
		return safeInvoke(ctx, inv.Action, maps.Clone(args))
	}
	fn = withTimeout(fn, def.Timeout)
	if e.breakers != nil && def.Action.Action == nil {
		fn = withBreaker(fn, e.breakers.Get(inv.Name))
	}
	return fn
}

func (e *Engine) publish(topic string, ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(topic, ev)
	}
}

func (e *Engine) publishResult(r *run, res scheduler.TaskResult) {
	now := time.Now()
	switch res.Status {
	case scheduler.TaskCompleted:
		e.publish(events.TopicTask, events.TaskCompletedEvent{
			Run:       r.id,
			Name:      res.TaskName,
			Output:    res.Output,
			Duration:  res.ExecutionTime,
			Attempts:  res.Attempts,
			Timestamp: now,
		})
	case scheduler.TaskFailed:
		e.publish(events.TopicTask, events.TaskFailedEvent{
			Run:       r.id,
			Name:      res.TaskName,
			Err:       res.Err,
			Duration:  res.ExecutionTime,
			Attempts:  res.Attempts,
			Timestamp: now,
		})
	}
}

func (e *Engine) publishProgress(r *run) {
	if e.bus == nil {
		return
	}
	st := r.workflow.Status()
	e.publish(events.TopicWorkflow, events.ProgressEvent{
		Run:       r.id,
		Workflow:  st.Name,
		Total:     st.TotalTasks,
		Pending:   st.StatusCounts[scheduler.TaskPending],
		Running:   st.StatusCounts[scheduler.TaskRunning],
		Completed: st.StatusCounts[scheduler.TaskCompleted],
		Failed:    st.StatusCounts[scheduler.TaskFailed],
		Cancelled: st.StatusCounts[scheduler.TaskCancelled],
		Timestamp: time.Now(),
	})
}

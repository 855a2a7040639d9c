package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gammazero/toposort"
)

// Workflow holds a set of task definitions and the results recorded for them.
// It is a pure state holder: readiness and completion are computed here, all
// control flow lives in the engine.
type Workflow struct {
	name        string
	description string

	mu      sync.RWMutex
	order   []string                  // insertion order, drives ReadyTasks ordering
	tasks   map[string]TaskDefinition // name -> definition
	results map[string]TaskResult     // name -> latest result

	executing atomic.Bool
}

// Status summarizes a workflow's progress.
type Status struct {
	Name         string
	TotalTasks   int
	StatusCounts map[TaskStatus]int
	IsComplete   bool
}

// NewWorkflow creates an empty workflow.
func NewWorkflow(name, description string) *Workflow {
	return &Workflow{
		name:        name,
		description: description,
		tasks:       make(map[string]TaskDefinition),
		results:     make(map[string]TaskResult),
	}
}

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// Description returns the workflow description.
func (w *Workflow) Description() string { return w.description }

// AddTask adds a task definition. Returns error if the name already exists.
func (w *Workflow) AddTask(def TaskDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("task name is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.tasks[def.Name]; exists {
		return fmt.Errorf("%w: task with name %q already exists in workflow %q", ErrDuplicateTask, def.Name, w.name)
	}

	w.tasks[def.Name] = cloneDefinition(def)
	w.order = append(w.order, def.Name)
	return nil
}

// Task returns the definition registered under name.
func (w *Workflow) Task(name string) (TaskDefinition, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	def, ok := w.tasks[name]
	if !ok {
		return TaskDefinition{}, false
	}
	return cloneDefinition(def), true
}

// Tasks returns all definitions in insertion order.
func (w *Workflow) Tasks() []TaskDefinition {
	w.mu.RLock()
	defer w.mu.RUnlock()

	defs := make([]TaskDefinition, 0, len(w.order))
	for _, name := range w.order {
		defs = append(defs, cloneDefinition(w.tasks[name]))
	}
	return defs
}

// ReadyTasks returns every task that has not started (no result, or a result
// that is none of COMPLETED, RUNNING, FAILED) and whose dependencies are all
// COMPLETED. Order follows insertion order.
func (w *Workflow) ReadyTasks() []TaskDefinition {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ready := []TaskDefinition{}

	for _, name := range w.order {
		if res, ok := w.results[name]; ok {
			switch res.Status {
			case TaskCompleted, TaskRunning, TaskFailed:
				continue
			}
		}

		task := w.tasks[name]
		if w.dependenciesMet(task) {
			ready = append(ready, cloneDefinition(task))
		}
	}

	return ready
}

func (w *Workflow) dependenciesMet(task TaskDefinition) bool {
	for _, dep := range task.DependsOn {
		res, ok := w.results[dep]
		if !ok || res.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// UnmetDependencies returns the dependencies of name that are not COMPLETED.
func (w *Workflow) UnmetDependencies(name string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	task, ok := w.tasks[name]
	if !ok {
		return nil
	}

	var unmet []string
	for _, dep := range task.DependsOn {
		res, ok := w.results[dep]
		if !ok || res.Status != TaskCompleted {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

// UpdateTaskResult upserts result keyed by its task name. Last write wins.
func (w *Workflow) UpdateTaskResult(result TaskResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.results[result.TaskName] = result
}

// Cancel records a CANCELLED result for a task that has not started yet.
func (w *Workflow) Cancel(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tasks[name]; !ok {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, name)
	}
	if res, ok := w.results[name]; ok {
		return fmt.Errorf("task %q cannot be cancelled (status: %s)", name, res.Status)
	}

	w.results[name] = TaskResult{TaskName: name, Status: TaskCancelled}
	return nil
}

// Result returns the latest result recorded for name.
func (w *Workflow) Result(name string) (TaskResult, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	res, ok := w.results[name]
	return res, ok
}

// Results returns a copy of all recorded results.
func (w *Workflow) Results() map[string]TaskResult {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(map[string]TaskResult, len(w.results))
	for name, res := range w.results {
		out[name] = res
	}
	return out
}

// IsComplete reports whether every task has a COMPLETED, FAILED or CANCELLED
// result. A workflow with no tasks is never complete.
func (w *Workflow) IsComplete() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.tasks) == 0 {
		return false
	}

	for _, name := range w.order {
		res, ok := w.results[name]
		if !ok || !res.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Status returns per-status counts. Tasks without a result count as pending.
func (w *Workflow) Status() Status {
	w.mu.RLock()
	counts := make(map[TaskStatus]int, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}
	for _, name := range w.order {
		if res, ok := w.results[name]; ok {
			counts[res.Status]++
		} else {
			counts[TaskPending]++
		}
	}
	total := len(w.tasks)
	w.mu.RUnlock()

	return Status{
		Name:         w.name,
		TotalTasks:   total,
		StatusCounts: counts,
		IsComplete:   w.IsComplete(),
	}
}

// Validate checks that every dependency names a defined task and that the
// dependency graph is acyclic. Returns the task names in topological order.
func (w *Workflow) Validate() ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, name := range w.order {
		for _, dep := range w.tasks[name].DependsOn {
			if _, exists := w.tasks[dep]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", name, dep)
			}
		}
	}

	var edges []toposort.Edge
	for _, name := range w.order {
		task := w.tasks[name]
		if len(task.DependsOn) == 0 {
			// nil source keeps dependency-free tasks in the sort
			edges = append(edges, toposort.Edge{nil, name})
			continue
		}
		for _, dep := range task.DependsOn {
			edges = append(edges, toposort.Edge{dep, name})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("workflow %q contains a dependency cycle: %w", w.name, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(w.tasks) {
		return nil, fmt.Errorf("workflow %q: topological sort kept %d of %d tasks", w.name, len(order), len(w.tasks))
	}

	return order, nil
}

// Begin marks the workflow as executing. Only one execution may be in flight.
func (w *Workflow) Begin() error {
	if !w.executing.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %q", ErrWorkflowRunning, w.name)
	}
	return nil
}

// End releases the flag set by Begin.
func (w *Workflow) End() {
	w.executing.Store(false)
}

// String implements fmt.Stringer.
func (w *Workflow) String() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return fmt.Sprintf("Workflow(name=%q, tasks=%d)", w.name, len(w.tasks))
}

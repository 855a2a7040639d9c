package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDeadlock is matched by every *DeadlockError.
	ErrDeadlock = errors.New("workflow deadlock detected - no tasks can make progress")

	ErrDuplicateTask    = errors.New("task already exists")
	ErrTaskNotFound     = errors.New("task not found")
	ErrUnresolvedAction = errors.New("could not resolve action")
	ErrWorkflowRunning  = errors.New("workflow is already executing")
	ErrActionPanic      = errors.New("action panicked")
)

// DeadlockError is returned when a workflow is incomplete but nothing is ready.
// Blocked maps each stuck task to the dependencies that keep it from running.
type DeadlockError struct {
	Workflow string
	Blocked  map[string][]string
}

func (e *DeadlockError) Error() string {
	names := make([]string, 0, len(e.Blocked))
	for name := range e.Blocked {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		deps := e.Blocked[name]
		if len(deps) == 0 {
			parts = append(parts, name)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s <- [%s]", name, strings.Join(deps, ", ")))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("workflow %q: %s", e.Workflow, ErrDeadlock)
	}
	return fmt.Sprintf("workflow %q: %s (stuck: %s)", e.Workflow, ErrDeadlock, strings.Join(parts, "; "))
}

func (e *DeadlockError) Unwrap() error { return ErrDeadlock }

// Stuck returns the sorted names of tasks that can never start.
func (e *DeadlockError) Stuck() []string {
	names := make([]string, 0, len(e.Blocked))
	for name := range e.Blocked {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

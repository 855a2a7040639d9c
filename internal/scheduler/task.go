package scheduler

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending   TaskStatus = iota // No result recorded yet
	TaskRunning                     // Dispatched in the current round
	TaskCompleted                   // Action returned without error
	TaskFailed                      // Action (or its resolution) returned an error
	TaskCancelled                   // Terminated by an external collaborator before scheduling
)

// AllStatuses lists every status in display order.
var AllStatuses = []TaskStatus{TaskPending, TaskRunning, TaskCompleted, TaskFailed, TaskCancelled}

// String returns the upper-case status name used in reports.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "PENDING"
	case TaskRunning:
		return "RUNNING"
	case TaskCompleted:
		return "COMPLETED"
	case TaskFailed:
		return "FAILED"
	case TaskCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ParseTaskStatus is the inverse of String.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	for _, status := range AllStatuses {
		if status.String() == s {
			return status, true
		}
	}
	return TaskPending, false
}

// IsTerminal reports whether the status ends a task's lifecycle.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskDefinition describes one unit of work in a workflow.
// It is immutable once added to a Workflow.
type TaskDefinition struct {
	Name       string         // Unique identifier within the workflow
	Action     ActionRef      // What to invoke
	Parameters map[string]any // Merged over the execution context on invocation
	DependsOn  []string       // Names that must be COMPLETED first
	RetryCount int            // Extra attempts after the first failure
	Timeout    time.Duration  // Per-attempt bound, zero means none
	Exclusive  []string       // Resource keys held exclusively while running
}

// TaskResult records the outcome of one task.
type TaskResult struct {
	TaskName      string
	Status        TaskStatus
	Output        any   // Set iff Status == TaskCompleted
	Err           error // Set iff Status == TaskFailed
	ExecutionTime time.Duration
	Attempts      int
}

func cloneDefinition(def TaskDefinition) TaskDefinition {
	cp := def
	if def.DependsOn != nil {
		cp.DependsOn = append([]string(nil), def.DependsOn...)
	}
	if def.Exclusive != nil {
		cp.Exclusive = append([]string(nil), def.Exclusive...)
	}
	if def.Parameters != nil {
		cp.Parameters = make(map[string]any, len(def.Parameters))
		for k, v := range def.Parameters {
			cp.Parameters[k] = v
		}
	}
	return cp
}

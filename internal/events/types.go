package events

import (
	"time"
)

// Event is the base interface for all engine events.
// Every event belongs to one run; task-scoped events also carry a task name.
type Event interface {
	EventType() string
	RunID() string
	TaskName() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicWorkflow = "workflow"
)

// Event type constants
const (
	EventTypeTaskStarted      = "task.started"
	EventTypeTaskRetrying     = "task.retrying"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeRoundStarted     = "workflow.round"
	EventTypeProgress         = "workflow.progress"
	EventTypeWorkflowFinished = "workflow.finished"
)

// TaskStartedEvent is published when a task is dispatched in a round.
type TaskStartedEvent struct {
	Run       string
	Name      string
	Action    string
	Round     int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) RunID() string     { return e.Run }
func (e TaskStartedEvent) TaskName() string  { return e.Name }

// TaskRetryingEvent is published before a failed attempt is retried.
type TaskRetryingEvent struct {
	Run       string
	Name      string
	Attempt   int // attempt that just failed, 1-based
	Err       error
	Backoff   time.Duration
	Timestamp time.Time
}

func (e TaskRetryingEvent) EventType() string { return EventTypeTaskRetrying }
func (e TaskRetryingEvent) RunID() string     { return e.Run }
func (e TaskRetryingEvent) TaskName() string  { return e.Name }

// TaskCompletedEvent is published when a task's action returns successfully.
type TaskCompletedEvent struct {
	Run       string
	Name      string
	Output    any
	Duration  time.Duration
	Attempts  int
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) RunID() string     { return e.Run }
func (e TaskCompletedEvent) TaskName() string  { return e.Name }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	Run       string
	Name      string
	Err       error
	Duration  time.Duration
	Attempts  int
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) RunID() string     { return e.Run }
func (e TaskFailedEvent) TaskName() string  { return e.Name }

// RoundStartedEvent is published before a round fans out.
type RoundStartedEvent struct {
	Run       string
	Workflow  string
	Round     int
	Tasks     []string
	Timestamp time.Time
}

func (e RoundStartedEvent) EventType() string { return EventTypeRoundStarted }
func (e RoundStartedEvent) RunID() string     { return e.Run }
func (e RoundStartedEvent) TaskName() string  { return "" }

// ProgressEvent is published after each round's results are applied.
type ProgressEvent struct {
	Run       string
	Workflow  string
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	Timestamp time.Time
}

func (e ProgressEvent) EventType() string { return EventTypeProgress }
func (e ProgressEvent) RunID() string     { return e.Run }
func (e ProgressEvent) TaskName() string  { return "" }

// WorkflowFinishedEvent is published once per run. Err is nil on completion
// and holds the deadlock or cancellation error otherwise.
type WorkflowFinishedEvent struct {
	Run       string
	Workflow  string
	Rounds    int
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e WorkflowFinishedEvent) EventType() string { return EventTypeWorkflowFinished }
func (e WorkflowFinishedEvent) RunID() string     { return e.Run }
func (e WorkflowFinishedEvent) TaskName() string  { return "" }

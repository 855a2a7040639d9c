package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Workflow outcomes reported by Execute.
const (
	StatusCompleted  = "completed"
	StatusDeadlocked = "deadlocked"
	StatusCancelled  = "cancelled"
)

// Report is the outcome of one Execute call. It is returned for every run
// that started, including runs that end in deadlock or cancellation.
type Report struct {
	RunID          string                     `json:"run_id"`
	Workflow       string                     `json:"workflow"`
	WorkflowStatus string                     `json:"workflow_status"`
	Results        map[string]TaskReport      `json:"results"`
	Rounds         int                        `json:"rounds"`
	StartedAt      time.Time                  `json:"started_at"`
	FinishedAt     time.Time                  `json:"finished_at"`
	Error          string                     `json:"error,omitempty"`
	Context        scheduler.ExecutionContext `json:"-"` // may hold non-serializable bindings
}

// TaskReport is the per-task entry of a Report.
type TaskReport struct {
	Status        string
	Output        any
	Error         string
	ExecutionTime time.Duration
	Attempts      int
}

// MarshalJSON renders execution_time in seconds and error as null when unset.
func (r TaskReport) MarshalJSON() ([]byte, error) {
	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}
	return json.Marshal(struct {
		Status        string  `json:"status"`
		Output        any     `json:"output"`
		Error         *string `json:"error"`
		ExecutionTime float64 `json:"execution_time"`
		Attempts      int     `json:"attempts,omitempty"`
	}{
		Status:        r.Status,
		Output:        r.Output,
		Error:         errText,
		ExecutionTime: r.ExecutionTime.Seconds(),
		Attempts:      r.Attempts,
	})
}

// Duration is the wall-clock length of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Count returns how many tasks ended with status.
func (r *Report) Count(status scheduler.TaskStatus) int {
	n := 0
	for _, tr := range r.Results {
		if tr.Status == status.String() {
			n++
		}
	}
	return n
}

func newTaskReport(res scheduler.TaskResult) TaskReport {
	tr := TaskReport{
		Status:        res.Status.String(),
		Output:        res.Output,
		ExecutionTime: res.ExecutionTime,
		Attempts:      res.Attempts,
	}
	if res.Err != nil {
		tr.Error = res.Err.Error()
	}
	return tr
}

func buildReport(runID string, wf *scheduler.Workflow, status string, rounds int, started, finished time.Time, execCtx scheduler.ExecutionContext, runErr error) *Report {
	results := wf.Results()
	report := &Report{
		RunID:          runID,
		Workflow:       wf.Name(),
		WorkflowStatus: status,
		Results:        make(map[string]TaskReport, len(results)),
		Rounds:         rounds,
		StartedAt:      started,
		FinishedAt:     finished,
		Context:        execCtx,
	}
	for name, res := range results {
		report.Results[name] = newTaskReport(res)
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}
	return report
}

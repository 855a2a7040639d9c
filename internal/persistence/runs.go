package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/taskflow/internal/orchestrator"
)

// ErrRunNotFound is returned by GetRun for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// Run is a persisted workflow run.
type Run struct {
	ID         string
	Workflow   string
	Status     string // orchestrator.StatusCompleted, StatusDeadlocked or StatusCancelled
	Error      string
	Rounds     int
	StartedAt  time.Time
	FinishedAt time.Time
	Tasks      []TaskRecord // sorted by name
}

// TaskRecord is the persisted result of one task.
type TaskRecord struct {
	Name          string
	Status        string
	Output        string // JSON encoding of the output, or its %v form if not encodable
	Error         string
	ExecutionTime time.Duration
	Attempts      int
}

// RunSummary is a Run without its task records, plus per-status counts.
type RunSummary struct {
	ID         string
	Workflow   string
	Status     string
	Rounds     int
	StartedAt  time.Time
	FinishedAt time.Time
	Completed  int
	Failed     int
	Total      int
}

// RunFilter narrows ListRuns. Zero values mean no filter.
type RunFilter struct {
	Workflow string
	Status   string
	Limit    int // default 20
}

// RunFromReport converts an engine report into a persistable run.
func RunFromReport(report *orchestrator.Report) *Run {
	run := &Run{
		ID:         report.RunID,
		Workflow:   report.Workflow,
		Status:     report.WorkflowStatus,
		Error:      report.Error,
		Rounds:     report.Rounds,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Tasks:      make([]TaskRecord, 0, len(report.Results)),
	}

	for name, tr := range report.Results {
		run.Tasks = append(run.Tasks, TaskRecord{
			Name:          name,
			Status:        tr.Status,
			Output:        encodeOutput(tr.Output),
			Error:         tr.Error,
			ExecutionTime: tr.ExecutionTime,
			Attempts:      tr.Attempts,
		})
	}
	sort.Slice(run.Tasks, func(i, j int) bool { return run.Tasks[i].Name < run.Tasks[j].Name })
	return run
}

func encodeOutput(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// SaveRun saves or replaces a run and its task records.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, workflow, status, error, rounds, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow = excluded.workflow,
			status = excluded.status,
			error = excluded.error,
			rounds = excluded.rounds,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, run.ID, run.Workflow, run.Status, run.Error, run.Rounds, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_results WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to delete old task results: %w", err)
	}

	for _, task := range run.Tasks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_results (run_id, task_name, status, output, error, execution_time_us, attempts)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.ID, task.Name, task.Status, task.Output, task.Error, task.ExecutionTime.Microseconds(), task.Attempts)
		if err != nil {
			return fmt.Errorf("failed to insert task result %s/%s: %w", run.ID, task.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRun retrieves a run with its task records.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	run := &Run{}
	var started, finished int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workflow, status, error, rounds, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, runID).Scan(&run.ID, &run.Workflow, &run.Status, &run.Error, &run.Rounds, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.StartedAt = time.UnixMilli(started)
	run.FinishedAt = time.UnixMilli(finished)

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_name, status, output, error, execution_time_us, attempts
		FROM task_results
		WHERE run_id = ?
		ORDER BY task_name
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task results: %w", err)
	}
	defer rows.Close()

	run.Tasks = []TaskRecord{}
	for rows.Next() {
		var task TaskRecord
		var micros int64
		if err := rows.Scan(&task.Name, &task.Status, &task.Output, &task.Error, &micros, &task.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan task result: %w", err)
		}
		task.ExecutionTime = time.Duration(micros) * time.Microsecond
		run.Tasks = append(run.Tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task results: %w", err)
	}

	return run, nil
}

// ListRuns returns run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.workflow, r.status, r.rounds, r.started_at, r.finished_at,
			COALESCE(SUM(CASE WHEN t.status = 'COMPLETED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN t.status = 'FAILED' THEN 1 ELSE 0 END), 0),
			COUNT(t.task_name)
		FROM runs r
		LEFT JOIN task_results t ON t.run_id = r.id
		WHERE (? = '' OR r.workflow = ?) AND (? = '' OR r.status = ?)
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.id
		LIMIT ?
	`, filter.Workflow, filter.Workflow, filter.Status, filter.Status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	summaries := []RunSummary{}
	for rows.Next() {
		var sum RunSummary
		var started, finished int64
		if err := rows.Scan(&sum.ID, &sum.Workflow, &sum.Status, &sum.Rounds, &started, &finished,
			&sum.Completed, &sum.Failed, &sum.Total); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		sum.StartedAt = time.UnixMilli(started)
		sum.FinishedAt = time.UnixMilli(finished)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return summaries, nil
}

// DeleteRunsBefore removes runs started before cutoff, together with their
// task results, sessions and transcripts. Returns the number of runs removed.
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ms := cutoff.UnixMilli()
	for _, stmt := range []string{
		`DELETE FROM sessions WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`,
		`DELETE FROM conversation_history WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`,
		`DELETE FROM task_results WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, ms); err != nil {
			return 0, fmt.Errorf("failed to delete run children: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, ms)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n, nil
}

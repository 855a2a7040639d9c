package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveSession stores the provider session a task used.
// Uses ON CONFLICT to upsert so a retried attempt overwrites the earlier session.
func (s *SQLiteStore) SaveSession(ctx context.Context, runID, taskName, sessionID, provider string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (run_id, task_name, session_id, provider, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, task_name) DO UPDATE SET
			session_id = excluded.session_id,
			provider = excluded.provider
	`, runID, taskName, sessionID, provider, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession retrieves the provider session for a task.
// Returns a wrapped sql.ErrNoRows if none was recorded.
func (s *SQLiteStore) GetSession(ctx context.Context, runID, taskName string) (string, string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var sessionID, provider string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, provider
		FROM sessions
		WHERE run_id = ? AND task_name = ?
	`, runID, taskName).Scan(&sessionID, &provider)

	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("no session found for task %q in run %q: %w", taskName, runID, err)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to query session: %w", err)
	}
	return sessionID, provider, nil
}

// SaveMessage appends a transcript message for a task.
func (s *SQLiteStore) SaveMessage(ctx context.Context, runID, taskName, role, content string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_history (run_id, task_name, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, runID, taskName, role, content, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetHistory returns a task's transcript in chronological order.
// Returns an empty slice (not nil) if no history exists.
func (s *SQLiteStore) GetHistory(ctx context.Context, runID, taskName string) ([]ConversationTurn, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// id breaks ties between messages saved in the same millisecond
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp
		FROM conversation_history
		WHERE run_id = ? AND task_name = ?
		ORDER BY timestamp ASC, id ASC
	`, runID, taskName)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []ConversationTurn{}
	for rows.Next() {
		var turn ConversationTurn
		var ms int64
		if err := rows.Scan(&turn.Role, &turn.Content, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		turn.Timestamp = time.UnixMilli(ms)
		history = append(history, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return history, nil
}

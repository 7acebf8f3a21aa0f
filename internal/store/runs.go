package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Sync types recorded in jira_sync_history.
const (
	SyncTypeWorklogs = "worklogs"
	SyncTypeUsers    = "users"
	SyncTypeProjects = "projects"
)

// Sync run statuses.
const (
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunFailed     = "failed"
)

// SyncRun is one row of jira_sync_history.
type SyncRun struct {
	ID             int64
	SyncType       string
	Status         string
	ItemsProcessed int
	ErrorMessage   string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// Duration returns the run's wall time, or 0 while it is in progress.
func (r SyncRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// InsertSyncRun creates an in_progress run and returns its id.
func (q *Queries) InsertSyncRun(ctx context.Context, syncType string, startedAt time.Time) (int64, error) {
	result, err := q.q.ExecContext(ctx, `
		INSERT INTO jira_sync_history (sync_type, status, items_processed, started_at)
		VALUES (?, ?, 0, ?)`,
		syncType, RunInProgress, formatTime(startedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sync run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get sync run id: %w", err)
	}
	return id, nil
}

// FinishSyncRun moves an in_progress run to a terminal status. It returns
// ErrNotFound if no in_progress run has that id.
func (q *Queries) FinishSyncRun(ctx context.Context, id int64, status string, itemsProcessed int, errorMessage string, completedAt time.Time) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE jira_sync_history
		SET status = ?, items_processed = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		status, itemsProcessed, nullString(errorMessage), formatTime(completedAt), id, RunInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to finish sync run %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const syncRunColumns = `id, sync_type, status, items_processed, error_message, started_at, completed_at`

// GetSyncRun returns the run with the given id.
func (q *Queries) GetSyncRun(ctx context.Context, id int64) (*SyncRun, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+syncRunColumns+` FROM jira_sync_history WHERE id = ?`, id)
	r, err := scanSyncRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListSyncRuns returns the most recent runs first. An empty syncType lists
// every type; limit <= 0 means no limit.
func (q *Queries) ListSyncRuns(ctx context.Context, syncType string, limit int) ([]SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM jira_sync_history`
	var args []interface{}
	if syncType != "" {
		query += ` WHERE sync_type = ?`
		args = append(args, syncType)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	runs := []SyncRun{}
	for rows.Next() {
		r, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

func scanSyncRun(s scanner) (*SyncRun, error) {
	var r SyncRun
	var errorMessage, completedAt sql.NullString
	var startedAt string

	err := s.Scan(&r.ID, &r.SyncType, &r.Status, &r.ItemsProcessed, &errorMessage, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}

	r.ErrorMessage = errorMessage.String
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		r.CompletedAt = &t
	}
	return &r, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Worklog is a mirrored time entry. (IssueKey, UserName, WorkDate) is the
// natural key; a later sync of the same key replaces the row.
type Worklog struct {
	ID          int64
	IssueKey    string
	UserName    string
	ProjectKey  string
	Hours       float64
	WorkDate    time.Time
	Description string
	UpdatedAt   time.Time
}

const worklogColumns = `id, issue_key, user_name, project_key, hours, work_date, description, updated_at`

// UpsertWorklog inserts w or fully replaces the row with the same natural
// key. It reports whether a new row was inserted.
func (q *Queries) UpsertWorklog(ctx context.Context, w Worklog) (bool, error) {
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now()
	}
	workDate := formatDate(w.WorkDate)

	var id int64
	err := q.q.QueryRowContext(ctx,
		`SELECT id FROM worklogs WHERE issue_key = ? AND user_name = ? AND work_date = ?`,
		w.IssueKey, w.UserName, workDate,
	).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = q.q.ExecContext(ctx, `
			INSERT INTO worklogs (issue_key, user_name, project_key, hours, work_date, description, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			w.IssueKey, w.UserName, w.ProjectKey, w.Hours, workDate,
			nullString(w.Description), formatTime(w.UpdatedAt),
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert worklog %s/%s/%s: %w", w.IssueKey, w.UserName, workDate, err)
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("failed to look up worklog: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		UPDATE worklogs
		SET project_key = ?, hours = ?, description = ?, updated_at = ?
		WHERE id = ?`,
		w.ProjectKey, w.Hours, nullString(w.Description), formatTime(w.UpdatedAt), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update worklog %s/%s/%s: %w", w.IssueKey, w.UserName, workDate, err)
	}
	return false, nil
}

// GetWorklog returns the worklog with the given natural key.
func (q *Queries) GetWorklog(ctx context.Context, issueKey, userName string, workDate time.Time) (*Worklog, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+worklogColumns+` FROM worklogs WHERE issue_key = ? AND user_name = ? AND work_date = ?`,
		issueKey, userName, formatDate(workDate),
	)
	w, err := scanWorklog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// ListWorklogs returns worklogs dated within [from, to], ordered by date.
func (q *Queries) ListWorklogs(ctx context.Context, from, to time.Time) ([]Worklog, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+worklogColumns+` FROM worklogs
		WHERE work_date >= ? AND work_date <= ?
		ORDER BY work_date, user_name, issue_key`,
		formatDate(from), formatDate(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query worklogs: %w", err)
	}
	return collectWorklogs(rows)
}

// CountWorklogs returns the number of stored worklogs.
func (q *Queries) CountWorklogs(ctx context.Context) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM worklogs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count worklogs: %w", err)
	}
	return n, nil
}

// UnassignedWorklogs returns worklogs within [from, to] whose (user, project)
// pair has no project_assignments row.
func (q *Queries) UnassignedWorklogs(ctx context.Context, from, to time.Time) ([]Worklog, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT w.id, w.issue_key, w.user_name, w.project_key, w.hours, w.work_date, w.description, w.updated_at
		FROM worklogs w
		LEFT JOIN project_assignments a
			ON a.user_name = w.user_name AND a.project_key = w.project_key
		WHERE a.user_name IS NULL
			AND w.work_date >= ? AND w.work_date <= ?
		ORDER BY w.user_name, w.project_key, w.work_date`,
		formatDate(from), formatDate(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unassigned worklogs: %w", err)
	}
	return collectWorklogs(rows)
}

// MonthlyHours is the total logged time of one user in one month.
type MonthlyHours struct {
	UserName string
	Month    string // YYYY-MM
	Hours    float64
}

// SumHoursByMonth totals worklog hours per user and month for months in
// [fromMonth, toMonth] (YYYY-MM, inclusive).
func (q *Queries) SumHoursByMonth(ctx context.Context, fromMonth, toMonth string) ([]MonthlyHours, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT user_name, SUBSTR(work_date, 1, 7) AS month, SUM(hours)
		FROM worklogs
		WHERE SUBSTR(work_date, 1, 7) >= ? AND SUBSTR(work_date, 1, 7) <= ?
		GROUP BY user_name, SUBSTR(work_date, 1, 7)
		ORDER BY user_name, month`,
		fromMonth, toMonth,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sum worklog hours: %w", err)
	}
	defer rows.Close()

	var out []MonthlyHours
	for rows.Next() {
		var m MonthlyHours
		if err := rows.Scan(&m.UserName, &m.Month, &m.Hours); err != nil {
			return nil, fmt.Errorf("failed to scan monthly hours: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func collectWorklogs(rows *sql.Rows) ([]Worklog, error) {
	defer rows.Close()

	worklogs := []Worklog{}
	for rows.Next() {
		w, err := scanWorklog(rows)
		if err != nil {
			return nil, err
		}
		worklogs = append(worklogs, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return worklogs, nil
}

func scanWorklog(s scanner) (*Worklog, error) {
	var w Worklog
	var workDate, updatedAt string
	var description sql.NullString

	err := s.Scan(&w.ID, &w.IssueKey, &w.UserName, &w.ProjectKey, &w.Hours, &workDate, &description, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan worklog: %w", err)
	}

	if w.WorkDate, err = parseDate(workDate); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	w.Description = description.String
	return &w, nil
}

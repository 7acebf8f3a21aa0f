package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Project mirrors a tracker project.
type Project struct {
	Key      string
	Name     string
	Lead     string
	LastSync time.Time
}

// UpsertProject inserts p or replaces the row with the same key. It reports
// whether a new row was inserted.
func (q *Queries) UpsertProject(ctx context.Context, p Project) (bool, error) {
	if p.LastSync.IsZero() {
		p.LastSync = time.Now()
	}

	result, err := q.q.ExecContext(ctx, `
		UPDATE projects SET name = ?, lead_name = ?, last_sync = ? WHERE project_key = ?`,
		p.Name, nullString(p.Lead), formatTime(p.LastSync), p.Key,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update project %s: %w", p.Key, err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		return false, nil
	}

	result, err = q.q.ExecContext(ctx, q.insertIgnore()+` INTO projects (project_key, name, lead_name, last_sync)
		VALUES (?, ?, ?, ?)`,
		p.Key, p.Name, nullString(p.Lead), formatTime(p.LastSync),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert project %s: %w", p.Key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// GetProject returns the project with the given key.
func (q *Queries) GetProject(ctx context.Context, key string) (*Project, error) {
	var p Project
	var lead sql.NullString
	var lastSync string

	err := q.q.QueryRowContext(ctx,
		`SELECT project_key, name, lead_name, last_sync FROM projects WHERE project_key = ?`, key,
	).Scan(&p.Key, &p.Name, &lead, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	p.Lead = lead.String
	if p.LastSync, err = parseTime(lastSync); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns every project ordered by key.
func (q *Queries) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT project_key, name, lead_name, last_sync FROM projects ORDER BY project_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		var p Project
		var lead sql.NullString
		var lastSync string
		if err := rows.Scan(&p.Key, &p.Name, &lead, &lastSync); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Lead = lead.String
		if p.LastSync, err = parseTime(lastSync); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return projects, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Allocation is the planned hours of one user in one month.
type Allocation struct {
	UserName     string
	Month        string // YYYY-MM
	PlannedHours float64
}

// Assignment links a user to a project they are formally staffed on.
type Assignment struct {
	UserName   string
	ProjectKey string
}

// Unavailability is a declared absence, inclusive of both dates.
type Unavailability struct {
	ID        int64
	UserName  string
	StartDate time.Time
	EndDate   time.Time
	Reason    string
}

// Covers reports whether d falls within the absence.
func (u Unavailability) Covers(d time.Time) bool {
	day := d.Format(DateLayout)
	return day >= u.StartDate.Format(DateLayout) && day <= u.EndDate.Format(DateLayout)
}

// SetAllocation inserts or replaces the planned hours for (user, month).
func (q *Queries) SetAllocation(ctx context.Context, a Allocation) error {
	result, err := q.q.ExecContext(ctx,
		`UPDATE allocations SET planned_hours = ? WHERE user_name = ? AND month = ?`,
		a.PlannedHours, a.UserName, a.Month,
	)
	if err != nil {
		return fmt.Errorf("failed to update allocation: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = q.q.ExecContext(ctx, q.insertIgnore()+` INTO allocations (user_name, month, planned_hours) VALUES (?, ?, ?)`,
		a.UserName, a.Month, a.PlannedHours,
	)
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}
	return nil
}

// ListAllocations returns allocations for months in [fromMonth, toMonth].
func (q *Queries) ListAllocations(ctx context.Context, fromMonth, toMonth string) ([]Allocation, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT user_name, month, planned_hours FROM allocations
		WHERE month >= ? AND month <= ?
		ORDER BY user_name, month`,
		fromMonth, toMonth,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	allocations := []Allocation{}
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.UserName, &a.Month, &a.PlannedHours); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return allocations, nil
}

// AddAssignment records that userName is assigned to projectKey.
func (q *Queries) AddAssignment(ctx context.Context, a Assignment) error {
	_, err := q.q.ExecContext(ctx, q.insertIgnore()+` INTO project_assignments (user_name, project_key) VALUES (?, ?)`,
		a.UserName, a.ProjectKey,
	)
	if err != nil {
		return fmt.Errorf("failed to add assignment %s/%s: %w", a.UserName, a.ProjectKey, err)
	}
	return nil
}

// RemoveAssignment deletes an assignment.
func (q *Queries) RemoveAssignment(ctx context.Context, a Assignment) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM project_assignments WHERE user_name = ? AND project_key = ?`,
		a.UserName, a.ProjectKey,
	)
	if err != nil {
		return fmt.Errorf("failed to remove assignment %s/%s: %w", a.UserName, a.ProjectKey, err)
	}
	return nil
}

// AddUnavailability records an absence and returns its id.
func (q *Queries) AddUnavailability(ctx context.Context, u Unavailability) (int64, error) {
	if u.EndDate.Before(u.StartDate) {
		return 0, fmt.Errorf("unavailability end %s is before start %s",
			u.EndDate.Format(DateLayout), u.StartDate.Format(DateLayout))
	}
	result, err := q.q.ExecContext(ctx, `
		INSERT INTO user_unavailability (user_name, start_date, end_date, reason) VALUES (?, ?, ?, ?)`,
		u.UserName, formatDate(u.StartDate), formatDate(u.EndDate), nullString(u.Reason),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to add unavailability for %s: %w", u.UserName, err)
	}
	return result.LastInsertId()
}

// ListUnavailability returns absences overlapping [from, to].
func (q *Queries) ListUnavailability(ctx context.Context, from, to time.Time) ([]Unavailability, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, user_name, start_date, end_date, reason FROM user_unavailability
		WHERE start_date <= ? AND end_date >= ?
		ORDER BY user_name, start_date`,
		formatDate(to), formatDate(from),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unavailability: %w", err)
	}
	defer rows.Close()

	out := []Unavailability{}
	for rows.Next() {
		var u Unavailability
		var start, end string
		var reason sql.NullString
		if err := rows.Scan(&u.ID, &u.UserName, &start, &end, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan unavailability: %w", err)
		}
		if u.StartDate, err = parseDate(start); err != nil {
			return nil, err
		}
		if u.EndDate, err = parseDate(end); err != nil {
			return nil, err
		}
		u.Reason = reason.String
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// LoggedDays returns the set of (user, date) pairs with at least one worklog
// in [from, to], keyed "user|YYYY-MM-DD".
func (q *Queries) LoggedDays(ctx context.Context, from, to time.Time) (map[string]bool, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT DISTINCT user_name, work_date FROM worklogs
		WHERE work_date >= ? AND work_date <= ?`,
		formatDate(from), formatDate(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query logged days: %w", err)
	}
	defer rows.Close()

	days := make(map[string]bool)
	for rows.Next() {
		var user, date string
		if err := rows.Scan(&user, &date); err != nil {
			return nil, fmt.Errorf("failed to scan logged day: %w", err)
		}
		days[LoggedDayKey(user, date)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return days, nil
}

// LoggedDayKey builds the key used by LoggedDays.
func LoggedDayKey(userName, date string) string {
	return userName + "|" + date
}

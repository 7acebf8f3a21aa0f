// Package report computes read-only aggregates over synced worklogs.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/JohanCodinha/worksync/internal/store"
)

// WorkloadRow compares logged and planned hours for one user and month.
type WorkloadRow struct {
	UserName           string  `json:"user_name"`
	Month              string  `json:"month"`
	ActualHours        float64 `json:"actual_hours"`
	PlannedHours       float64 `json:"planned_hours"`
	OverloadPercentage float64 `json:"overload_percentage"`
}

// MissingWorklog is a working day on which an active user logged nothing.
type MissingWorklog struct {
	UserName string `json:"user_name"`
	Date     string `json:"date"`
}

// OverloadPercentage is (actual - planned) / planned * 100 rounded to two
// decimals, or 0 when nothing was planned.
func OverloadPercentage(actual, planned float64) float64 {
	if planned <= 0 {
		return 0
	}
	return math.Round((actual-planned)/planned*100*100) / 100
}

// Reporter runs reports against the store.
type Reporter struct {
	db  *store.DB
	now func() time.Time
}

// New creates a Reporter.
func New(db *store.DB) *Reporter {
	return &Reporter{db: db, now: time.Now}
}

// WorkloadAnalysis returns one row per (user, month) in [fromMonth, toMonth]
// that has logged or planned hours, ordered by user then month.
func (r *Reporter) WorkloadAnalysis(ctx context.Context, fromMonth, toMonth string) ([]WorkloadRow, error) {
	if err := validateMonths(fromMonth, toMonth); err != nil {
		return nil, err
	}

	actual, err := r.db.SumHoursByMonth(ctx, fromMonth, toMonth)
	if err != nil {
		return nil, err
	}
	planned, err := r.db.ListAllocations(ctx, fromMonth, toMonth)
	if err != nil {
		return nil, err
	}

	type key struct{ user, month string }
	rows := make(map[key]*WorkloadRow)
	get := func(k key) *WorkloadRow {
		row, ok := rows[k]
		if !ok {
			row = &WorkloadRow{UserName: k.user, Month: k.month}
			rows[k] = row
		}
		return row
	}
	for _, a := range actual {
		get(key{a.UserName, a.Month}).ActualHours = a.Hours
	}
	for _, p := range planned {
		get(key{p.UserName, p.Month}).PlannedHours = p.PlannedHours
	}

	out := make([]WorkloadRow, 0, len(rows))
	for _, row := range rows {
		row.ActualHours = math.Round(row.ActualHours*100) / 100
		row.OverloadPercentage = OverloadPercentage(row.ActualHours, row.PlannedHours)
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserName != out[j].UserName {
			return out[i].UserName < out[j].UserName
		}
		return out[i].Month < out[j].Month
	})
	return out, nil
}

// MissingWorklogAlerts flags each weekday among the days calendar days ending
// yesterday on which an active user has no worklog and no declared absence.
// Only accounts mirrored from the tracker are checked.
func (r *Reporter) MissingWorklogAlerts(ctx context.Context, days int) ([]MissingWorklog, error) {
	if days < 1 {
		return nil, fmt.Errorf("days must be at least 1, got %d", days)
	}

	now := r.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(0, 0, -days)
	to := today.AddDate(0, 0, -1)

	users, err := r.db.ListTrackedUsers(ctx)
	if err != nil {
		return nil, err
	}
	logged, err := r.db.LoggedDays(ctx, from, to)
	if err != nil {
		return nil, err
	}
	absences, err := r.db.ListUnavailability(ctx, from, to)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string][]store.Unavailability)
	for _, a := range absences {
		byUser[a.UserName] = append(byUser[a.UserName], a)
	}

	var out []MissingWorklog
	for _, u := range users {
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
				continue
			}
			date := d.Format(store.DateLayout)
			if logged[store.LoggedDayKey(u.UserName, date)] || absent(byUser[u.UserName], d) {
				continue
			}
			out = append(out, MissingWorklog{UserName: u.UserName, Date: date})
		}
	}
	return out, nil
}

func absent(absences []store.Unavailability, d time.Time) bool {
	for _, a := range absences {
		if a.Covers(d) {
			return true
		}
	}
	return false
}

// ShadowWork returns worklogs in [from, to] logged against a project the
// user is not assigned to.
func (r *Reporter) ShadowWork(ctx context.Context, from, to time.Time) ([]store.Worklog, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range %s..%s", from.Format(store.DateLayout), to.Format(store.DateLayout))
	}
	return r.db.UnassignedWorklogs(ctx, from, to)
}

func validateMonths(from, to string) error {
	for _, m := range []string{from, to} {
		if _, err := time.Parse("2006-01", m); err != nil {
			return fmt.Errorf("invalid month %q: want YYYY-MM", m)
		}
	}
	if to < from {
		return fmt.Errorf("invalid month range %s..%s", from, to)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LeaveBalance is a user's leave allowance for one year, in days.
type LeaveBalance struct {
	ID          int64
	UserID      int64
	Year        int
	TotalDays   float64
	UsedDays    float64
	PendingDays float64
	CarriedOver float64
}

// RemainingDays is total + carried over - used - pending.
func (b LeaveBalance) RemainingDays() float64 {
	return b.TotalDays + b.CarriedOver - b.UsedDays - b.PendingDays
}

const leaveColumns = `id, user_id, year, total_days, used_days, pending_days, carried_over`

// GetLeaveBalance returns the balance for (userID, year).
func (q *Queries) GetLeaveBalance(ctx context.Context, userID int64, year int) (*LeaveBalance, error) {
	var b LeaveBalance
	err := q.q.QueryRowContext(ctx,
		`SELECT `+leaveColumns+` FROM leave_balances WHERE user_id = ? AND year = ?`, userID, year,
	).Scan(&b.ID, &b.UserID, &b.Year, &b.TotalDays, &b.UsedDays, &b.PendingDays, &b.CarriedOver)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leave balance: %w", err)
	}
	return &b, nil
}

// InsertLeaveBalance creates the balance for (b.UserID, b.Year) unless one
// already exists, then returns the stored row. An existing row is never
// modified, so carried_over is fixed by whichever caller inserted first.
func (q *Queries) InsertLeaveBalance(ctx context.Context, b LeaveBalance) (*LeaveBalance, error) {
	_, err := q.q.ExecContext(ctx, q.insertIgnore()+` INTO leave_balances
		(user_id, year, total_days, used_days, pending_days, carried_over)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.UserID, b.Year, b.TotalDays, b.UsedDays, b.PendingDays, b.CarriedOver,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert leave balance for user %d/%d: %w", b.UserID, b.Year, err)
	}
	return q.GetLeaveBalance(ctx, b.UserID, b.Year)
}

// UpdateLeaveDays writes used_days and pending_days of an existing balance.
func (q *Queries) UpdateLeaveDays(ctx context.Context, id int64, usedDays, pendingDays float64) error {
	result, err := q.q.ExecContext(ctx,
		`UPDATE leave_balances SET used_days = ?, pending_days = ? WHERE id = ?`,
		usedDays, pendingDays, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update leave balance %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 && q.driver != DriverMySQL {
		return ErrNotFound
	}
	return nil
}

// Package leave keeps per-user yearly leave balances.
//
// A balance is created lazily for (user, year). Its carried_over is computed
// once, at creation, from the previous year's remaining days and capped at
// MaxCarryOver. Requests reserve days as pending; approval moves them to used.
package leave

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/JohanCodinha/worksync/internal/logger"
	"github.com/JohanCodinha/worksync/internal/store"
)

const (
	// DefaultTotalDays is the yearly allowance given to new balances.
	DefaultTotalDays = 26.0

	// MaxCarryOver caps the days rolled into the next year.
	MaxCarryOver = 5.0
)

var (
	// ErrInsufficientBalance is returned when a request exceeds the remaining days.
	ErrInsufficientBalance = errors.New("insufficient leave balance")

	// ErrInvalidChange is returned for non-positive day counts and for changes
	// that would drive used or pending days below zero.
	ErrInvalidChange = errors.New("invalid leave balance change")
)

// Ledger reads and mutates leave balances.
// Concurrent mutations of one balance are serialized only by the store's
// transaction isolation.
type Ledger struct {
	db  *store.DB
	now func() time.Time
}

// New creates a Ledger over db.
func New(db *store.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// CanRequestLeave reports whether b has at least days remaining.
func CanRequestLeave(b store.LeaveBalance, days float64) bool {
	return b.RemainingDays() >= days
}

// GetOrCreate returns the balance for (userID, year), creating it if needed.
// A year of 0 means the current year.
func (l *Ledger) GetOrCreate(ctx context.Context, userID int64, year int) (*store.LeaveBalance, error) {
	if year == 0 {
		year = l.now().Year()
	}
	return getOrCreate(ctx, l.db.Queries, userID, year)
}

func getOrCreate(ctx context.Context, q *store.Queries, userID int64, year int) (*store.LeaveBalance, error) {
	b, err := q.GetLeaveBalance(ctx, userID, year)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	carried := 0.0
	prev, err := q.GetLeaveBalance(ctx, userID, year-1)
	switch {
	case err == nil:
		carried = carryOver(prev.RemainingDays())
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	b, err = q.InsertLeaveBalance(ctx, store.LeaveBalance{
		UserID:      userID,
		Year:        year,
		TotalDays:   DefaultTotalDays,
		CarriedOver: carried,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("leave: created %d balance for user %d (carried over %g)", year, userID, b.CarriedOver)
	return b, nil
}

func carryOver(remaining float64) float64 {
	return math.Max(0, math.Min(remaining, MaxCarryOver))
}

// UpdateBalance applies daysChange to b and persists it in one transaction.
// Pending changes adjust pending_days. Other changes adjust used_days and
// release min(pending_days, |daysChange|) of pending days. b is updated in
// place on success.
func (l *Ledger) UpdateBalance(ctx context.Context, b *store.LeaveBalance, daysChange float64, isPending bool, changedBy string) error {
	updated := *b
	err := l.db.WithTx(ctx, func(tx *store.Tx) error {
		return l.apply(ctx, tx.Queries, &updated, daysChange, isPending, changedBy)
	})
	if err != nil {
		return err
	}
	*b = updated
	return nil
}

// Request reserves days of leave for userID in year as pending.
func (l *Ledger) Request(ctx context.Context, userID int64, year int, days float64, changedBy string) (*store.LeaveBalance, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: request of %g days", ErrInvalidChange, days)
	}
	return l.mutate(ctx, userID, year, func(q *store.Queries, b *store.LeaveBalance) error {
		if !CanRequestLeave(*b, days) {
			return fmt.Errorf("%w: %g days requested, %g remaining", ErrInsufficientBalance, days, b.RemainingDays())
		}
		return l.apply(ctx, q, b, days, true, changedBy)
	})
}

// Approve converts days of pending leave to used leave. Approving more than
// is pending fails with ErrInsufficientBalance if the excess would overdraw
// the balance.
func (l *Ledger) Approve(ctx context.Context, userID int64, year int, days float64, changedBy string) (*store.LeaveBalance, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: approval of %g days", ErrInvalidChange, days)
	}
	return l.mutate(ctx, userID, year, func(q *store.Queries, b *store.LeaveBalance) error {
		// Days beyond the pending reservation draw on the remaining balance.
		if extra := days - b.PendingDays; extra > 0 && !CanRequestLeave(*b, extra) {
			return fmt.Errorf("%w: %g days approved, %g pending, %g remaining", ErrInsufficientBalance, days, b.PendingDays, b.RemainingDays())
		}
		return l.apply(ctx, q, b, days, false, changedBy)
	})
}

// Reject releases days of pending leave. It also serves cancellations.
func (l *Ledger) Reject(ctx context.Context, userID int64, year int, days float64, changedBy string) (*store.LeaveBalance, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: rejection of %g days", ErrInvalidChange, days)
	}
	return l.mutate(ctx, userID, year, func(q *store.Queries, b *store.LeaveBalance) error {
		return l.apply(ctx, q, b, -days, true, changedBy)
	})
}

func (l *Ledger) mutate(ctx context.Context, userID int64, year int, fn func(q *store.Queries, b *store.LeaveBalance) error) (*store.LeaveBalance, error) {
	if year == 0 {
		year = l.now().Year()
	}

	var result *store.LeaveBalance
	err := l.db.WithTx(ctx, func(tx *store.Tx) error {
		b, err := getOrCreate(ctx, tx.Queries, userID, year)
		if err != nil {
			return err
		}
		if err := fn(tx.Queries, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *Ledger) apply(ctx context.Context, q *store.Queries, b *store.LeaveBalance, daysChange float64, isPending bool, changedBy string) error {
	used, pending := b.UsedDays, b.PendingDays
	if isPending {
		pending += daysChange
	} else {
		used += daysChange
		pending -= math.Min(pending, math.Abs(daysChange))
	}
	if used < 0 || pending < 0 {
		return fmt.Errorf("%w: used %g, pending %g after change of %g", ErrInvalidChange, used, pending, daysChange)
	}

	if err := q.UpdateLeaveDays(ctx, b.ID, used, pending); err != nil {
		return err
	}

	key := strconv.FormatInt(b.UserID, 10) + "/" + strconv.Itoa(b.Year)
	now := l.now()
	for _, c := range []struct {
		field    string
		old, new float64
	}{
		{"used_days", b.UsedDays, used},
		{"pending_days", b.PendingDays, pending},
	} {
		if c.old == c.new {
			continue
		}
		if err := q.InsertChange(ctx, store.ChangeEntry{
			TableName: "leave_balances",
			RecordKey: key,
			Field:     c.field,
			OldValue:  formatDays(c.old),
			NewValue:  formatDays(c.new),
			ChangedBy: changedBy,
			ChangedAt: now,
		}); err != nil {
			return err
		}
	}

	b.UsedDays, b.PendingDays = used, pending
	return nil
}

func formatDays(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}

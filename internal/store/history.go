package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ChangeEntry is an audit row in change_history.
type ChangeEntry struct {
	ID        int64
	TableName string
	RecordKey string
	Field     string
	OldValue  string
	NewValue  string
	ChangedBy string
	ChangedAt time.Time
}

// InsertChange appends an audit row.
func (q *Queries) InsertChange(ctx context.Context, c ChangeEntry) error {
	if c.ChangedAt.IsZero() {
		c.ChangedAt = time.Now()
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO change_history (table_name, record_key, field, old_value, new_value, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.TableName, c.RecordKey, c.Field, nullString(c.OldValue), nullString(c.NewValue),
		c.ChangedBy, formatTime(c.ChangedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record change to %s %s: %w", c.TableName, c.RecordKey, err)
	}
	return nil
}

// ListChanges returns audit rows for one record, oldest first. An empty
// recordKey returns every row of the table.
func (q *Queries) ListChanges(ctx context.Context, tableName, recordKey string) ([]ChangeEntry, error) {
	query := `
		SELECT id, table_name, record_key, field, old_value, new_value, changed_by, changed_at
		FROM change_history WHERE table_name = ?`
	args := []interface{}{tableName}
	if recordKey != "" {
		query += ` AND record_key = ?`
		args = append(args, recordKey)
	}
	query += ` ORDER BY id`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query change history: %w", err)
	}
	defer rows.Close()

	changes := []ChangeEntry{}
	for rows.Next() {
		var c ChangeEntry
		var oldValue, newValue sql.NullString
		var changedAt string
		if err := rows.Scan(&c.ID, &c.TableName, &c.RecordKey, &c.Field, &oldValue, &newValue, &c.ChangedBy, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.OldValue = oldValue.String
		c.NewValue = newValue.String
		if c.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return changes, nil
}

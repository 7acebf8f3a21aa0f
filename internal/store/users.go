package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JohanCodinha/worksync/internal/logger"
)

// JiraUser mirrors a tracker account. AccountKey is the natural key.
type JiraUser struct {
	ID          int64
	AccountKey  string
	UserName    string
	DisplayName string
	Email       string
	IsActive    bool
	LastSync    time.Time
}

// LocalUser is an application account. Role and PasswordHash are replaced by
// user sync unless the account is protected.
type LocalUser struct {
	ID           int64
	UserName     string
	DisplayName  string
	Email        string
	IsActive     bool
	Role         string
	PasswordHash string
	IsProtected  bool
}

// ProtectedAccount holds the fields that must survive user sync.
type ProtectedAccount struct {
	UserName     string
	Role         string
	PasswordHash string
	ProtectedAt  time.Time
}

// UpsertJiraUser inserts u or replaces the row with the same account key.
// last_sync is always written. It reports whether a new row was inserted.
//
// Tracker user names can move between accounts. Another account still
// holding u.UserName is parked under a placeholder name until its own record
// arrives, and a renamed account takes its local users row with it, so the
// local row and its leave balances stay with the account that owned them.
func (q *Queries) UpsertJiraUser(ctx context.Context, u JiraUser) (bool, error) {
	if u.LastSync.IsZero() {
		u.LastSync = time.Now()
	}

	if err := q.parkJiraUserName(ctx, u.UserName, u.AccountKey); err != nil {
		return false, err
	}

	var id int64
	var oldName string
	err := q.q.QueryRowContext(ctx, `SELECT id, user_name FROM jira_users WHERE account_key = ?`, u.AccountKey).Scan(&id, &oldName)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = q.q.ExecContext(ctx, `
			INSERT INTO jira_users (account_key, user_name, display_name, email, is_active, last_sync)
			VALUES (?, ?, ?, ?, ?, ?)`,
			u.AccountKey, u.UserName, nullString(u.DisplayName), nullString(u.Email),
			boolToInt(u.IsActive), formatTime(u.LastSync),
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert jira user %s: %w", u.AccountKey, err)
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("failed to look up jira user: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		UPDATE jira_users
		SET user_name = ?, display_name = ?, email = ?, is_active = ?, last_sync = ?
		WHERE id = ?`,
		u.UserName, nullString(u.DisplayName), nullString(u.Email),
		boolToInt(u.IsActive), formatTime(u.LastSync), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update jira user %s: %w", u.AccountKey, err)
	}

	if oldName != u.UserName {
		if err := q.renameUser(ctx, oldName, u.UserName); err != nil {
			return false, err
		}
		logger.Info("store: jira account %s renamed from %s to %s", u.AccountKey, oldName, u.UserName)
	}
	return false, nil
}

// ParkedUserName is the placeholder given to an account whose user name was
// claimed by accountKey's former holder. The account key keeps it unique.
func ParkedUserName(userName, accountKey string) string {
	return userName + "~" + accountKey
}

// parkJiraUserName moves userName off any account other than accountKey.
func (q *Queries) parkJiraUserName(ctx context.Context, userName, accountKey string) error {
	var holder string
	err := q.q.QueryRowContext(ctx,
		`SELECT account_key FROM jira_users WHERE user_name = ? AND account_key <> ?`,
		userName, accountKey,
	).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up holder of user name %s: %w", userName, err)
	}

	parked := ParkedUserName(userName, holder)
	if _, err := q.q.ExecContext(ctx, `UPDATE jira_users SET user_name = ? WHERE account_key = ?`, parked, holder); err != nil {
		return fmt.Errorf("failed to park jira user %s: %w", holder, err)
	}
	if err := q.renameUser(ctx, userName, parked); err != nil {
		return err
	}

	logger.Warn("store: user name %s moved from jira account %s to %s; %s parked as %s", userName, holder, accountKey, holder, parked)
	return nil
}

// renameUser renames the local users row from oldName to newName. It is a
// no-op if oldName has no row or newName is already taken.
func (q *Queries) renameUser(ctx context.Context, oldName, newName string) error {
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE user_name = ?`, newName).Scan(&n); err != nil {
		return fmt.Errorf("failed to look up user %s: %w", newName, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := q.q.ExecContext(ctx, `UPDATE users SET user_name = ? WHERE user_name = ?`, newName, oldName); err != nil {
		return fmt.Errorf("failed to rename user %s to %s: %w", oldName, newName, err)
	}
	return nil
}

// GetJiraUser returns the mirrored account with the given key.
func (q *Queries) GetJiraUser(ctx context.Context, accountKey string) (*JiraUser, error) {
	var u JiraUser
	var displayName, email sql.NullString
	var active int
	var lastSync string

	err := q.q.QueryRowContext(ctx, `
		SELECT id, account_key, user_name, display_name, email, is_active, last_sync
		FROM jira_users WHERE account_key = ?`, accountKey,
	).Scan(&u.ID, &u.AccountKey, &u.UserName, &displayName, &email, &active, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get jira user: %w", err)
	}

	u.DisplayName = displayName.String
	u.Email = email.String
	u.IsActive = active != 0
	if u.LastSync, err = parseTime(lastSync); err != nil {
		return nil, err
	}
	return &u, nil
}

// CountJiraUsers returns the number of mirrored accounts.
func (q *Queries) CountJiraUsers(ctx context.Context) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM jira_users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count jira users: %w", err)
	}
	return n, nil
}

const userColumns = `id, user_name, display_name, email, is_active, role, password_hash, is_protected`

// UpsertUser inserts u or fully replaces the row with the same user name.
// It reports whether a new row was inserted.
func (q *Queries) UpsertUser(ctx context.Context, u LocalUser) (bool, error) {
	var id int64
	err := q.q.QueryRowContext(ctx, `SELECT id FROM users WHERE user_name = ?`, u.UserName).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = q.q.ExecContext(ctx, `
			INSERT INTO users (user_name, display_name, email, is_active, role, password_hash, is_protected)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.UserName, nullString(u.DisplayName), nullString(u.Email), boolToInt(u.IsActive),
			u.Role, u.PasswordHash, boolToInt(u.IsProtected),
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert user %s: %w", u.UserName, err)
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("failed to look up user: %w", err)
	}

	_, err = q.q.ExecContext(ctx, `
		UPDATE users
		SET display_name = ?, email = ?, is_active = ?, role = ?, password_hash = ?, is_protected = ?
		WHERE id = ?`,
		nullString(u.DisplayName), nullString(u.Email), boolToInt(u.IsActive),
		u.Role, u.PasswordHash, boolToInt(u.IsProtected), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update user %s: %w", u.UserName, err)
	}
	return false, nil
}

// GetUser returns the local account with the given user name.
func (q *Queries) GetUser(ctx context.Context, userName string) (*LocalUser, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_name = ?`, userName)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// GetUserByID returns the local account with the given id.
func (q *Queries) GetUserByID(ctx context.Context, id int64) (*LocalUser, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// ListUsers returns local accounts ordered by user name.
func (q *Queries) ListUsers(ctx context.Context, activeOnly bool) ([]LocalUser, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY user_name`
	return q.queryUsers(ctx, query)
}

// ListTrackedUsers returns active local accounts that are mirrored from the
// tracker, ordered by user name. Local-only accounts are excluded.
func (q *Queries) ListTrackedUsers(ctx context.Context) ([]LocalUser, error) {
	return q.queryUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE is_active = 1
		  AND EXISTS (SELECT 1 FROM jira_users j WHERE j.user_name = users.user_name)
		ORDER BY user_name`)
}

func (q *Queries) queryUsers(ctx context.Context, query string, args ...interface{}) ([]LocalUser, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []LocalUser{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return users, nil
}

// SetUserProtection writes the protected fields of an existing user.
func (q *Queries) SetUserProtection(ctx context.Context, userName, role, passwordHash string, protected bool) error {
	result, err := q.q.ExecContext(ctx, `
		UPDATE users SET role = ?, password_hash = ?, is_protected = ? WHERE user_name = ?`,
		role, passwordHash, boolToInt(protected), userName,
	)
	if err != nil {
		return fmt.Errorf("failed to update protection for %s: %w", userName, err)
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

func scanUser(s scanner) (*LocalUser, error) {
	var u LocalUser
	var displayName, email sql.NullString
	var active, protected int

	err := s.Scan(&u.ID, &u.UserName, &displayName, &email, &active, &u.Role, &u.PasswordHash, &protected)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	u.DisplayName = displayName.String
	u.Email = email.String
	u.IsActive = active != 0
	u.IsProtected = protected != 0
	return &u, nil
}

// SaveProtectedAccount inserts or replaces a protected_accounts row.
func (q *Queries) SaveProtectedAccount(ctx context.Context, p ProtectedAccount) error {
	if p.ProtectedAt.IsZero() {
		p.ProtectedAt = time.Now()
	}

	result, err := q.q.ExecContext(ctx, `
		UPDATE protected_accounts SET role = ?, password_hash = ? WHERE user_name = ?`,
		p.Role, p.PasswordHash, p.UserName,
	)
	if err != nil {
		return fmt.Errorf("failed to update protected account %s: %w", p.UserName, err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = q.q.ExecContext(ctx, q.insertIgnore()+` INTO protected_accounts (user_name, role, password_hash, protected_at)
		VALUES (?, ?, ?, ?)`,
		p.UserName, p.Role, p.PasswordHash, formatTime(p.ProtectedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert protected account %s: %w", p.UserName, err)
	}
	return nil
}

// DeleteProtectedAccount removes a protected_accounts row.
func (q *Queries) DeleteProtectedAccount(ctx context.Context, userName string) error {
	result, err := q.q.ExecContext(ctx, `DELETE FROM protected_accounts WHERE user_name = ?`, userName)
	if err != nil {
		return fmt.Errorf("failed to delete protected account %s: %w", userName, err)
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

// ListProtectedAccounts returns every protected account ordered by user name.
func (q *Queries) ListProtectedAccounts(ctx context.Context) ([]ProtectedAccount, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT user_name, role, password_hash, protected_at
		FROM protected_accounts ORDER BY user_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query protected accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ProtectedAccount{}
	for rows.Next() {
		var p ProtectedAccount
		var protectedAt string
		if err := rows.Scan(&p.UserName, &p.Role, &p.PasswordHash, &protectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan protected account: %w", err)
		}
		if p.ProtectedAt, err = parseTime(protectedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return accounts, nil
}

// ProtectAccount marks userName protected with the given role and password
// hash, creating the local account if it does not exist yet.
func (db *DB) ProtectAccount(ctx context.Context, userName, role, passwordHash, changedBy string) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		existing, err := tx.GetUser(ctx, userName)
		switch {
		case errors.Is(err, ErrNotFound):
			if _, err := tx.UpsertUser(ctx, LocalUser{
				UserName:     userName,
				IsActive:     true,
				Role:         role,
				PasswordHash: passwordHash,
				IsProtected:  true,
			}); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.SetUserProtection(ctx, userName, role, passwordHash, true); err != nil {
				return err
			}
		}

		if err := tx.SaveProtectedAccount(ctx, ProtectedAccount{
			UserName:     userName,
			Role:         role,
			PasswordHash: passwordHash,
		}); err != nil {
			return err
		}

		oldRole := ""
		if existing != nil {
			oldRole = existing.Role
		}
		return tx.InsertChange(ctx, ChangeEntry{
			TableName: "users",
			RecordKey: userName,
			Field:     "is_protected",
			OldValue:  fmt.Sprintf("role=%s", oldRole),
			NewValue:  fmt.Sprintf("role=%s protected", role),
			ChangedBy: changedBy,
		})
	})
}

// UnprotectAccount clears protection. Role and password hash stay as they
// are until the next user sync replaces them.
func (db *DB) UnprotectAccount(ctx context.Context, userName, changedBy string) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.DeleteProtectedAccount(ctx, userName); err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `UPDATE users SET is_protected = 0 WHERE user_name = ?`, userName); err != nil {
			return fmt.Errorf("failed to clear protection for %s: %w", userName, err)
		}
		return tx.InsertChange(ctx, ChangeEntry{
			TableName: "users",
			RecordKey: userName,
			Field:     "is_protected",
			OldValue:  "1",
			NewValue:  "0",
			ChangedBy: changedBy,
		})
	})
}

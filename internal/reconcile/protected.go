package reconcile

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/JohanCodinha/worksync/internal/logger"
	"github.com/JohanCodinha/worksync/internal/store"
)

const redactedHash = "[redacted]"

// snapshotProtected returns the protected fields keyed by user name. Users
// flagged is_protected without a protected_accounts row are adopted into the
// side table first so a flag set outside ProtectAccount is not lost.
func snapshotProtected(ctx context.Context, tx *store.Tx) (map[string]store.ProtectedAccount, error) {
	accounts, err := tx.ListProtectedAccounts(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]store.ProtectedAccount, len(accounts))
	for _, p := range accounts {
		snapshot[p.UserName] = p
	}

	users, err := tx.ListUsers(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if !u.IsProtected {
			continue
		}
		if _, ok := snapshot[u.UserName]; ok {
			continue
		}
		p := store.ProtectedAccount{UserName: u.UserName, Role: u.Role, PasswordHash: u.PasswordHash}
		if err := tx.SaveProtectedAccount(ctx, p); err != nil {
			return nil, err
		}
		logger.Warn("sync: user %s was flagged protected without a protected_accounts row; adopted", u.UserName)
		snapshot[u.UserName] = p
	}

	return snapshot, nil
}

// restoreProtected writes the snapshot back over the users table and records
// each field the batch had overwritten.
func restoreProtected(ctx context.Context, tx *store.Tx, snapshot map[string]store.ProtectedAccount, now time.Time) error {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := snapshot[name]

		cur, err := tx.GetUser(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		if cur.Role == p.Role && cur.PasswordHash == p.PasswordHash && cur.IsProtected {
			continue
		}

		if cur.Role != p.Role {
			if err := tx.InsertChange(ctx, store.ChangeEntry{
				TableName: "users",
				RecordKey: name,
				Field:     "role",
				OldValue:  cur.Role,
				NewValue:  p.Role,
				ChangedBy: ChangedBy,
				ChangedAt: now,
			}); err != nil {
				return err
			}
		}
		if cur.PasswordHash != p.PasswordHash {
			if err := tx.InsertChange(ctx, store.ChangeEntry{
				TableName: "users",
				RecordKey: name,
				Field:     "password_hash",
				OldValue:  redactIfSet(cur.PasswordHash),
				NewValue:  redactIfSet(p.PasswordHash),
				ChangedBy: ChangedBy,
				ChangedAt: now,
			}); err != nil {
				return err
			}
		}

		if err := tx.SetUserProtection(ctx, name, p.Role, p.PasswordHash, true); err != nil {
			return err
		}
		logger.Info("sync: restored protected account %s (role %s)", name, p.Role)
	}

	return nil
}

func redactIfSet(s string) string {
	if s == "" {
		return ""
	}
	return redactedHash
}

// Package reconcile merges batches of tracker records into the local store.
//
// Every upsert is keyed by the record's natural key and fully replaces the
// existing row. Accounts listed in protected_accounts are the exception: their
// role and password hash are snapshotted before a user batch and written back
// after it, inside the same transaction.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/JohanCodinha/worksync/internal/logger"
	"github.com/JohanCodinha/worksync/internal/store"
)

// ChangedBy is the actor recorded in change_history for sync-driven changes.
const ChangedBy = "sync"

// Result counts rows inserted versus replaced by one batch.
type Result struct {
	Added   int
	Updated int
}

// Add accumulates another batch result.
func (r *Result) Add(other Result) {
	r.Added += other.Added
	r.Updated += other.Updated
}

// Total is Added + Updated.
func (r Result) Total() int {
	return r.Added + r.Updated
}

func (r *Result) count(added bool) {
	if added {
		r.Added++
	} else {
		r.Updated++
	}
}

// Reconciler applies batches to the store.
type Reconciler struct {
	db          *store.DB
	defaultRole string
	now         func() time.Time
}

// New creates a Reconciler. defaultRole is given to synced accounts that are
// not protected.
func New(db *store.DB, defaultRole string) *Reconciler {
	if defaultRole == "" {
		defaultRole = "user"
	}
	return &Reconciler{db: db, defaultRole: defaultRole, now: time.Now}
}

// UpsertWorklogs writes a batch of worklogs in one transaction.
func (r *Reconciler) UpsertWorklogs(ctx context.Context, worklogs []store.Worklog) (Result, error) {
	var res Result
	now := r.now()

	err := r.db.WithTx(ctx, func(tx *store.Tx) error {
		for _, w := range worklogs {
			w.UpdatedAt = now
			added, err := tx.UpsertWorklog(ctx, w)
			if err != nil {
				return err
			}
			res.count(added)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("worklog batch rolled back: %w", err)
	}
	return res, nil
}

// UpsertProjects writes a batch of projects in one transaction.
func (r *Reconciler) UpsertProjects(ctx context.Context, projects []store.Project) (Result, error) {
	var res Result
	now := r.now()

	err := r.db.WithTx(ctx, func(tx *store.Tx) error {
		for _, p := range projects {
			p.LastSync = now
			added, err := tx.UpsertProject(ctx, p)
			if err != nil {
				return err
			}
			res.count(added)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("project batch rolled back: %w", err)
	}
	return res, nil
}

// UpsertUsers writes a page of tracker accounts. Each account is mirrored into
// jira_users and replaces the matching local users row with the default role
// and an empty password hash; protected accounts are then restored. Counts
// refer to jira_users rows.
func (r *Reconciler) UpsertUsers(ctx context.Context, users []store.JiraUser) (Result, error) {
	var res Result
	now := r.now()

	err := r.db.WithTx(ctx, func(tx *store.Tx) error {
		snapshot, err := snapshotProtected(ctx, tx)
		if err != nil {
			return err
		}

		for _, u := range users {
			u.LastSync = now
			added, err := tx.UpsertJiraUser(ctx, u)
			if err != nil {
				return err
			}
			res.count(added)

			if _, err := tx.UpsertUser(ctx, store.LocalUser{
				UserName:    u.UserName,
				DisplayName: u.DisplayName,
				Email:       u.Email,
				IsActive:    u.IsActive,
				Role:        r.defaultRole,
			}); err != nil {
				return err
			}
		}

		return restoreProtected(ctx, tx, snapshot, now)
	})
	if err != nil {
		return Result{}, fmt.Errorf("user batch rolled back: %w", err)
	}

	logger.Debug("sync: reconciled %d users (%d new)", res.Total(), res.Added)
	return res, nil
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JohanCodinha/worksync/internal/logger"
	"github.com/JohanCodinha/worksync/internal/store"
	"github.com/JohanCodinha/worksync/internal/telemetry"
)

// ErrRunNotInProgress is returned when finishing a run that is already terminal.
var ErrRunNotInProgress = errors.New("sync run is not in progress")

// Run is a sync attempt opened by RunTracker.Begin.
type Run struct {
	ID        int64
	SyncType  string
	StartedAt time.Time

	// RecordErrors is reported to metrics when the run completes.
	RecordErrors int
}

// RunTracker records the lifecycle of sync runs in jira_sync_history.
// It does not prevent two runs of the same type from overlapping.
type RunTracker struct {
	db      *store.DB
	metrics *telemetry.SyncMetrics
	now     func() time.Time
}

// NewRunTracker creates a tracker. metrics may be nil.
func NewRunTracker(db *store.DB, metrics *telemetry.SyncMetrics) *RunTracker {
	return &RunTracker{db: db, metrics: metrics, now: time.Now}
}

// Begin inserts an in_progress run.
func (t *RunTracker) Begin(ctx context.Context, syncType string) (*Run, error) {
	started := t.now()
	id, err := t.db.InsertSyncRun(context.WithoutCancel(ctx), syncType, started)
	if err != nil {
		return nil, fmt.Errorf("failed to begin %s sync: %w", syncType, err)
	}

	logger.WithFields(map[string]interface{}{"run_id": id, "sync_type": syncType}).Debug("sync: run started")
	return &Run{ID: id, SyncType: syncType, StartedAt: started}, nil
}

// Complete marks the run completed with the number of records processed.
func (t *RunTracker) Complete(ctx context.Context, run *Run, itemsProcessed int) error {
	completed := t.now()
	err := t.db.FinishSyncRun(context.WithoutCancel(ctx), run.ID, store.RunCompleted, itemsProcessed, "", completed)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("run %d: %w", run.ID, ErrRunNotInProgress)
	}
	if err != nil {
		return err
	}

	t.metrics.RecordRun(ctx, run.SyncType, store.RunCompleted, itemsProcessed, run.RecordErrors)
	logger.WithFields(map[string]interface{}{
		"run_id":    run.ID,
		"sync_type": run.SyncType,
		"items":     itemsProcessed,
		"errors":    run.RecordErrors,
		"duration":  completed.Sub(run.StartedAt).Round(time.Millisecond),
	}).Info("sync: run completed")
	return nil
}

// Fail marks the run failed with cause's message. Failures to write the
// record are logged and swallowed so cause stays the caller's error.
func (t *RunTracker) Fail(ctx context.Context, run *Run, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	err := t.db.FinishSyncRun(context.WithoutCancel(ctx), run.ID, store.RunFailed, 0, msg, t.now())
	if err != nil {
		logger.Error("sync: failed to record failure of run %d: %v", run.ID, err)
	}

	t.metrics.RecordRun(ctx, run.SyncType, store.RunFailed, 0, run.RecordErrors)
	logger.WithFields(map[string]interface{}{"run_id": run.ID, "sync_type": run.SyncType}).Error("sync: run failed: " + msg)
}

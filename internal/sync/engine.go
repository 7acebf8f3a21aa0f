// Package sync pulls worklogs, users and projects from Jira into the local store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JohanCodinha/worksync/internal/jira"
	"github.com/JohanCodinha/worksync/internal/logger"
	"github.com/JohanCodinha/worksync/internal/reconcile"
	"github.com/JohanCodinha/worksync/internal/store"
	"github.com/JohanCodinha/worksync/internal/telemetry"
)

// DefaultPageSize is used when Options.PageSize is not positive.
const DefaultPageSize = 50

// Source is the subset of the Jira API the engines read from.
// *jira.Client satisfies it.
type Source interface {
	SearchIssues(ctx context.Context, jql string, startAt, maxResults int) (*jira.SearchResult, error)
	ListWorklogs(ctx context.Context, issueKey string) ([]jira.Worklog, error)
	ListGroupMembers(ctx context.Context, group string, startAt, maxResults int) (*jira.GroupMemberPage, error)
	ListProjects(ctx context.Context) ([]jira.Project, error)
}

// Options configures NewEngine.
type Options struct {
	Group       string
	PageSize    int
	DefaultRole string
	Metrics     *telemetry.SyncMetrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Stats summarizes one worklog or project run.
type Stats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// ItemsProcessed is the number of records written.
func (s Stats) ItemsProcessed() int {
	return s.Added + s.Updated
}

// UserStats summarizes one user run.
type UserStats struct {
	UsersSynced int `json:"users_synced"`
	Added       int `json:"added"`
	Updated     int `json:"updated"`
}

// Summary is the result of SyncAll.
type Summary struct {
	Projects Stats     `json:"projects"`
	Users    UserStats `json:"users"`
	Worklogs Stats     `json:"worklogs"`
}

// Engine groups the three sync engines over one store and source.
type Engine struct {
	Worklogs *WorklogEngine
	Users    *UserEngine
	Projects *ProjectEngine
}

// NewEngine wires the engines to db and source.
func NewEngine(db *store.DB, source Source, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	runs := NewRunTracker(db, opts.Metrics)
	runs.now = opts.Now
	rec := reconcile.New(db, opts.DefaultRole)

	return &Engine{
		Worklogs: &WorklogEngine{source: source, reconciler: rec, runs: runs, pageSize: opts.PageSize, now: opts.Now},
		Users:    &UserEngine{source: source, reconciler: rec, runs: runs, group: opts.Group, pageSize: opts.PageSize},
		Projects: &ProjectEngine{source: source, reconciler: rec, runs: runs},
	}
}

// SyncAll runs projects, users and worklogs in that order. A failed stage
// does not stop the later ones; their errors are joined.
func (e *Engine) SyncAll(ctx context.Context, windowDays int) (Summary, error) {
	var sum Summary
	var errs []error

	projects, err := e.Projects.Sync(ctx)
	sum.Projects = projects
	if err != nil {
		errs = append(errs, fmt.Errorf("projects: %w", err))
	}

	users, err := e.Users.Sync(ctx)
	sum.Users = users
	if err != nil {
		errs = append(errs, fmt.Errorf("users: %w", err))
	}

	worklogs, err := e.Worklogs.Sync(ctx, windowDays)
	sum.Worklogs = worklogs
	if err != nil {
		errs = append(errs, fmt.Errorf("worklogs: %w", err))
	}

	return sum, errors.Join(errs...)
}

// ============================================================================
// Worklogs
// ============================================================================

var errBeforeWindow = errors.New("worklog is before the sync window")

// WorklogEngine pulls worklogs logged within a trailing window of days.
type WorklogEngine struct {
	source     Source
	reconciler *reconcile.Reconciler
	runs       *RunTracker
	pageSize   int
	now        func() time.Time
}

// Sync fetches every issue with a worklog dated on or after today minus
// windowDays and upserts its worklogs. Worklogs that cannot be converted are
// counted in Stats.Errors and skipped; API and store failures fail the run.
func (e *WorklogEngine) Sync(ctx context.Context, windowDays int) (Stats, error) {
	if windowDays < 1 {
		return Stats{}, fmt.Errorf("window days must be at least 1, got %d", windowDays)
	}

	run, err := e.runs.Begin(ctx, store.SyncTypeWorklogs)
	if err != nil {
		return Stats{}, err
	}

	stats, err := e.sync(ctx, windowDays)
	run.RecordErrors = stats.Errors
	if err != nil {
		e.runs.Fail(ctx, run, err)
		return stats, err
	}

	if err := e.runs.Complete(ctx, run, stats.ItemsProcessed()); err != nil {
		return stats, err
	}
	return stats, nil
}

func (e *WorklogEngine) sync(ctx context.Context, windowDays int) (Stats, error) {
	var stats Stats

	now := e.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -windowDays)
	jql := jira.WorklogJQL(since)

	logger.Debug("sync: fetching worklogs since %s", since.Format(store.DateLayout))

	startAt := 0
	for {
		page, err := e.source.SearchIssues(ctx, jql, startAt, e.pageSize)
		if err != nil {
			return stats, err
		}

		for _, issue := range page.Issues {
			if err := e.syncIssue(ctx, issue, since, &stats); err != nil {
				return stats, err
			}
		}

		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			break
		}
	}

	logger.Info("sync: worklogs added=%d updated=%d errors=%d", stats.Added, stats.Updated, stats.Errors)
	return stats, nil
}

func (e *WorklogEngine) syncIssue(ctx context.Context, issue jira.Issue, since time.Time, stats *Stats) error {
	worklogs, err := e.source.ListWorklogs(ctx, issue.Key)
	if err != nil {
		return err
	}

	batch := make([]store.Worklog, 0, len(worklogs))
	for _, wl := range worklogs {
		rec, err := convertWorklog(issue, wl, since)
		if errors.Is(err, errBeforeWindow) {
			continue
		}
		if err != nil {
			stats.Errors++
			logger.Warn("sync: skipping worklog %s on %s: %v", wl.ID, issue.Key, err)
			continue
		}
		batch = append(batch, rec)
	}

	if len(batch) == 0 {
		return nil
	}

	res, err := e.reconciler.UpsertWorklogs(ctx, batch)
	if err != nil {
		return fmt.Errorf("issue %s: %w", issue.Key, err)
	}
	stats.Added += res.Added
	stats.Updated += res.Updated
	return nil
}

func convertWorklog(issue jira.Issue, wl jira.Worklog, since time.Time) (store.Worklog, error) {
	userName := wl.Author.UserName()
	if userName == "" {
		return store.Worklog{}, errors.New("worklog has no author")
	}
	if wl.TimeSpentSeconds < 0 {
		return store.Worklog{}, fmt.Errorf("negative time spent: %d", wl.TimeSpentSeconds)
	}

	workDate, err := wl.WorkDate()
	if err != nil {
		return store.Worklog{}, err
	}
	if workDate.Before(since) {
		return store.Worklog{}, errBeforeWindow
	}

	return store.Worklog{
		IssueKey:    issue.Key,
		UserName:    userName,
		ProjectKey:  issue.ProjectKey(),
		Hours:       wl.Hours(),
		WorkDate:    workDate,
		Description: jira.CommentToPlainText(wl.Comment),
	}, nil
}

// ============================================================================
// Users
// ============================================================================

// UserEngine mirrors the members of one Jira group into the user tables.
type UserEngine struct {
	source     Source
	reconciler *reconcile.Reconciler
	runs       *RunTracker
	group      string
	pageSize   int
}

// Sync pages through the group's members. Each page is reconciled in its own
// transaction; a failed page fails the run and keeps earlier pages.
func (e *UserEngine) Sync(ctx context.Context) (UserStats, error) {
	if e.group == "" {
		return UserStats{}, errors.New("no jira group configured")
	}

	run, err := e.runs.Begin(ctx, store.SyncTypeUsers)
	if err != nil {
		return UserStats{}, err
	}

	stats, err := e.sync(ctx)
	if err != nil {
		e.runs.Fail(ctx, run, err)
		return stats, err
	}

	if err := e.runs.Complete(ctx, run, stats.UsersSynced); err != nil {
		return stats, err
	}
	return stats, nil
}

func (e *UserEngine) sync(ctx context.Context) (UserStats, error) {
	var stats UserStats

	startAt := 0
	for {
		page, err := e.source.ListGroupMembers(ctx, e.group, startAt, e.pageSize)
		if err != nil {
			return stats, err
		}
		if len(page.Values) == 0 {
			break
		}

		batch := make([]store.JiraUser, 0, len(page.Values))
		for _, u := range page.Values {
			batch = append(batch, store.JiraUser{
				AccountKey:  u.AccountKey(),
				UserName:    u.UserName(),
				DisplayName: u.DisplayName,
				Email:       u.EmailAddress,
				IsActive:    u.Active,
			})
		}

		res, err := e.reconciler.UpsertUsers(ctx, batch)
		if err != nil {
			return stats, err
		}
		stats.Added += res.Added
		stats.Updated += res.Updated
		stats.UsersSynced += res.Total()

		step := e.pageSize
		if page.MaxResults > 0 && page.MaxResults < step {
			step = page.MaxResults
		}
		if page.IsLast || startAt+step >= page.Total {
			break
		}
		startAt += step
	}

	logger.Info("sync: users synced=%d (new %d) from group %s", stats.UsersSynced, stats.Added, e.group)
	return stats, nil
}

// ============================================================================
// Projects
// ============================================================================

// ProjectEngine refreshes the project catalogue.
type ProjectEngine struct {
	source     Source
	reconciler *reconcile.Reconciler
	runs       *RunTracker
}

// Sync upserts every visible project in one transaction.
func (e *ProjectEngine) Sync(ctx context.Context) (Stats, error) {
	run, err := e.runs.Begin(ctx, store.SyncTypeProjects)
	if err != nil {
		return Stats{}, err
	}

	projects, err := e.source.ListProjects(ctx)
	if err != nil {
		e.runs.Fail(ctx, run, err)
		return Stats{}, err
	}

	batch := make([]store.Project, 0, len(projects))
	for _, p := range projects {
		batch = append(batch, store.Project{Key: p.Key, Name: p.Name, Lead: p.LeadName()})
	}

	res, err := e.reconciler.UpsertProjects(ctx, batch)
	if err != nil {
		e.runs.Fail(ctx, run, err)
		return Stats{}, err
	}

	stats := Stats{Added: res.Added, Updated: res.Updated}
	if err := e.runs.Complete(ctx, run, stats.ItemsProcessed()); err != nil {
		return stats, err
	}
	logger.Info("sync: projects added=%d updated=%d", stats.Added, stats.Updated)
	return stats, nil
}

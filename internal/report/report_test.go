package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohanCodinha/worksync/internal/store"
)

func setupReporter(t *testing.T) (*Reporter, *store.DB) {
	t.Helper()

	db, err := store.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := New(db)
	// A Wednesday.
	r.now = func() time.Time { return time.Date(2024, 3, 20, 9, 30, 0, 0, time.UTC) }
	return r, db
}

func date(s string) time.Time {
	d, err := time.Parse(store.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func addWorklog(t *testing.T, db *store.DB, issue, user, day string, hours float64) {
	t.Helper()

	project := issue[:3]
	_, err := db.UpsertWorklog(context.Background(), store.Worklog{
		IssueKey:   issue,
		UserName:   user,
		ProjectKey: project,
		Hours:      hours,
		WorkDate:   date(day),
		UpdatedAt:  time.Now(),
	})
	require.NoError(t, err)
}

func addTrackedUser(t *testing.T, db *store.DB, u store.LocalUser) {
	t.Helper()

	ctx := context.Background()
	_, err := db.UpsertJiraUser(ctx, store.JiraUser{AccountKey: "key-" + u.UserName, UserName: u.UserName, IsActive: u.IsActive})
	require.NoError(t, err)
	_, err = db.UpsertUser(ctx, u)
	require.NoError(t, err)
}

func TestOverloadPercentage(t *testing.T) {
	tests := []struct {
		actual, planned, want float64
	}{
		{130, 100, 30},
		{80, 100, -20},
		{50, 0, 0},
		{0, 0, 0},
		{100, 3, 3233.33},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, OverloadPercentage(tt.actual, tt.planned), "actual=%g planned=%g", tt.actual, tt.planned)
	}
}

func TestWorkloadAnalysis(t *testing.T) {
	r, db := setupReporter(t)
	ctx := context.Background()

	// 130h for alice in March, split over several issues and days.
	addWorklog(t, db, "PRJ-1", "alice", "2024-03-04", 40)
	addWorklog(t, db, "PRJ-2", "alice", "2024-03-05", 50)
	addWorklog(t, db, "OPS-1", "alice", "2024-03-06", 40)
	addWorklog(t, db, "PRJ-1", "bob", "2024-03-04", 12.5)
	addWorklog(t, db, "PRJ-1", "alice", "2024-02-28", 8)

	require.NoError(t, db.SetAllocation(ctx, store.Allocation{UserName: "alice", Month: "2024-03", PlannedHours: 100}))
	require.NoError(t, db.SetAllocation(ctx, store.Allocation{UserName: "carol", Month: "2024-03", PlannedHours: 80}))

	rows, err := r.WorkloadAnalysis(ctx, "2024-03", "2024-03")
	require.NoError(t, err)

	assert.Equal(t, []WorkloadRow{
		{UserName: "alice", Month: "2024-03", ActualHours: 130, PlannedHours: 100, OverloadPercentage: 30},
		{UserName: "bob", Month: "2024-03", ActualHours: 12.5, PlannedHours: 0, OverloadPercentage: 0},
		{UserName: "carol", Month: "2024-03", ActualHours: 0, PlannedHours: 80, OverloadPercentage: -100},
	}, rows)
}

func TestWorkloadAnalysis_InvalidMonths(t *testing.T) {
	r, _ := setupReporter(t)

	for _, tt := range [][2]string{{"2024-3", "2024-03"}, {"2024-04", "2024-03"}, {"", ""}} {
		_, err := r.WorkloadAnalysis(context.Background(), tt[0], tt[1])
		assert.Error(t, err, "range %v", tt)
	}
}

func TestMissingWorklogAlerts(t *testing.T) {
	r, db := setupReporter(t)
	ctx := context.Background()

	for _, u := range []store.LocalUser{
		{UserName: "alice", IsActive: true, Role: "user"},
		{UserName: "bob", IsActive: false, Role: "user"},
		{UserName: "carol", IsActive: true, Role: "user"},
	} {
		addTrackedUser(t, db, u)
	}
	// Local-only accounts never log work.
	require.NoError(t, db.ProtectAccount(ctx, "root", "superadmin", "", "test"))

	for _, d := range []string{"2024-03-13", "2024-03-14", "2024-03-15", "2024-03-18"} {
		addWorklog(t, db, "PRJ-1", "alice", d, 8)
	}
	// Today does not count.
	addWorklog(t, db, "PRJ-1", "carol", "2024-03-20", 8)

	_, err := db.AddUnavailability(ctx, store.Unavailability{
		UserName:  "carol",
		StartDate: date("2024-03-18"),
		EndDate:   date("2024-03-19"),
		Reason:    "holiday",
	})
	require.NoError(t, err)

	alerts, err := r.MissingWorklogAlerts(ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, []MissingWorklog{
		{UserName: "alice", Date: "2024-03-19"},
		{UserName: "carol", Date: "2024-03-13"},
		{UserName: "carol", Date: "2024-03-14"},
		{UserName: "carol", Date: "2024-03-15"},
	}, alerts)
}

func TestMissingWorklogAlerts_WeekendOnlyWindow(t *testing.T) {
	r, db := setupReporter(t)
	ctx := context.Background()
	// A Monday, so the two-day window is Saturday and Sunday.
	r.now = func() time.Time { return time.Date(2024, 3, 18, 8, 0, 0, 0, time.UTC) }

	addTrackedUser(t, db, store.LocalUser{UserName: "alice", IsActive: true, Role: "user"})

	alerts, err := r.MissingWorklogAlerts(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	_, err = r.MissingWorklogAlerts(ctx, 0)
	assert.Error(t, err)
}

func TestShadowWork(t *testing.T) {
	r, db := setupReporter(t)
	ctx := context.Background()

	addWorklog(t, db, "PRJ-1", "alice", "2024-03-04", 4)
	addWorklog(t, db, "OPS-1", "alice", "2024-03-05", 2)
	addWorklog(t, db, "PRJ-2", "bob", "2024-03-05", 3)

	require.NoError(t, db.AddAssignment(ctx, store.Assignment{UserName: "alice", ProjectKey: "PRJ"}))
	require.NoError(t, db.AddAssignment(ctx, store.Assignment{UserName: "bob", ProjectKey: "OPS"}))

	shadow, err := r.ShadowWork(ctx, date("2024-03-01"), date("2024-03-31"))
	require.NoError(t, err)
	require.Len(t, shadow, 2)

	assert.Equal(t, "alice", shadow[0].UserName)
	assert.Equal(t, "OPS", shadow[0].ProjectKey)
	assert.Equal(t, "bob", shadow[1].UserName)
	assert.Equal(t, "PRJ", shadow[1].ProjectKey)

	_, err = r.ShadowWork(ctx, date("2024-03-31"), date("2024-03-01"))
	assert.Error(t, err)
}

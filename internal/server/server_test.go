package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohanCodinha/worksync/internal/auth"
	"github.com/JohanCodinha/worksync/internal/jira"
	"github.com/JohanCodinha/worksync/internal/leave"
	"github.com/JohanCodinha/worksync/internal/report"
	"github.com/JohanCodinha/worksync/internal/store"
	"github.com/JohanCodinha/worksync/internal/sync"
)

const testSecret = "test-secret"

var (
	hashOnce gosync.Once
	testHash string
)

// passwordHash returns the hash of "password", computed once per test binary.
func passwordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := auth.HashPassword("password")
		if err != nil {
			panic(err)
		}
		testHash = h
	})
	return testHash
}

type testEnv struct {
	srv  *Server
	db   *store.DB
	mock *jira.MockServer
}

func setupServer(t *testing.T, opts Options) *testEnv {
	t.Helper()

	db, err := store.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock := jira.NewMockServer()
	t.Cleanup(mock.Close)

	engine := sync.NewEngine(db, jira.New(mock.URL, jira.Options{Token: "super-secret-token"}), sync.Options{
		Group:       "jira-users",
		DefaultRole: "user",
		Now:         func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) },
	})

	ctx := context.Background()
	hash := passwordHash(t)
	require.NoError(t, db.ProtectAccount(ctx, "root", "superadmin", hash, "test"))
	for _, u := range []store.LocalUser{
		{UserName: "bob", IsActive: true, Role: "user", PasswordHash: hash},
		{UserName: "carol", IsActive: true, Role: "manager", PasswordHash: hash},
		{UserName: "dave", IsActive: false, Role: "admin", PasswordHash: hash},
		{UserName: "synced", IsActive: true, Role: "user"},
	} {
		_, err := db.UpsertUser(ctx, u)
		require.NoError(t, err)
	}

	opts.JWTSecret = testSecret
	if opts.LoginBurst == 0 {
		opts.LoginBurst = 100
	}
	srv := New(db, engine, leave.New(db), report.New(db), opts)
	return &testEnv{srv: srv, db: db, mock: mock}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, user string) string {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{UserName: user, Password: "password"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

// ============================================================================
// Auth
// ============================================================================

func TestHealth(t *testing.T) {
	env := setupServer(t, Options{})

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin(t *testing.T) {
	env := setupServer(t, Options{})

	tests := []struct {
		name     string
		user     string
		password string
		want     int
	}{
		{name: "valid", user: "bob", password: "password", want: http.StatusOK},
		{name: "wrong password", user: "bob", password: "nope", want: http.StatusUnauthorized},
		{name: "unknown user", user: "nobody", password: "password", want: http.StatusUnauthorized},
		{name: "inactive user", user: "dave", password: "password", want: http.StatusUnauthorized},
		{name: "synced user without password", user: "synced", password: "", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{UserName: tt.user, Password: tt.password})
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestLogin_InvalidBody(t *testing.T) {
	env := setupServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_RateLimited(t *testing.T) {
	env := setupServer(t, Options{LoginRate: 0.001, LoginBurst: 2})

	creds := loginRequest{UserName: "bob", Password: "wrong"}
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/v1/auth/login", "", creds).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/v1/auth/login", "", creds).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, "/api/v1/auth/login", "", creds).Code)
}

func TestAuthenticate(t *testing.T) {
	env := setupServer(t, Options{})
	ctx := context.Background()

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/leave/balance", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/leave/balance", "garbage", nil).Code)

	token := env.login(t, "bob")
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/leave/balance", token, nil).Code)

	// Deactivation takes effect on the next request.
	bob, err := env.db.GetUser(ctx, "bob")
	require.NoError(t, err)
	bob.IsActive = false
	_, err = env.db.UpsertUser(ctx, *bob)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/leave/balance", token, nil).Code)
}

// ============================================================================
// Sync
// ============================================================================

func TestSync_RequiresCapability(t *testing.T) {
	env := setupServer(t, Options{})

	rec := env.do(t, http.MethodPost, "/api/v1/sync/worklogs", env.login(t, "carol"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, env.mock.Requests(jira.EndpointSearch))
}

func TestSync_Worklogs(t *testing.T) {
	env := setupServer(t, Options{})
	env.mock.AddIssue(jira.Issue{ID: "1", Key: "PRJ-1"}, jira.Worklog{
		ID:               "10",
		Author:           jira.User{Name: "bob"},
		TimeSpentSeconds: 7200,
		Started:          "2024-03-19T09:00:00.000+0000",
	})
	token := env.login(t, "root")

	rec := env.do(t, http.MethodPost, "/api/v1/sync/worklogs?window_days=7", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, sync.Stats{Added: 1}, decode[sync.Stats](t, rec))

	rec = env.do(t, http.MethodGet, "/api/v1/sync/runs?type=worklogs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]runResponse](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].ItemsProcessed)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/sync/worklogs?window_days=0", token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/v1/sync/issues", token, nil).Code)
}

func TestSync_FailureIsGeneric(t *testing.T) {
	env := setupServer(t, Options{})
	env.mock.FailNext(jira.EndpointGroup, -1, http.StatusUnauthorized, "token super-secret-token rejected")
	token := env.login(t, "root")

	rec := env.do(t, http.MethodPost, "/api/v1/sync/users", token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"sync failed"}`, rec.Body.String())

	runs, err := env.db.ListSyncRuns(context.Background(), store.SyncTypeUsers, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].ErrorMessage, "401")
}

func TestSync_UsersKeepsProtectedRoot(t *testing.T) {
	env := setupServer(t, Options{})
	env.mock.AddGroupMembers("jira-users",
		jira.User{Key: "k-root", Name: "root", Active: true},
		jira.User{Key: "k-alice", Name: "alice", Active: true},
	)
	token := env.login(t, "root")

	rec := env.do(t, http.MethodPost, "/api/v1/sync/users", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[sync.UserStats](t, rec).UsersSynced)

	// root can still log in with the same password and role.
	env.login(t, "root")
	root, err := env.db.GetUser(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, "superadmin", root.Role)
}

// ============================================================================
// Leave
// ============================================================================

func TestLeaveWorkflow(t *testing.T) {
	env := setupServer(t, Options{})
	bob := env.login(t, "bob")
	carol := env.login(t, "carol")

	rec := env.do(t, http.MethodPost, "/api/v1/leave/request", bob, leaveRequest{Year: 2024, Days: 30})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/leave/request", bob, leaveRequest{Year: 2024, Days: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/leave/request", bob, leaveRequest{Year: 2024, Days: 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[balanceResponse](t, rec)
	assert.Equal(t, 5.0, b.PendingDays)
	assert.Equal(t, 21.0, b.RemainingDays)

	rec = env.do(t, http.MethodPost, "/api/v1/leave/approve", bob, leaveRequest{UserName: "bob", Year: 2024, Days: 5})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/leave/approve", carol, leaveRequest{UserName: "bob", Year: 2024, Days: 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b = decode[balanceResponse](t, rec)
	assert.Equal(t, 5.0, b.UsedDays)
	assert.Zero(t, b.PendingDays)

	rec = env.do(t, http.MethodPost, "/api/v1/leave/reject", carol, leaveRequest{UserName: "bob", Year: 2024, Days: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/leave/approve", carol, leaveRequest{UserName: "bob", Year: 2024, Days: 30})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/leave/approve", carol, leaveRequest{UserName: "ghost", Year: 2024, Days: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaveBalance_OtherUser(t *testing.T) {
	env := setupServer(t, Options{})

	rec := env.do(t, http.MethodGet, "/api/v1/leave/balance?user=carol", env.login(t, "bob"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/leave/balance?user=bob&year=2024", env.login(t, "carol"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[balanceResponse](t, rec)
	assert.Equal(t, "bob", b.UserName)
	assert.Equal(t, 26.0, b.RemainingDays)
}

// ============================================================================
// Reports
// ============================================================================

func TestReports(t *testing.T) {
	env := setupServer(t, Options{})
	ctx := context.Background()

	_, err := env.db.UpsertWorklog(ctx, store.Worklog{
		IssueKey: "PRJ-1", UserName: "bob", ProjectKey: "PRJ", Hours: 130,
		WorkDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, env.db.SetAllocation(ctx, store.Allocation{UserName: "bob", Month: "2024-03", PlannedHours: 100}))

	assert.Equal(t, http.StatusForbidden,
		env.do(t, http.MethodGet, "/api/v1/reports/workload?from=2024-03", env.login(t, "bob"), nil).Code)

	carol := env.login(t, "carol")

	rec := env.do(t, http.MethodGet, "/api/v1/reports/workload?from=2024-03&to=2024-03", carol, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := decode[[]report.WorkloadRow](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, 30.0, rows[0].OverloadPercentage)

	rec = env.do(t, http.MethodGet, "/api/v1/reports/shadow-work?from=2024-03-01&to=2024-03-31", carol, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	shadow := decode[[]worklogResponse](t, rec)
	require.Len(t, shadow, 1)
	assert.Equal(t, "2024-03-04", shadow[0].WorkDate)

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodGet, "/api/v1/reports/shadow-work?from=March", carol, nil).Code)
	assert.Equal(t, http.StatusOK,
		env.do(t, http.MethodGet, "/api/v1/reports/missing-worklogs?days=5", carol, nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodGet, "/api/v1/reports/missing-worklogs?days=x", carol, nil).Code)
}

package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/JohanCodinha/worksync/internal/logger"
)

func testClient(baseURL string) *Client {
	return New(baseURL, Options{Token: "test-token", Timeout: 5 * time.Second})
}

func makeUsers(n int) []User {
	users := make([]User, n)
	for i := range users {
		users[i] = User{
			Key:          fmt.Sprintf("key%03d", i),
			Name:         fmt.Sprintf("user%03d", i),
			DisplayName:  fmt.Sprintf("User %d", i),
			EmailAddress: fmt.Sprintf("user%03d@example.com", i),
			Active:       true,
		}
	}
	return users
}

// =============================================================================
// Mock Server Tests (Unit Tests)
// =============================================================================

func TestSearchIssues_Pagination(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	for i := 0; i < 7; i++ {
		mock.AddIssue(Issue{Key: fmt.Sprintf("PRJ-%d", i+10)}, Worklog{
			ID:               fmt.Sprintf("%d", i),
			Author:           User{Name: "alice"},
			TimeSpentSeconds: 3600,
			Started:          "2024-01-15T09:00:00.000+0000",
		})
	}

	client := testClient(mock.URL)
	jql := WorklogJQL(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	page, err := client.SearchIssues(context.Background(), jql, 0, 5)
	if err != nil {
		t.Fatalf("SearchIssues() unexpected error: %v", err)
	}
	if page.Total != 7 {
		t.Errorf("Total = %d, want 7", page.Total)
	}
	if len(page.Issues) != 5 {
		t.Errorf("len(Issues) = %d, want 5", len(page.Issues))
	}

	page, err = client.SearchIssues(context.Background(), jql, 5, 5)
	if err != nil {
		t.Fatalf("SearchIssues() unexpected error: %v", err)
	}
	if len(page.Issues) != 2 {
		t.Errorf("second page len(Issues) = %d, want 2", len(page.Issues))
	}

	reqs := mock.Requests(EndpointSearch)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 search requests, got %d", len(reqs))
	}
	if got := reqs[1].Get("startAt"); got != "5" {
		t.Errorf("second request startAt = %q, want 5", got)
	}
	if got := reqs[0].Get("jql"); !strings.Contains(got, `worklogDate >= "2024-01-01"`) {
		t.Errorf("jql = %q, want worklogDate filter", got)
	}
}

func TestSearchIssues_FiltersByWorklogDate(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	mock.AddIssue(Issue{Key: "OLD-1"}, Worklog{Author: User{Name: "a"}, TimeSpentSeconds: 60, Started: "2023-06-01T10:00:00.000+0000"})
	mock.AddIssue(Issue{Key: "NEW-1"}, Worklog{Author: User{Name: "a"}, TimeSpentSeconds: 60, Started: "2024-02-01T10:00:00.000+0000"})

	client := testClient(mock.URL)
	page, err := client.SearchIssues(context.Background(), WorklogJQL(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), 0, 50)
	if err != nil {
		t.Fatalf("SearchIssues() unexpected error: %v", err)
	}
	if page.Total != 1 || page.Issues[0].Key != "NEW-1" {
		t.Errorf("expected only NEW-1, got %+v", page.Issues)
	}
}

func TestListWorklogs(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	mock.AddIssue(Issue{Key: "PRJ-1"},
		Worklog{ID: "1", Author: User{Name: "alice"}, TimeSpentSeconds: 5400, Started: "2024-01-15T09:00:00.000+0000"},
		Worklog{ID: "2", Author: User{Name: "bob"}, TimeSpentSeconds: 1800, Started: "2024-01-16T23:30:00.000-0500"},
	)

	client := testClient(mock.URL)
	worklogs, err := client.ListWorklogs(context.Background(), "PRJ-1")
	if err != nil {
		t.Fatalf("ListWorklogs() unexpected error: %v", err)
	}
	if len(worklogs) != 2 {
		t.Fatalf("expected 2 worklogs, got %d", len(worklogs))
	}
	if worklogs[0].Hours() != 1.5 {
		t.Errorf("Hours() = %v, want 1.5", worklogs[0].Hours())
	}
}

func TestListWorklogs_UnknownIssue(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	client := testClient(mock.URL)
	_, err := client.ListWorklogs(context.Background(), "NOPE-1")
	if err == nil {
		t.Fatal("ListWorklogs() expected error for unknown issue, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
}

func TestListGroupMembers_Page(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	mock.AddGroupMembers("jira-users", makeUsers(130)...)

	client := testClient(mock.URL)
	page, err := client.ListGroupMembers(context.Background(), "jira-users", 100, 50)
	if err != nil {
		t.Fatalf("ListGroupMembers() unexpected error: %v", err)
	}
	if page.Total != 130 {
		t.Errorf("Total = %d, want 130", page.Total)
	}
	if len(page.Values) != 30 {
		t.Errorf("len(Values) = %d, want 30", len(page.Values))
	}
	if !page.IsLast {
		t.Error("IsLast = false, want true on final page")
	}

	reqs := mock.Requests(EndpointGroup)
	if got := reqs[0].Get("includeInactiveUsers"); got != "true" {
		t.Errorf("includeInactiveUsers = %q, want true", got)
	}
}

func TestListProjects(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	mock.SetProjects(
		Project{ID: "1", Key: "PRJ", Name: "Project", Lead: &User{Name: "carol"}},
		Project{ID: "2", Key: "OPS", Name: "Operations"},
	)

	client := testClient(mock.URL)
	projects, err := client.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects() unexpected error: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
	if projects[0].LeadName() != "carol" {
		t.Errorf("LeadName() = %q, want carol", projects[0].LeadName())
	}
	if projects[1].LeadName() != "" {
		t.Errorf("LeadName() = %q, want empty", projects[1].LeadName())
	}
}

// =============================================================================
// Error Handling Tests
// =============================================================================

func TestNon2xxIsAPIError(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	mock.FailNext(EndpointProjects, 1, http.StatusUnauthorized, "bad credentials")

	client := testClient(mock.URL)
	_, err := client.ListProjects(context.Background())
	if err == nil {
		t.Fatal("ListProjects() expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.IsRetryable() {
		t.Error("401 should not be retryable")
	}
	if !strings.Contains(err.Error(), "bad credentials") {
		t.Errorf("error should carry response body, got: %v", err)
	}
	if n := len(mock.Requests(EndpointProjects)); n != 1 {
		t.Errorf("expected 1 request for non-retryable error, got %d", n)
	}
}

func TestRetryOnServerError(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	mock.SetProjects(Project{Key: "PRJ"})
	mock.FailNext(EndpointProjects, 2, http.StatusServiceUnavailable, "try later")

	client := New(mock.URL, Options{Token: "t", MaxRetryElapsed: 10 * time.Second})
	projects, err := client.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects() unexpected error after retries: %v", err)
	}
	if len(projects) != 1 {
		t.Errorf("expected 1 project, got %d", len(projects))
	}
	if n := len(mock.Requests(EndpointProjects)); n != 3 {
		t.Errorf("expected 3 requests (2 failures + success), got %d", n)
	}
}

func TestNoRetryWhenDisabled(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	mock.FailNext(EndpointProjects, 1, http.StatusTooManyRequests, "slow down")

	client := testClient(mock.URL)
	_, err := client.ListProjects(context.Background())
	if err == nil {
		t.Fatal("expected error with retries disabled")
	}
	if n := len(mock.Requests(EndpointProjects)); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestRetryLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)

	mock := NewMockServer()
	defer mock.Close()

	mock.SetProjects(Project{Key: "PRJ"})
	mock.FailNext(EndpointProjects, 1, http.StatusBadGateway, "")

	client := New(mock.URL, Options{Token: "secret-token", MaxRetryElapsed: 5 * time.Second})
	if _, err := client.ListProjects(context.Background()); err != nil {
		t.Fatalf("ListProjects() unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "WARN jira: GET /rest/api/2/project failed") {
		t.Errorf("expected retry warning, got: %s", out)
	}
	if strings.Contains(out, "secret-token") {
		t.Error("log output must not contain the API token")
	}
}

func TestContextCancelled(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := testClient(mock.URL)
	if _, err := client.ListProjects(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestMissingBaseURL(t *testing.T) {
	client := testClient("")
	if _, err := client.ListProjects(context.Background()); err == nil {
		t.Fatal("expected error when URL is not configured")
	}
}

// =============================================================================
// Auth Tests
// =============================================================================

func TestAuthHeaders(t *testing.T) {
	tests := []struct {
		name     string
		username string
		token    string
		want     string
	}{
		{"basic with username", "bot@example.com", "tok", "Basic Ym90QGV4YW1wbGUuY29tOnRvaw=="},
		{"bearer without username", "", "pat", "Bearer pat"},
		{"no token", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("Authorization")
				json.NewEncoder(w).Encode([]Project{})
			}))
			defer srv.Close()

			client := New(srv.URL, Options{Username: tt.username, Token: tt.token})
			if _, err := client.ListProjects(context.Background()); err != nil {
				t.Fatalf("ListProjects() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Authorization = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Type Helper Tests
// =============================================================================

func TestWorklogWorkDate(t *testing.T) {
	tests := []struct {
		started string
		want    string
		wantErr bool
	}{
		{"2024-01-15T09:00:00.000+0000", "2024-01-15", false},
		{"2024-01-15T23:30:00.000-0500", "2024-01-15", false},
		{"2024-01-16T00:15:00.000+1000", "2024-01-16", false},
		{"2024-03-01T08:00:00Z", "2024-03-01", false},
		{"yesterday", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.started, func(t *testing.T) {
			got, err := Worklog{Started: tt.started}.WorkDate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("WorkDate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.Format("2006-01-02") != tt.want {
				t.Errorf("WorkDate() = %s, want %s", got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestUserIdentity(t *testing.T) {
	tests := []struct {
		name     string
		user     User
		wantKey  string
		wantName string
	}{
		{"server user", User{Key: "JIRAUSER10", Name: "alice"}, "JIRAUSER10", "alice"},
		{"cloud user", User{AccountID: "5b10a2844c20165700ede21g"}, "5b10a2844c20165700ede21g", "5b10a2844c20165700ede21g"},
		{"name only", User{Name: "bob"}, "bob", "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.AccountKey(); got != tt.wantKey {
				t.Errorf("AccountKey() = %q, want %q", got, tt.wantKey)
			}
			if got := tt.user.UserName(); got != tt.wantName {
				t.Errorf("UserName() = %q, want %q", got, tt.wantName)
			}
		})
	}
}

func TestIssueProjectKey(t *testing.T) {
	if got := (Issue{Key: "PRJ-12", Fields: IssueFields{Project: &ProjectField{Key: "PRJ"}}}).ProjectKey(); got != "PRJ" {
		t.Errorf("ProjectKey() = %q, want PRJ", got)
	}
	if got := (Issue{Key: "DATA-OPS-7"}).ProjectKey(); got != "DATA-OPS" {
		t.Errorf("ProjectKey() = %q, want DATA-OPS", got)
	}
}

func TestCommentToPlainText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"null", `null`, ""},
		{"plain string", `"fixed the build"`, "fixed the build"},
		{"adf", `{"type":"doc","version":1,"content":[{"type":"paragraph","content":[{"type":"text","text":"line one"}]},{"type":"paragraph","content":[{"type":"text","text":"line "},{"type":"text","text":"two"}]}]}`, "line one\nline two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CommentToPlainText(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("CommentToPlainText() = %q, want %q", got, tt.want)
			}
		})
	}
}

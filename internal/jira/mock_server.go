package jira

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockServer provides a fake Jira REST API for testing.
type MockServer struct {
	*httptest.Server
	mu       sync.RWMutex
	issues   map[string]*Issue    // issue key -> issue
	worklogs map[string][]Worklog // issue key -> worklogs
	groups   map[string][]User    // group name -> members
	projects []Project
	failures map[string]*failure // endpoint -> injected failure
	requests map[string][]url.Values
}

type failure struct {
	status    int
	body      string
	remaining int // < 0 means always
}

// Endpoint names used by Requests and FailNext.
const (
	EndpointSearch   = "search"
	EndpointWorklog  = "worklog"
	EndpointGroup    = "group"
	EndpointProjects = "projects"
)

var worklogDateRe = regexp.MustCompile(`worklogDate\s*>=\s*"(\d{4}-\d{2}-\d{2})"`)

// NewMockServer creates a mock Jira API server.
func NewMockServer() *MockServer {
	m := &MockServer{}
	m.reset()

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", m.handleSearch)
	mux.HandleFunc("/rest/api/2/group/member", m.handleGroupMembers)
	mux.HandleFunc("/rest/api/2/project", m.handleProjects)
	mux.HandleFunc("/rest/api/2/issue/", func(w http.ResponseWriter, r *http.Request) {
		// /rest/api/2/issue/{key}/worklog
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/rest/api/2/issue/"), "/")
		if len(parts) != 2 || parts[1] != "worklog" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		m.handleWorklogs(w, r, parts[0])
	})

	m.Server = httptest.NewServer(mux)
	return m
}

func (m *MockServer) reset() {
	m.issues = make(map[string]*Issue)
	m.worklogs = make(map[string][]Worklog)
	m.groups = make(map[string][]User)
	m.projects = nil
	m.failures = make(map[string]*failure)
	m.requests = make(map[string][]url.Values)
}

// AddIssue adds an issue with its worklogs, replacing any previous one.
func (m *MockServer) AddIssue(issue Issue, worklogs ...Worklog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[issue.Key] = &issue
	m.worklogs[issue.Key] = append([]Worklog(nil), worklogs...)
}

// AddGroupMembers appends users to a group.
func (m *MockServer) AddGroupMembers(group string, users ...User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group] = append(m.groups[group], users...)
}

// SetProjects replaces the project list.
func (m *MockServer) SetProjects(projects ...Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects = append([]Project(nil), projects...)
}

// FailNext makes the next n requests to endpoint return status with body.
// n < 0 fails every request until Reset.
func (m *MockServer) FailNext(endpoint string, n, status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[endpoint] = &failure{status: status, body: body, remaining: n}
}

// Requests returns the query parameters of every request made to endpoint.
func (m *MockServer) Requests(endpoint string) []url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]url.Values(nil), m.requests[endpoint]...)
}

// Reset clears all data, failures and recorded requests.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// record logs the request and reports whether an injected failure was written.
func (m *MockServer) record(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[endpoint] = append(m.requests[endpoint], r.URL.Query())

	f, ok := m.failures[endpoint]
	if !ok || f.remaining == 0 {
		return false
	}
	if f.remaining > 0 {
		f.remaining--
	}
	http.Error(w, f.body, f.status)
	return true
}

func pageParams(r *http.Request, defaultMax int) (int, int) {
	startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
	maxResults, err := strconv.Atoi(r.URL.Query().Get("maxResults"))
	if err != nil || maxResults <= 0 {
		maxResults = defaultMax
	}
	if startAt < 0 {
		startAt = 0
	}
	return startAt, maxResults
}

func pageBounds(startAt, maxResults, total int) (int, int) {
	if startAt > total {
		startAt = total
	}
	end := startAt + maxResults
	if end > total {
		end = total
	}
	return startAt, end
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (m *MockServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if m.record(w, r, EndpointSearch) {
		return
	}

	var since time.Time
	if match := worklogDateRe.FindStringSubmatch(r.URL.Query().Get("jql")); match != nil {
		since, _ = time.Parse("2006-01-02", match[1])
	}

	m.mu.RLock()
	keys := make([]string, 0, len(m.issues))
	for key := range m.issues {
		if !since.IsZero() && !m.hasWorklogSince(key, since) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	startAt, maxResults := pageParams(r, 50)
	from, to := pageBounds(startAt, maxResults, len(keys))
	issues := make([]Issue, 0, to-from)
	for _, key := range keys[from:to] {
		issues = append(issues, *m.issues[key])
	}
	m.mu.RUnlock()

	writeJSON(w, SearchResult{
		StartAt:    startAt,
		MaxResults: maxResults,
		Total:      len(keys),
		Issues:     issues,
	})
}

// hasWorklogSince reports whether the issue has a worklog on or after since.
// Unparseable start times count as matches. Callers must hold m.mu.
func (m *MockServer) hasWorklogSince(key string, since time.Time) bool {
	for _, wl := range m.worklogs[key] {
		d, err := wl.WorkDate()
		if err != nil || !d.Before(since) {
			return true
		}
	}
	return false
}

func (m *MockServer) handleWorklogs(w http.ResponseWriter, r *http.Request, key string) {
	if m.record(w, r, EndpointWorklog) {
		return
	}

	m.mu.RLock()
	worklogs, ok := m.worklogs[key]
	m.mu.RUnlock()
	if !ok {
		http.Error(w, `{"errorMessages":["Issue does not exist"]}`, http.StatusNotFound)
		return
	}

	startAt, maxResults := pageParams(r, 5000)
	from, to := pageBounds(startAt, maxResults, len(worklogs))
	writeJSON(w, worklogPage{
		StartAt:    startAt,
		MaxResults: maxResults,
		Total:      len(worklogs),
		Worklogs:   worklogs[from:to],
	})
}

func (m *MockServer) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	if m.record(w, r, EndpointGroup) {
		return
	}

	group := r.URL.Query().Get("groupname")
	m.mu.RLock()
	members, ok := m.groups[group]
	m.mu.RUnlock()
	if !ok {
		http.Error(w, `{"errorMessages":["Group does not exist"]}`, http.StatusNotFound)
		return
	}

	startAt, maxResults := pageParams(r, 50)
	from, to := pageBounds(startAt, maxResults, len(members))
	writeJSON(w, GroupMemberPage{
		StartAt:    startAt,
		MaxResults: maxResults,
		Total:      len(members),
		IsLast:     to >= len(members),
		Values:     members[from:to],
	})
}

func (m *MockServer) handleProjects(w http.ResponseWriter, r *http.Request) {
	if m.record(w, r, EndpointProjects) {
		return
	}

	m.mu.RLock()
	projects := append([]Project{}, m.projects...)
	m.mu.RUnlock()

	writeJSON(w, projects)
}

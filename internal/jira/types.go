package jira

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Issue is a Jira issue as returned by the search endpoint.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// IssueFields holds the subset of issue fields worksync requests.
type IssueFields struct {
	Summary string        `json:"summary"`
	Project *ProjectField `json:"project"`
}

// ProjectField is the project reference embedded in an issue.
type ProjectField struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// ProjectKey returns the issue's project key, falling back to the key prefix.
func (i Issue) ProjectKey() string {
	if i.Fields.Project != nil && i.Fields.Project.Key != "" {
		return i.Fields.Project.Key
	}
	if idx := strings.LastIndex(i.Key, "-"); idx > 0 {
		return i.Key[:idx]
	}
	return i.Key
}

// SearchResult is one page of a JQL search.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// User is a Jira account. Server installs identify users by Key/Name,
// Cloud by AccountID.
type User struct {
	Key          string `json:"key,omitempty"`
	Name         string `json:"name,omitempty"`
	AccountID    string `json:"accountId,omitempty"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	Active       bool   `json:"active"`
}

// AccountKey returns the stable identifier for the account.
func (u User) AccountKey() string {
	switch {
	case u.AccountID != "":
		return u.AccountID
	case u.Key != "":
		return u.Key
	default:
		return u.Name
	}
}

// UserName returns the login name, falling back to the account key.
func (u User) UserName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.AccountKey()
}

// GroupMemberPage is one page of /group/member.
type GroupMemberPage struct {
	StartAt    int    `json:"startAt"`
	MaxResults int    `json:"maxResults"`
	Total      int    `json:"total"`
	IsLast     bool   `json:"isLast"`
	Values     []User `json:"values"`
}

// Worklog is a single time entry on an issue.
type Worklog struct {
	ID               string          `json:"id"`
	Author           User            `json:"author"`
	TimeSpentSeconds int64           `json:"timeSpentSeconds"`
	Started          string          `json:"started"`
	Comment          json.RawMessage `json:"comment,omitempty"`
}

// Hours converts TimeSpentSeconds to hours without rounding.
func (w Worklog) Hours() float64 {
	return float64(w.TimeSpentSeconds) / 3600
}

// WorkDate returns the calendar date of Started in its own UTC offset.
func (w Worklog) WorkDate() (time.Time, error) {
	t, err := ParseTimestamp(w.Started)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// worklogPage is the /issue/{key}/worklog response.
type worklogPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Worklogs   []Worklog `json:"worklogs"`
}

// Project is an entry of /project.
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
	Lead *User  `json:"lead,omitempty"`
}

// LeadName returns the project lead's user name, or "".
func (p Project) LeadName() string {
	if p.Lead == nil {
		return ""
	}
	return p.Lead.UserName()
}

// ParseTimestamp parses the timestamp formats Jira emits.
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	formats := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05-0700",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}

// FormatTimestamp renders t in Jira's worklog "started" format.
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000-0700")
}

// CommentToPlainText flattens a worklog comment. Server returns a plain
// string, Cloud returns an Atlassian Document Format tree.
func CommentToPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var doc struct {
		Type    string `json:"type"`
		Content []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		return string(raw)
	}

	var parts []string
	for _, block := range doc.Content {
		var line []string
		for _, inline := range block.Content {
			if inline.Text != "" {
				line = append(line, inline.Text)
			}
		}
		if len(line) > 0 {
			parts = append(parts, strings.Join(line, ""))
		}
	}
	return strings.Join(parts, "\n")
}

// Package jira provides a Jira REST client for the data worksync mirrors:
// issues with worklog activity, their worklogs, group members and projects.
package jira

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/JohanCodinha/worksync/internal/logger"
)

const maxErrorBody = 512

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira API error: %s - %s", e.Status, e.Body)
}

// IsRetryable reports whether the request may succeed if repeated.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Options configures a Client. Zero values fall back to DefaultOptions.
type Options struct {
	Username        string
	Token           string
	Timeout         time.Duration
	RateLimit       float64 // requests per second; <= 0 disables throttling
	Burst           int
	MaxRetryElapsed time.Duration // <= 0 disables retries
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		Timeout:         30 * time.Second,
		RateLimit:       5,
		Burst:           10,
		MaxRetryElapsed: 30 * time.Second,
	}
}

// Client is a Jira REST API v2 client.
type Client struct {
	baseURL         string
	username        string
	token           string
	httpClient      *http.Client
	limiter         *rate.Limiter
	maxRetryElapsed time.Duration
}

// New creates a Jira client for the instance at baseURL.
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		baseURL:         strings.TrimSuffix(baseURL, "/"),
		username:        opts.Username,
		token:           opts.Token,
		httpClient:      &http.Client{Timeout: opts.Timeout},
		limiter:         limiter,
		maxRetryElapsed: opts.MaxRetryElapsed,
	}
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	if c.maxRetryElapsed <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = c.maxRetryElapsed
	return backoff.WithContext(bo, ctx)
}

// get performs an authenticated GET against path and decodes the JSON body
// into out. 429 and 5xx responses are retried with exponential backoff.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("jira URL not configured")
	}

	apiURL := c.baseURL + path
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	var body []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, err := c.doRequest(ctx, apiURL)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.IsRetryable() {
				return err
			}
			return backoff.Permanent(err)
		}
		body = b
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("jira: GET %s failed (%v), retrying in %s", path, err, wait.Round(time.Millisecond))
	}

	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequest performs one request and returns the body of a 2xx response.
func (c *Client) doRequest(ctx context.Context, apiURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "worksync/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	return respBody, nil
}

// setAuth uses basic auth when a username is configured, bearer otherwise.
func (c *Client) setAuth(req *http.Request) {
	if c.token == "" {
		return
	}
	if c.username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.token))
		req.Header.Set("Authorization", "Basic "+auth)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
}

// WorklogJQL returns the JQL selecting issues with worklogs on or after since.
func WorklogJQL(since time.Time) string {
	return fmt.Sprintf(`worklogDate >= "%s" ORDER BY key ASC`, since.Format("2006-01-02"))
}

// SearchIssues fetches one page of issues matching jql.
func (c *Client) SearchIssues(ctx context.Context, jql string, startAt, maxResults int) (*SearchResult, error) {
	query := url.Values{
		"jql":        {jql},
		"fields":     {"summary,project"},
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(maxResults)},
	}

	var result SearchResult
	if err := c.get(ctx, "/rest/api/2/search", query, &result); err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}
	return &result, nil
}

// ListWorklogs fetches every worklog of an issue.
func (c *Client) ListWorklogs(ctx context.Context, issueKey string) ([]Worklog, error) {
	var all []Worklog
	startAt := 0
	path := "/rest/api/2/issue/" + url.PathEscape(issueKey) + "/worklog"

	for {
		var page worklogPage
		query := url.Values{"startAt": {strconv.Itoa(startAt)}}
		if err := c.get(ctx, path, query, &page); err != nil {
			return nil, fmt.Errorf("list worklogs for %s: %w", issueKey, err)
		}

		all = append(all, page.Worklogs...)

		if len(page.Worklogs) == 0 || startAt+len(page.Worklogs) >= page.Total {
			break
		}
		startAt += len(page.Worklogs)
	}

	return all, nil
}

// ListGroupMembers fetches one page of a group's members, inactive included.
func (c *Client) ListGroupMembers(ctx context.Context, group string, startAt, maxResults int) (*GroupMemberPage, error) {
	query := url.Values{
		"groupname":            {group},
		"includeInactiveUsers": {"true"},
		"startAt":              {strconv.Itoa(startAt)},
		"maxResults":           {strconv.Itoa(maxResults)},
	}

	var page GroupMemberPage
	if err := c.get(ctx, "/rest/api/2/group/member", query, &page); err != nil {
		return nil, fmt.Errorf("list members of %s: %w", group, err)
	}
	return &page, nil
}

// ListProjects fetches every project visible to the configured account.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	query := url.Values{"expand": {"lead"}}
	if err := c.get(ctx, "/rest/api/2/project", query, &projects); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

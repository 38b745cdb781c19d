package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPageSize is the maximum number of items the tracker returns per list
// call.
const DefaultPageSize = 100

// ErrNotFound reports that a project-scoped resource no longer resolves for
// the presented token, typically because the project was deleted or access was
// withdrawn.
var ErrNotFound = errors.New("tracker resource not found")

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracker api: status=%d message=%s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	switch e.StatusCode {
	case http.StatusPaymentRequired, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// API is the slice of the tracker surface this service consumes. Tokens are
// passed per call because one client serves every connected account.
type API interface {
	ListSections(ctx context.Context, token, projectID, offset string) (SectionPage, error)
	ListTasks(ctx context.Context, token, sectionID, offset string) (TaskPage, error)
	ListSubtasks(ctx context.Context, token, taskID, offset string) (TaskPage, error)
	GetUser(ctx context.Context, token, userID string) (User, error)
}

type ClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Validator  *PayloadValidator
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	validator  *PayloadValidator
}

func NewHTTPClient(opts ClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://app.projecttracker.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		validator:  opts.Validator,
	}
}

const taskOptFields = "name,notes,completed,completed_at,assignee.name,start_on,due_on,num_subtasks,permalink_url"

func (c *HTTPClient) ListSections(ctx context.Context, token, projectID, offset string) (SectionPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(DefaultPageSize))
	if offset != "" {
		q.Set("offset", offset)
	}
	body, err := c.doGet(ctx, token, fmt.Sprintf("/api/1.0/projects/%s/sections?%s", url.PathEscape(projectID), q.Encode()))
	if err != nil {
		return SectionPage{}, err
	}
	if c.validator != nil {
		if err := c.validator.ValidateSectionList(body); err != nil {
			return SectionPage{}, fmt.Errorf("invalid section list payload: %w", err)
		}
	}
	var envelope struct {
		Data     []Section `json:"data"`
		NextPage *struct {
			Offset string `json:"offset"`
		} `json:"next_page"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return SectionPage{}, err
	}
	page := SectionPage{Sections: envelope.Data}
	if envelope.NextPage != nil {
		page.NextOffset = envelope.NextPage.Offset
	}
	return page, nil
}

func (c *HTTPClient) ListTasks(ctx context.Context, token, sectionID, offset string) (TaskPage, error) {
	return c.listTasks(ctx, token, fmt.Sprintf("/api/1.0/sections/%s/tasks", url.PathEscape(sectionID)), offset)
}

func (c *HTTPClient) ListSubtasks(ctx context.Context, token, taskID, offset string) (TaskPage, error) {
	return c.listTasks(ctx, token, fmt.Sprintf("/api/1.0/tasks/%s/subtasks", url.PathEscape(taskID)), offset)
}

func (c *HTTPClient) listTasks(ctx context.Context, token, path, offset string) (TaskPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(DefaultPageSize))
	q.Set("opt_fields", taskOptFields)
	if offset != "" {
		q.Set("offset", offset)
	}
	body, err := c.doGet(ctx, token, path+"?"+q.Encode())
	if err != nil {
		return TaskPage{}, err
	}
	if c.validator != nil {
		if err := c.validator.ValidateTaskList(body); err != nil {
			return TaskPage{}, fmt.Errorf("invalid task list payload: %w", err)
		}
	}
	var envelope struct {
		Data     []Task `json:"data"`
		NextPage *struct {
			Offset string `json:"offset"`
		} `json:"next_page"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return TaskPage{}, err
	}
	page := TaskPage{Tasks: envelope.Data}
	if envelope.NextPage != nil {
		page.NextOffset = envelope.NextPage.Offset
	}
	return page, nil
}

func (c *HTTPClient) GetUser(ctx context.Context, token, userID string) (User, error) {
	body, err := c.doGet(ctx, token, fmt.Sprintf("/api/1.0/users/%s", url.PathEscape(userID)))
	if err != nil {
		return User{}, err
	}
	if c.validator != nil {
		if err := c.validator.ValidateUser(body); err != nil {
			return User{}, fmt.Errorf("invalid user payload: %w", err)
		}
	}
	var envelope struct {
		Data User `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return User{}, err
	}
	return envelope.Data, nil
}

func (c *HTTPClient) doGet(ctx context.Context, token, requestPath string) ([]byte, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("tracker token is empty")
	}
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return body, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		message := strings.TrimSpace(string(body))
		var errPayload struct {
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		if json.Unmarshal(body, &errPayload) == nil && len(errPayload.Errors) > 0 && strings.TrimSpace(errPayload.Errors[0].Message) != "" {
			message = errPayload.Errors[0].Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: message}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

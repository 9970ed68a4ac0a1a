package taskboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskboard HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	TypeID       string       `json:"type_id"`
	Title        string       `json:"title"`
	State        string       `json:"state"`
	Version      int64        `json:"version"`
	ClaimedBy    *string      `json:"claimed_by,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	BlockedCount int          `json:"blocked_count"`
}

// Dependency is one outgoing dependency edge of a task.
type Dependency struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

// RuleResult reports one automation outcome from a transition.
type RuleResult struct {
	RuleID  string `json:"rule_id"`
	Outcome string `json:"outcome"`
	Effect  string `json:"effect,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TaskMutation pairs the post-transition task with its automation outcomes.
type TaskMutation struct {
	Task       Task         `json:"task"`
	Automation []RuleResult `json:"automation,omitempty"`
}

// Card represents the API card model.
type Card struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Version   int64  `json:"version"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, typeID string) (Task, error) {
	body := map[string]any{
		"title":   title,
		"type_id": typeID,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, ""), nil, &resp)
	return resp, err
}

// Claim claims an available task at the given version.
func (c *Client) Claim(ctx context.Context, taskID string, expectedVersion int64) (TaskMutation, error) {
	return c.transition(ctx, taskID, "claim", expectedVersion)
}

// Start opens a work session on a claimed task.
func (c *Client) Start(ctx context.Context, taskID string, expectedVersion int64) (TaskMutation, error) {
	return c.transition(ctx, taskID, "start", expectedVersion)
}

// Pause closes the work session, keeping the claim.
func (c *Client) Pause(ctx context.Context, taskID string, expectedVersion int64) (TaskMutation, error) {
	return c.transition(ctx, taskID, "pause", expectedVersion)
}

// Release returns a claimed task to the pool.
func (c *Client) Release(ctx context.Context, taskID string, expectedVersion int64) (TaskMutation, error) {
	return c.transition(ctx, taskID, "release", expectedVersion)
}

// Complete moves a claimed task to its terminal state.
func (c *Client) Complete(ctx context.Context, taskID string, expectedVersion int64) (TaskMutation, error) {
	return c.transition(ctx, taskID, "complete", expectedVersion)
}

func (c *Client) transition(ctx context.Context, taskID, verb string, expectedVersion int64) (TaskMutation, error) {
	body := map[string]any{"expected_version": expectedVersion}
	var resp TaskMutation
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, verb), body, &resp)
	return resp, err
}

// AddDependency records that taskID depends on dependsOnTaskID.
func (c *Client) AddDependency(ctx context.Context, taskID, dependsOnTaskID string) ([]Dependency, error) {
	body := map[string]any{"depends_on_task_id": dependsOnTaskID}
	var resp []Dependency
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "dependencies"), body, &resp)
	return resp, err
}

// Dependencies lists a task's outgoing dependency edges.
func (c *Client) Dependencies(ctx context.Context, taskID string) ([]Dependency, error) {
	var resp []Dependency
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "dependencies"), nil, &resp)
	return resp, err
}

// SetCardStatus moves a card to a new state at the given version.
func (c *Client) SetCardStatus(ctx context.Context, cardID, status string, expectedVersion int64) (Card, error) {
	body := map[string]any{
		"status":           status,
		"expected_version": expectedVersion,
	}
	var resp struct {
		Card Card `json:"card"`
	}
	endpoint := fmt.Sprintf("v1/cards/%s/status", url.PathEscape(cardID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Card, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) taskPath(taskID, sub string) string {
	p := fmt.Sprintf("v1/tasks/%s", url.PathEscape(taskID))
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v1/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

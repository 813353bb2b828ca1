package planlinesdk

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

// Client is a minimal planline HTTP API client.
type Client struct {
	BaseURL    string
	ProjectID  string
	Actor      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID, actor string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Actor:     actor,
		Timeout:   10 * time.Second,
	}
}

// Reservation is a live task lease.
type Reservation struct {
	ProjectID string `json:"project_id"`
	StoryID   string `json:"story_id"`
	TaskIdx   int    `json:"task_idx"`
	Agent     string `json:"agent"`
	ExpiresAt string `json:"expires_at"`
	CreatedAt string `json:"created_at"`
}

// WriteResult is returned by guarded writes. UpdatedAt is the new version token.
type WriteResult struct {
	ID             string `json:"id"`
	UpdatedAt      string `json:"updated_at"`
	PreviousStatus string `json:"previous_status,omitempty"`
}

type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

type TaskRef struct {
	Idx         int    `json:"idx"`
	Description string `json:"description"`
}

// CompleteResult reports story progress after a task completes.
type CompleteResult struct {
	StoryID      string   `json:"story_id"`
	Progress     Progress `json:"story_progress"`
	NextTask     *TaskRef `json:"next_task"`
	AllTasksDone bool     `json:"all_tasks_done"`
}

// StoryFields lists the story fields UpdateStory may change. Nil fields are kept.
type StoryFields struct {
	Title              *string               `json:"title,omitempty"`
	Description        *string               `json:"description,omitempty"`
	Status             *string               `json:"status,omitempty"`
	EpicNumber         *int                  `json:"epic_number,omitempty"`
	AcceptanceCriteria []AcceptanceCriterion `json:"acceptance_criteria,omitempty"`
	DevNotes           *string               `json:"dev_notes,omitempty"`
}

type AcceptanceCriterion struct {
	Criterion string `json:"criterion"`
	Met       bool   `json:"met"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ToolResult is the envelope returned by tool calls.
type ToolResult map[string]any

func (r ToolResult) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

func (r ToolResult) ErrorKind() string {
	k, _ := r["error"].(string)
	return k
}

// APIError wraps non-2xx responses. Code and Details are filled from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Conflict reports whether the call lost a lease race or carried a stale
// version token.
func (e *APIError) Conflict() bool {
	return e.Code == "conflict"
}

// CurrentToken is the version token the server holds after a stale write.
func (e *APIError) CurrentToken() string {
	s, _ := e.Details["current_updated_at"].(string)
	return s
}

// CallTool invokes a named tool. Business failures come back as a result with
// Success() false, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, args any) (ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	var resp ToolResult
	err := c.do(ctx, http.MethodPost, "v0/tools/"+url.PathEscape(name), args, &resp)
	return resp, err
}

// ReserveTask claims task idx of a story for the client's actor.
func (c *Client) ReserveTask(ctx context.Context, storyID string, idx int, ttl time.Duration) (Reservation, error) {
	body := map[string]any{"agent": c.Actor}
	if ttl > 0 {
		body["ttl_seconds"] = int(ttl / time.Second)
	}
	var resp Reservation
	err := c.do(ctx, http.MethodPost, c.taskPath(storyID, idx, "reservation"), body, &resp)
	return resp, err
}

// ReleaseTask drops the actor's lease. It reports false when there was none.
func (c *Client) ReleaseTask(ctx context.Context, storyID string, idx int) (bool, error) {
	var resp struct {
		Released bool `json:"released"`
	}
	endpoint := c.taskPath(storyID, idx, "reservation") + "?agent=" + url.QueryEscape(c.Actor)
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp.Released, err
}

// CompleteTask marks a root task, or a subtask when subtaskIdx > 0, done.
func (c *Client) CompleteTask(ctx context.Context, storyID string, idx, subtaskIdx int, note string) (CompleteResult, error) {
	body := map[string]any{}
	if subtaskIdx > 0 {
		body["subtask_idx"] = subtaskIdx
	}
	if note != "" {
		body["note"] = note
	}
	var resp CompleteResult
	err := c.do(ctx, http.MethodPost, c.taskPath(storyID, idx, "complete"), body, &resp)
	return resp, err
}

// UpdateStory writes fields guarded by expectedUpdatedAt. An empty token
// writes unconditionally.
func (c *Client) UpdateStory(ctx context.Context, storyID string, fields StoryFields, expectedUpdatedAt string) (WriteResult, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return WriteResult{}, err
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return WriteResult{}, err
	}
	if expectedUpdatedAt != "" {
		body["expected_updated_at"] = expectedUpdatedAt
	}
	var resp WriteResult
	err = c.do(ctx, http.MethodPatch, "v0/stories/"+url.PathEscape(storyID), body, &resp)
	return resp, err
}

// SnapshotStory stores the story under label.
func (c *Client) SnapshotStory(ctx context.Context, storyID, label string) (VersionInfo, error) {
	var resp VersionInfo
	err := c.do(ctx, http.MethodPost, "v0/stories/"+url.PathEscape(storyID)+"/versions", map[string]any{"version": label}, &resp)
	return resp, err
}

// SwitchStoryVersion restores the story from label.
func (c *Client) SwitchStoryVersion(ctx context.Context, storyID, label string) (WriteResult, error) {
	var resp WriteResult
	endpoint := fmt.Sprintf("v0/stories/%s/versions/%s/switch", url.PathEscape(storyID), url.PathEscape(label))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
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
	if c.Actor != "" {
		req.Header.Set("X-Actor-Id", c.Actor)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) taskPath(storyID string, idx int, suffix string) string {
	return fmt.Sprintf("v0/stories/%s/tasks/%d/%s", url.PathEscape(storyID), idx, suffix)
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

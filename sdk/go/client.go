package signoffsdk

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

// Client is a minimal Signoff HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Page represents a node in the page tree.
type Page struct {
	ID        string  `json:"id"`
	SiteID    string  `json:"site_id"`
	ParentID  *string `json:"parent_id,omitempty"`
	Depth     int     `json:"depth"`
	Slug      string  `json:"slug"`
	CreatedAt string  `json:"created_at"`
}

// Title represents one language version of a page's content.
type Title struct {
	ID        string `json:"id"`
	PageID    string `json:"page_id"`
	Language  string `json:"language"`
	Text      string `json:"text,omitempty"`
	Draft     bool   `json:"draft"`
	CreatedAt string `json:"created_at"`
}

// Stage is one approval step of a workflow.
type Stage struct {
	ID       string `json:"id"`
	GroupID  string `json:"group_id"`
	Order    int    `json:"order"`
	Optional bool   `json:"optional"`
}

// Workflow is an ordered list of approval stages.
type Workflow struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Default   bool    `json:"default"`
	Stages    []Stage `json:"stages"`
	CreatedAt string  `json:"created_at"`
}

// Action is one node of a title's approval chain.
type Action struct {
	ID         string  `json:"id"`
	TitleID    string  `json:"title_id"`
	WorkflowID string  `json:"workflow_id"`
	StageID    *string `json:"stage_id,omitempty"`
	GroupID    *string `json:"group_id,omitempty"`
	ParentID   *string `json:"parent_id,omitempty"`
	Depth      int     `json:"depth"`
	Kind       string  `json:"kind"`
	UserID     *string `json:"user_id,omitempty"`
	Message    string  `json:"message,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// TitleStatus summarizes a title's moderation state.
type TitleStatus struct {
	TitleID      string   `json:"title_id"`
	WorkflowID   string   `json:"workflow_id,omitempty"`
	WorkflowName string   `json:"workflow_name,omitempty"`
	Status       string   `json:"status,omitempty"`
	Open         bool     `json:"open"`
	Publishable  bool     `json:"publishable"`
	Editable     bool     `json:"editable"`
	Chain        []Action `json:"chain,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	SiteID     string `json:"site_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
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

// CreatePage creates a page.
func (c *Client) CreatePage(ctx context.Context, slug string, parentID *string) (Page, error) {
	body := map[string]any{"slug": slug}
	if parentID != nil {
		body["parent_id"] = *parentID
	}
	var resp Page
	err := c.do(ctx, http.MethodPost, "v0/pages", body, &resp)
	return resp, err
}

// CreateTitle creates a language version for a page.
func (c *Client) CreateTitle(ctx context.Context, pageID, language, text string) (Title, error) {
	body := map[string]any{"language": language, "text": text}
	var resp Title
	endpoint := fmt.Sprintf("v0/pages/%s/titles", url.PathEscape(pageID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// BindWorkflow attaches a workflow to a title.
func (c *Client) BindWorkflow(ctx context.Context, titleID, workflowID string, descendants bool) error {
	body := map[string]any{"workflow_id": workflowID, "descendants": descendants}
	endpoint := fmt.Sprintf("v0/titles/%s/workflow", url.PathEscape(titleID))
	return c.do(ctx, http.MethodPut, endpoint, body, nil)
}

// Request opens an approval request for a title.
func (c *Client) Request(ctx context.Context, titleID, message string) (Action, error) {
	return c.moderate(ctx, titleID, "request", message, "")
}

// Approve approves the open request at the caller's next eligible stage.
// An editor id narrows who gets notified of the following stage.
func (c *Client) Approve(ctx context.Context, titleID, message, editor string) (Action, error) {
	return c.moderate(ctx, titleID, "approve", message, editor)
}

// Reject rejects the open request.
func (c *Client) Reject(ctx context.Context, titleID, message string) (Action, error) {
	return c.moderate(ctx, titleID, "reject", message, "")
}

// Cancel withdraws the open request. Only the requester may cancel.
func (c *Client) Cancel(ctx context.Context, titleID, message string) (Action, error) {
	return c.moderate(ctx, titleID, "cancel", message, "")
}

// RecordPublished runs the publish-success hook for a title.
func (c *Client) RecordPublished(ctx context.Context, titleID string) (Action, error) {
	var resp Action
	endpoint := fmt.Sprintf("v0/titles/%s/published", url.PathEscape(titleID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

func (c *Client) moderate(ctx context.Context, titleID, verb, message, editor string) (Action, error) {
	body := map[string]any{}
	if message != "" {
		body["message"] = message
	}
	if editor != "" {
		body["editor"] = editor
	}
	var resp Action
	endpoint := fmt.Sprintf("v0/titles/%s/%s", url.PathEscape(titleID), verb)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Status returns a title's moderation status and chain.
func (c *Client) Status(ctx context.Context, titleID string) (TitleStatus, error) {
	var resp TitleStatus
	endpoint := fmt.Sprintf("v0/titles/%s/status", url.PathEscape(titleID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Pending returns titles awaiting the caller's approval.
func (c *Client) Pending(ctx context.Context) ([]TitleStatus, error) {
	var resp []TitleStatus
	err := c.do(ctx, http.MethodGet, "v0/pending", nil, &resp)
	return resp, err
}

// Workflows lists all workflows.
func (c *Client) Workflows(ctx context.Context) ([]Workflow, error) {
	var resp []Workflow
	err := c.do(ctx, http.MethodGet, "v0/workflows", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

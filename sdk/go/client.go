// Package bloompathsdk is a minimal client for the BloomPath HTTP API.
package bloompathsdk

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

// Client is a minimal BloomPath HTTP API client.
type Client struct {
	BaseURL     string
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

// Issue is the unified ticket as served by the API.
type Issue struct {
	ID         string   `json:"id"`
	Provider   string   `json:"provider"`
	Title      string   `json:"title"`
	Status     string   `json:"status"`
	IssueType  string   `json:"issue_type"`
	Priority   int      `json:"priority"`
	Assignee   string   `json:"assignee,omitempty"`
	ParentID   string   `json:"parent_id,omitempty"`
	SprintName string   `json:"sprint_name,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	Blocked    bool     `json:"blocked"`
}

// SprintHealth mirrors the /sprint_status response.
type SprintHealth struct {
	SprintID     string  `json:"sprint_id,omitempty"`
	SprintName   string  `json:"sprint_name,omitempty"`
	Total        int     `json:"total"`
	Done         int     `json:"done"`
	Blocked      int     `json:"blocked"`
	DoneRatio    float64 `json:"done_ratio"`
	BlockedRatio float64 `json:"blocked_ratio"`
	Weather      string  `json:"weather"`
	Progress     float64 `json:"progress"`
}

// Dependencies groups the dependency edges of one issue.
type Dependencies struct {
	Blocks    []string `json:"blocks"`
	BlockedBy []string `json:"blocked_by"`
	RelatesTo []string `json:"relates_to"`
}

// DreamResult is the full record of one simulation.
type DreamResult struct {
	ScenarioType      string           `json:"scenario_type"`
	Timestamp         int64            `json:"timestamp"`
	DreamID           string           `json:"dream_id"`
	OriginalVelocity  float64          `json:"original_velocity"`
	ProjectedVelocity float64          `json:"projected_velocity"`
	RiskScore         float64          `json:"risk_score"`
	ImpactSummary     string           `json:"impact_summary"`
	AffectedIssues    []string         `json:"affected_issues"`
	GhostIntensity    float64          `json:"ghost_intensity"`
	VisualEffects     []map[string]any `json:"visual_effects"`
}

// DreamMetadata is the listing view of a stored dream.
type DreamMetadata struct {
	DreamID       string  `json:"dream_id"`
	ScenarioType  string  `json:"scenario_type"`
	Timestamp     int64   `json:"timestamp"`
	RiskScore     float64 `json:"risk_score"`
	ImpactSummary string  `json:"impact_summary"`
}

// DreamParams overrides scenario defaults; nil fields keep server-side
// defaults.
type DreamParams struct {
	RemoveCount      *int    `json:"remove_count,omitempty"`
	AdditionalIssues *int    `json:"additional_issues,omitempty"`
	Priority         *int    `json:"priority,omitempty"`
	TargetEpic       *string `json:"target_epic,omitempty"`
	ShiftPercentage  *int    `json:"shift_percentage,omitempty"`
}

// TeamMember is one assignee of the active sprint.
type TeamMember struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	IssueCount int    `json:"issue_count"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetIssue fetches one normalized issue.
func (c *Client) GetIssue(ctx context.Context, issueID string) (Issue, error) {
	var resp Issue
	endpoint := fmt.Sprintf("issues/%s", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SprintStatus returns the active sprint's health.
func (c *Client) SprintStatus(ctx context.Context) (SprintHealth, error) {
	var resp SprintHealth
	err := c.do(ctx, http.MethodGet, "sprint_status", nil, &resp)
	return resp, err
}

// CompleteTask transitions an issue to done.
func (c *Client) CompleteTask(ctx context.Context, issueID string) error {
	body := map[string]any{"issue_id": issueID}
	return c.do(ctx, http.MethodPost, "complete_task", body, nil)
}

// Dependencies returns the dependency edges of one issue.
func (c *Client) Dependencies(ctx context.Context, issueID string) (Dependencies, error) {
	var resp struct {
		Dependencies Dependencies `json:"dependencies"`
	}
	endpoint := fmt.Sprintf("dependencies/%s", url.PathEscape(issueID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Dependencies, err
}

// TeamMembers returns the assignees of the active sprint.
func (c *Client) TeamMembers(ctx context.Context) ([]TeamMember, error) {
	var resp struct {
		Members []TeamMember `json:"members"`
	}
	err := c.do(ctx, http.MethodGet, "team_members", nil, &resp)
	return resp.Members, err
}

// Dream runs a what-if simulation.
func (c *Client) Dream(ctx context.Context, scenario string, params DreamParams) (DreamResult, error) {
	body := map[string]any{
		"scenario": scenario,
		"params":   params,
	}
	var resp DreamResult
	err := c.do(ctx, http.MethodPost, "dream", body, &resp)
	return resp, err
}

// Dreams lists recorded dreams, newest first.
func (c *Client) Dreams(ctx context.Context) ([]DreamMetadata, error) {
	var resp struct {
		Dreams []DreamMetadata `json:"dreams"`
	}
	err := c.do(ctx, http.MethodGet, "dreams", nil, &resp)
	return resp.Dreams, err
}

// GetDream fetches one recorded dream.
func (c *Client) GetDream(ctx context.Context, dreamID string) (DreamResult, error) {
	var resp DreamResult
	endpoint := fmt.Sprintf("dreams/%s", url.PathEscape(dreamID))
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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

// Package linear adapts Linear's label-and-state data model to the unified
// ticket format over the GraphQL API.
package linear

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"bloompath/internal/provider"
	"bloompath/internal/ticket"
)

const defaultEndpoint = "https://api.linear.app/graphql"

// Linear has no native issue type. Type is inferred from the first label
// whose name matches this table; unlabeled issues default to feature.
var labelTypeMap = map[string]ticket.IssueType{
	"epic":        ticket.TypeEpic,
	"feature":     ticket.TypeFeature,
	"bug":         ticket.TypeBug,
	"task":        ticket.TypeTask,
	"chore":       ticket.TypeChore,
	"improvement": ticket.TypeFeature,
	"refactor":    ticket.TypeChore,
}

// Linear priority 0 means "no priority", which lands on the neutral 3.
// 1 is urgent, 4 is low.
var priorityMap = map[int]int{
	0: 3,
	1: 5,
	2: 4,
	3: 3,
	4: 2,
}

var stateTypeMap = map[string]ticket.Status{
	"backlog":   ticket.StatusTodo,
	"unstarted": ticket.StatusTodo,
	"started":   ticket.StatusInProgress,
	"completed": ticket.StatusDone,
	"canceled":  ticket.StatusDone,
}

// Config carries the Linear API key, team scope, and the webhook shared
// secret.
type Config struct {
	APIKey        string
	WebhookSecret string
	TeamID        string
}

// Provider is the Linear implementation of provider.IssueProvider.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	// Overridable endpoint, used by tests to target a local listener.
	endpoint string
}

func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		logger.Warn("linear api key not configured")
	}
	return &Provider{
		cfg:      cfg,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		endpoint: defaultEndpoint,
	}
}

func (p *Provider) Name() string { return "linear" }

// Configured reports whether the adapter has a usable API key.
func (p *Provider) Configured() bool { return p.cfg.APIKey != "" }

// VerifyWebhookSignature checks the Linear-Signature header: an HMAC-SHA256
// hex digest of the raw body under the shared secret. Permissive when no
// secret is configured.
func (p *Provider) VerifyWebhookSignature(payload []byte, signature string) bool {
	if p.cfg.WebhookSecret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// --- payload shapes ---

type issueNode struct {
	ID          string         `json:"id"`
	Identifier  string         `json:"identifier"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    float64        `json:"priority"`
	State       *workflowState `json:"state"`
	Assignee    *struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatarUrl"`
	} `json:"assignee"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	Parent *struct {
		Identifier string `json:"identifier"`
	} `json:"parent"`
	Project *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"project"`
	Cycle *struct {
		ID     string  `json:"id"`
		Number float64 `json:"number"`
		Name   string  `json:"name"`
	} `json:"cycle"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// ParseWebhook normalizes a Linear webhook. The issue object lives at
// "data" for Issue events and at "data.issue" for nested events such as
// comments.
func (p *Provider) ParseWebhook(payload []byte) (ticket.UnifiedTicket, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ticket.UnifiedTicket{}, fmt.Errorf("decode linear webhook: %w", err)
	}
	if len(envelope.Data) == 0 {
		return ticket.UnifiedTicket{}, fmt.Errorf("linear webhook has no data object")
	}
	raw := envelope.Data
	var nested struct {
		Issue json.RawMessage `json:"issue"`
	}
	if err := json.Unmarshal(envelope.Data, &nested); err == nil && len(nested.Issue) > 0 {
		raw = nested.Issue
	}
	return p.nodeToTicket(raw)
}

func (p *Provider) nodeToTicket(raw json.RawMessage) (ticket.UnifiedTicket, error) {
	var node issueNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return ticket.UnifiedTicket{}, fmt.Errorf("decode linear issue: %w", err)
	}
	if node.Identifier == "" && node.ID == "" {
		return ticket.UnifiedTicket{}, fmt.Errorf("linear issue has no identifier")
	}
	id := node.Identifier
	if id == "" {
		id = node.ID
	}

	labels := make([]string, 0, len(node.Labels.Nodes))
	for _, l := range node.Labels.Nodes {
		labels = append(labels, l.Name)
	}

	t := ticket.UnifiedTicket{
		ID:          id,
		Provider:    p.Name(),
		Title:       node.Title,
		Description: node.Description,
		Status:      normalizeState(node.State),
		IssueType:   typeFromLabels(labels),
		Priority:    normalizePriority(int(node.Priority)),
		Labels:      labels,
		CreatedAt:   parseTime(node.CreatedAt),
		UpdatedAt:   parseTime(node.UpdatedAt),
	}
	if node.Assignee != nil {
		t.AssigneeID = node.Assignee.ID
		t.AssigneeName = node.Assignee.Name
		t.AssigneeAvatar = node.Assignee.AvatarURL
	}
	// Parent and project are distinct notions in Linear: a parent issue is
	// a direct hierarchy edge, a project is loose containment. They stay
	// separate so consumers can prefer the stronger edge.
	if node.Parent != nil {
		t.ParentID = node.Parent.Identifier
	}
	if node.Project != nil {
		t.ContainingProjectID = node.Project.ID
	}
	if node.Cycle != nil {
		t.SprintID = node.Cycle.ID
		t.SprintName = cycleName(node.Cycle.Name, node.Cycle.Number)
	}
	var rawData map[string]any
	if err := json.Unmarshal(raw, &rawData); err == nil {
		t.RawData = rawData
	}
	return t, nil
}

func typeFromLabels(labels []string) ticket.IssueType {
	for _, label := range labels {
		if mapped, ok := labelTypeMap[strings.ToLower(label)]; ok {
			return mapped
		}
	}
	return ticket.TypeFeature
}

func normalizePriority(pr int) int {
	if mapped, ok := priorityMap[pr]; ok {
		return mapped
	}
	return 3
}

type workflowState struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func normalizeState(state *workflowState) ticket.Status {
	if state == nil {
		return ticket.StatusTodo
	}
	if mapped, ok := stateTypeMap[state.Type]; ok {
		return mapped
	}
	return ticket.StatusTodo
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return &ts
	}
	return nil
}

func cycleName(name string, number float64) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("Cycle %d", int(number))
}

// --- GraphQL plumbing ---

const issueSelection = `
	id
	identifier
	title
	description
	priority
	state { name type }
	assignee { id name avatarUrl }
	labels { nodes { name } }
	parent { identifier }
	project { id name }
	cycle { id number name }
	createdAt
	updatedAt`

type gqlError struct {
	Message string `json:"message"`
}

func (p *Provider) query(ctx context.Context, query string, variables map[string]any, out any) error {
	if p.cfg.APIKey == "" {
		return &provider.ConfigurationError{Reason: "linear api key not configured"}
	}
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return &provider.TransportError{Op: "linear request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", p.cfg.APIKey)
	res, err := p.client.Do(req)
	if err != nil {
		return &provider.TransportError{Op: "linear query", Err: err}
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return &provider.TransportError{Op: "linear read body", Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &provider.TransportError{Op: "linear query", Err: fmt.Errorf("status %d", res.StatusCode)}
	}
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return &provider.TransportError{Op: "linear decode", Err: err}
	}
	if len(envelope.Errors) > 0 {
		return &provider.TransportError{Op: "linear query", Err: fmt.Errorf("%s", envelope.Errors[0].Message)}
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return &provider.TransportError{Op: "linear decode data", Err: err}
		}
	}
	return nil
}

// GetIssue fetches one issue by identifier or UUID. Returns (nil, nil) when
// the issue does not exist.
func (p *Provider) GetIssue(ctx context.Context, issueID string) (*ticket.UnifiedTicket, error) {
	q := fmt.Sprintf(`query($id: String!) { issue(id: $id) {%s} }`, issueSelection)
	var out struct {
		Issue json.RawMessage `json:"issue"`
	}
	err := p.query(ctx, q, map[string]any{"id": issueID}, &out)
	if err != nil {
		var tErr *provider.TransportError
		// Linear reports a missing issue as a GraphQL "entity not found"
		// error rather than a null result.
		if errors.As(err, &tErr) && strings.Contains(strings.ToLower(tErr.Error()), "not found") {
			return nil, nil
		}
		return nil, err
	}
	if len(out.Issue) == 0 || string(out.Issue) == "null" {
		return nil, nil
	}
	t, err := p.nodeToTicket(out.Issue)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ActiveSprint returns the team's active cycle, or nil when the team has no
// cycle running.
func (p *Provider) ActiveSprint(ctx context.Context) (*provider.Sprint, error) {
	if p.cfg.TeamID == "" {
		return nil, &provider.ConfigurationError{Reason: "linear team id not configured"}
	}
	q := `query($id: String!) { team(id: $id) { activeCycle { id number name startsAt endsAt progress } } }`
	var out struct {
		Team struct {
			ActiveCycle *struct {
				ID       string  `json:"id"`
				Number   float64 `json:"number"`
				Name     string  `json:"name"`
				StartsAt string  `json:"startsAt"`
				EndsAt   string  `json:"endsAt"`
				Progress float64 `json:"progress"`
			} `json:"activeCycle"`
		} `json:"team"`
	}
	if err := p.query(ctx, q, map[string]any{"id": p.cfg.TeamID}, &out); err != nil {
		return nil, err
	}
	cycle := out.Team.ActiveCycle
	if cycle == nil {
		return nil, nil
	}
	return &provider.Sprint{
		ID:       cycle.ID,
		Name:     cycleName(cycle.Name, cycle.Number),
		StartsAt: cycle.StartsAt,
		EndsAt:   cycle.EndsAt,
		Progress: cycle.Progress,
	}, nil
}

// SprintIssues returns all issues in the cycle, failing soft to an empty
// slice.
func (p *Provider) SprintIssues(ctx context.Context, sprintID string) ([]ticket.UnifiedTicket, error) {
	q := fmt.Sprintf(`query($id: String!) { cycle(id: $id) { issues { nodes {%s} } } }`, issueSelection)
	var out struct {
		Cycle struct {
			Issues struct {
				Nodes []json.RawMessage `json:"nodes"`
			} `json:"issues"`
		} `json:"cycle"`
	}
	if err := p.query(ctx, q, map[string]any{"id": sprintID}, &out); err != nil {
		p.logger.Error("fetch cycle issues failed", zap.String("cycle_id", sprintID), zap.Error(err))
		return []ticket.UnifiedTicket{}, nil
	}
	tickets := make([]ticket.UnifiedTicket, 0, len(out.Cycle.Issues.Nodes))
	for _, raw := range out.Cycle.Issues.Nodes {
		t, err := p.nodeToTicket(raw)
		if err != nil {
			continue
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// TransitionToDone looks up the issue's team, finds that team's completed
// workflow state, and moves the issue there.
func (p *Provider) TransitionToDone(ctx context.Context, issueID string) error {
	q := `query($id: String!) { issue(id: $id) { id team { id states { nodes { id name type } } } } }`
	var out struct {
		Issue *struct {
			ID   string `json:"id"`
			Team struct {
				ID     string `json:"id"`
				States struct {
					Nodes []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
						Type string `json:"type"`
					} `json:"nodes"`
				} `json:"states"`
			} `json:"team"`
		} `json:"issue"`
	}
	if err := p.query(ctx, q, map[string]any{"id": issueID}, &out); err != nil {
		return err
	}
	if out.Issue == nil {
		return &provider.TransportError{Op: "linear transition", Err: fmt.Errorf("issue %s not found", issueID)}
	}
	stateID := ""
	for _, st := range out.Issue.Team.States.Nodes {
		if st.Type == "completed" {
			stateID = st.ID
			break
		}
	}
	if stateID == "" {
		return &provider.ConfigurationError{Reason: fmt.Sprintf("no completed state for team of %s", issueID)}
	}
	mutation := `mutation($id: String!, $stateId: String!) {
		issueUpdate(id: $id, input: { stateId: $stateId }) { success }
	}`
	var result struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	if err := p.query(ctx, mutation, map[string]any{"id": out.Issue.ID, "stateId": stateID}, &result); err != nil {
		return err
	}
	if !result.IssueUpdate.Success {
		return &provider.TransportError{Op: "linear transition", Err: fmt.Errorf("issueUpdate rejected for %s", issueID)}
	}
	p.logger.Info("transitioned issue to completed", zap.String("issue_id", issueID))
	return nil
}

// Dependencies reads the issue's relation edges. Forward "blocks" edges
// land in Blocks, inverse ones in BlockedBy, everything else in RelatesTo.
func (p *Provider) Dependencies(ctx context.Context, issueID string) (provider.Dependencies, error) {
	deps := provider.Dependencies{Blocks: []string{}, BlockedBy: []string{}, RelatesTo: []string{}}
	q := `query($id: String!) { issue(id: $id) {
		relations { nodes { type relatedIssue { identifier } } }
		inverseRelations { nodes { type issue { identifier } } }
	} }`
	var out struct {
		Issue *struct {
			Relations struct {
				Nodes []struct {
					Type         string `json:"type"`
					RelatedIssue struct {
						Identifier string `json:"identifier"`
					} `json:"relatedIssue"`
				} `json:"nodes"`
			} `json:"relations"`
			InverseRelations struct {
				Nodes []struct {
					Type  string `json:"type"`
					Issue struct {
						Identifier string `json:"identifier"`
					} `json:"issue"`
				} `json:"nodes"`
			} `json:"inverseRelations"`
		} `json:"issue"`
	}
	if err := p.query(ctx, q, map[string]any{"id": issueID}, &out); err != nil {
		return deps, err
	}
	if out.Issue == nil {
		return deps, nil
	}
	for _, rel := range out.Issue.Relations.Nodes {
		if rel.RelatedIssue.Identifier == "" {
			continue
		}
		if rel.Type == "blocks" {
			deps.Blocks = append(deps.Blocks, rel.RelatedIssue.Identifier)
		} else {
			deps.RelatesTo = append(deps.RelatesTo, rel.RelatedIssue.Identifier)
		}
	}
	for _, rel := range out.Issue.InverseRelations.Nodes {
		if rel.Issue.Identifier == "" {
			continue
		}
		if rel.Type == "blocks" {
			deps.BlockedBy = append(deps.BlockedBy, rel.Issue.Identifier)
		} else {
			deps.RelatesTo = append(deps.RelatesTo, rel.Issue.Identifier)
		}
	}
	return deps, nil
}

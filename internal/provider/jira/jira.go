// Package jira adapts Atlassian Jira's data model (Epic, Story, Task, Bug,
// Sub-task, issue links) to the unified ticket format.
package jira

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

	"go.uber.org/zap"

	"bloompath/internal/provider"
	"bloompath/internal/ticket"
)

// Default custom field ids for classic projects. Overridable in Config for
// instances that use non-standard field ids.
const (
	defaultEpicField   = "customfield_10014"
	defaultSprintField = "customfield_10020"
)

var typeMap = map[string]ticket.IssueType{
	"Epic":           ticket.TypeEpic,
	"Story":          ticket.TypeFeature,
	"Bug":            ticket.TypeBug,
	"Task":           ticket.TypeTask,
	"Sub-task":       ticket.TypeChore,
	"Feature":        ticket.TypeFeature,
	"Improvement":    ticket.TypeFeature,
	"Spike":          ticket.TypeTask,
	"Technical Debt": ticket.TypeChore,
}

var priorityMap = map[string]int{
	"Highest": 5,
	"High":    4,
	"Medium":  3,
	"Low":     2,
	"Lowest":  1,
}

var statusMap = map[string]ticket.Status{
	"To Do":       ticket.StatusTodo,
	"Open":        ticket.StatusTodo,
	"Backlog":     ticket.StatusTodo,
	"In Progress": ticket.StatusInProgress,
	"In Review":   ticket.StatusInProgress,
	"Blocked":     ticket.StatusBlocked,
	"Impediment":  ticket.StatusBlocked,
	"On Hold":     ticket.StatusBlocked,
	"Waiting":     ticket.StatusBlocked,
	"Done":        ticket.StatusDone,
	"Closed":      ticket.StatusDone,
	"Resolved":    ticket.StatusDone,
}

var linkMap = map[string]ticket.RelationType{
	"Blocks":           ticket.RelBlocks,
	"blocks":           ticket.RelBlocks,
	"is blocked by":    ticket.RelBlockedBy,
	"Duplicate":        ticket.RelDuplicate,
	"duplicates":       ticket.RelDuplicate,
	"is duplicated by": ticket.RelDuplicate,
	"Relates":          ticket.RelRelatesTo,
	"relates to":       ticket.RelRelatesTo,
}

// Config carries Jira credentials and instance-specific field ids.
type Config struct {
	Domain    string
	Email     string
	APIToken  string
	BoardID   string
	EpicField string
}

// Provider is the Jira implementation of provider.IssueProvider.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	// Overridable endpoints, used by tests to target a local listener.
	apiBase   string
	agileBase string
}

func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.EpicField == "" {
		cfg.EpicField = defaultEpicField
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Domain == "" || cfg.Email == "" || cfg.APIToken == "" {
		logger.Warn("jira credentials not fully configured")
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (p *Provider) Name() string { return "jira" }

// Configured reports whether the adapter has usable credentials.
func (p *Provider) Configured() bool {
	return p.cfg.Domain != "" && p.cfg.Email != "" && p.cfg.APIToken != ""
}

func (p *Provider) baseURL() string {
	if p.apiBase != "" {
		return p.apiBase
	}
	return fmt.Sprintf("https://%s/rest/api/3", p.cfg.Domain)
}

func (p *Provider) agileURL() string {
	if p.agileBase != "" {
		return p.agileBase
	}
	return fmt.Sprintf("https://%s/rest/agile/1.0", p.cfg.Domain)
}

// VerifyWebhookSignature is permissive: Jira Cloud webhooks are not signed
// on this integration path.
func (p *Provider) VerifyWebhookSignature(payload []byte, signature string) bool {
	return true
}

// --- payload shapes ---

type webhookPayload struct {
	Issue json.RawMessage `json:"issue"`
}

type issuePayload struct {
	Key    string          `json:"key"`
	Fields json.RawMessage `json:"fields"`
}

type issueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"`
	Status      namedField      `json:"status"`
	IssueType   namedField      `json:"issuetype"`
	Priority    *namedField     `json:"priority"`
	Assignee    *assigneeField  `json:"assignee"`
	Parent      *issueRef       `json:"parent"`
	Labels      []string        `json:"labels"`
	IssueLinks  []issueLink     `json:"issuelinks"`
	Subtasks    []issueRef      `json:"subtasks"`
	Created     string          `json:"created"`
	Updated     string          `json:"updated"`
}

type namedField struct {
	Name string `json:"name"`
}

type assigneeField struct {
	AccountID   string            `json:"accountId"`
	DisplayName string            `json:"displayName"`
	AvatarURLs  map[string]string `json:"avatarUrls"`
}

type issueRef struct {
	Key string `json:"key"`
}

type issueLink struct {
	Type struct {
		Inward  string `json:"inward"`
		Outward string `json:"outward"`
	} `json:"type"`
	OutwardIssue *issueRef `json:"outwardIssue"`
	InwardIssue  *issueRef `json:"inwardIssue"`
}

type sprintEntry struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// ParseWebhook extracts the issue object from a Jira webhook payload and
// normalizes it. Absent optional fields map to zero values, never errors.
func (p *Provider) ParseWebhook(payload []byte) (ticket.UnifiedTicket, error) {
	var wp webhookPayload
	if err := json.Unmarshal(payload, &wp); err != nil {
		return ticket.UnifiedTicket{}, fmt.Errorf("decode jira webhook: %w", err)
	}
	if len(wp.Issue) == 0 {
		return ticket.UnifiedTicket{}, fmt.Errorf("jira webhook has no issue object")
	}
	return p.issueToTicket(wp.Issue)
}

func (p *Provider) issueToTicket(raw json.RawMessage) (ticket.UnifiedTicket, error) {
	var issue issuePayload
	if err := json.Unmarshal(raw, &issue); err != nil {
		return ticket.UnifiedTicket{}, fmt.Errorf("decode jira issue: %w", err)
	}
	var fields issueFields
	if len(issue.Fields) > 0 {
		// Ragged webhook payloads are tolerated: unknown or mistyped
		// optional fields degrade to zero values.
		_ = json.Unmarshal(issue.Fields, &fields)
	}

	t := ticket.UnifiedTicket{
		ID:          issue.Key,
		Provider:    p.Name(),
		Title:       fields.Summary,
		Description: descriptionText(fields.Description),
		Status:      normalizeStatus(fields.Status.Name),
		IssueType:   normalizeType(fields.IssueType.Name),
		Priority:    normalizePriority(fields.Priority),
		ParentID:    p.extractParentID(issue.Fields, fields),
		Relations:   extractRelations(fields),
		Labels:      fields.Labels,
		CreatedAt:   parseTime(fields.Created),
		UpdatedAt:   parseTime(fields.Updated),
	}
	if fields.Assignee != nil {
		t.AssigneeID = fields.Assignee.AccountID
		t.AssigneeName = fields.Assignee.DisplayName
		t.AssigneeAvatar = fields.Assignee.AvatarURLs["48x48"]
	}
	if id, name, ok := p.extractSprint(issue.Fields); ok {
		t.SprintID = id
		t.SprintName = name
	}
	var rawData map[string]any
	if err := json.Unmarshal(raw, &rawData); err == nil {
		t.RawData = rawData
	}
	return t, nil
}

func normalizeType(name string) ticket.IssueType {
	if mapped, ok := typeMap[name]; ok {
		return mapped
	}
	return ticket.TypeTask
}

func normalizePriority(pr *namedField) int {
	if pr == nil {
		return 3
	}
	if mapped, ok := priorityMap[pr.Name]; ok {
		return mapped
	}
	return 3
}

func normalizeStatus(name string) ticket.Status {
	if mapped, ok := statusMap[name]; ok {
		return mapped
	}
	return ticket.StatusTodo
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339, "2006-01-02T15:04:05.000Z0700"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return &ts
		}
	}
	return nil
}

// descriptionText flattens a description that may be a plain string or a
// Jira v3 rich-text (ADF) document. ADF documents are reduced to their
// concatenated text nodes.
func descriptionText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	return adfText(doc)
}

func adfText(node map[string]any) string {
	if text, ok := node["text"].(string); ok {
		return text
	}
	content, ok := node["content"].([]any)
	if !ok {
		return ""
	}
	out := ""
	for _, child := range content {
		childMap, ok := child.(map[string]any)
		if !ok {
			continue
		}
		part := adfText(childMap)
		if part == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += part
	}
	return out
}

// extractParentID prefers the parent relationship field (next-gen
// projects), falling back to the configured epic-link custom field for
// classic projects.
func (p *Provider) extractParentID(rawFields json.RawMessage, fields issueFields) string {
	if fields.Parent != nil && fields.Parent.Key != "" {
		return fields.Parent.Key
	}
	if len(rawFields) == 0 {
		return ""
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(rawFields, &generic); err != nil {
		return ""
	}
	if raw, ok := generic[p.cfg.EpicField]; ok {
		var epicKey string
		if err := json.Unmarshal(raw, &epicKey); err == nil {
			return epicKey
		}
	}
	return ""
}

// extractSprint reads the agile sprint custom field, taking the most
// recent (last) entry when the issue has been carried across sprints.
func (p *Provider) extractSprint(rawFields json.RawMessage) (id, name string, ok bool) {
	if len(rawFields) == 0 {
		return "", "", false
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(rawFields, &generic); err != nil {
		return "", "", false
	}
	raw, found := generic[defaultSprintField]
	if !found {
		return "", "", false
	}
	var sprints []sprintEntry
	if err := json.Unmarshal(raw, &sprints); err != nil || len(sprints) == 0 {
		return "", "", false
	}
	last := sprints[len(sprints)-1]
	return last.ID.String(), last.Name, true
}

func extractRelations(fields issueFields) []ticket.Relation {
	var relations []ticket.Relation
	for _, link := range fields.IssueLinks {
		if link.OutwardIssue != nil && link.OutwardIssue.Key != "" {
			relations = append(relations, ticket.Relation{
				TargetID:       link.OutwardIssue.Key,
				Type:           relationForLink(link.Type.Outward),
				TargetProvider: "jira",
			})
		}
		if link.InwardIssue != nil && link.InwardIssue.Key != "" {
			relations = append(relations, ticket.Relation{
				TargetID:       link.InwardIssue.Key,
				Type:           relationForLink(link.Type.Inward),
				TargetProvider: "jira",
			})
		}
	}
	for _, sub := range fields.Subtasks {
		if sub.Key == "" {
			continue
		}
		relations = append(relations, ticket.Relation{
			TargetID:       sub.Key,
			Type:           ticket.RelChild,
			TargetProvider: "jira",
		})
	}
	return relations
}

func relationForLink(linkType string) ticket.RelationType {
	if mapped, ok := linkMap[linkType]; ok {
		return mapped
	}
	return ticket.RelRelatesTo
}

// --- remote API ---

const issueFieldList = "summary,description,status,issuetype,priority,assignee," +
	"parent,labels,issuelinks,subtasks,created,updated," +
	defaultEpicField + "," + defaultSprintField

func (p *Provider) get(ctx context.Context, rawURL string, params url.Values) (int, []byte, error) {
	if params != nil {
		rawURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, &provider.TransportError{Op: "jira request", Err: err}
	}
	req.SetBasicAuth(p.cfg.Email, p.cfg.APIToken)
	res, err := p.client.Do(req)
	if err != nil {
		return 0, nil, &provider.TransportError{Op: "jira get", Err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return res.StatusCode, nil, &provider.TransportError{Op: "jira read body", Err: err}
	}
	return res.StatusCode, body, nil
}

func (p *Provider) postJSON(ctx context.Context, rawURL string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return 0, nil, &provider.TransportError{Op: "jira request", Err: err}
	}
	req.SetBasicAuth(p.cfg.Email, p.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")
	res, err := p.client.Do(req)
	if err != nil {
		return 0, nil, &provider.TransportError{Op: "jira post", Err: err}
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	return res.StatusCode, body, nil
}

// GetIssue fetches one issue from Jira. Returns (nil, nil) when the remote
// reports not-found.
func (p *Provider) GetIssue(ctx context.Context, issueID string) (*ticket.UnifiedTicket, error) {
	params := url.Values{"fields": {issueFieldList}}
	status, body, err := p.get(ctx, p.baseURL()+"/issue/"+url.PathEscape(issueID), params)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status < 200 || status >= 300 {
		return nil, &provider.TransportError{Op: "jira get issue", Err: fmt.Errorf("status %d", status)}
	}
	t, err := p.issueToTicket(body)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ActiveSprint returns the first active sprint on the configured board, or
// nil when none is active.
func (p *Provider) ActiveSprint(ctx context.Context) (*provider.Sprint, error) {
	if p.cfg.BoardID == "" {
		return nil, &provider.ConfigurationError{Reason: "jira board id not configured"}
	}
	params := url.Values{"state": {"active"}}
	status, body, err := p.get(ctx, p.agileURL()+"/board/"+url.PathEscape(p.cfg.BoardID)+"/sprint", params)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &provider.TransportError{Op: "jira active sprint", Err: fmt.Errorf("status %d", status)}
	}
	var out struct {
		Values []struct {
			ID        json.Number `json:"id"`
			Name      string      `json:"name"`
			StartDate string      `json:"startDate"`
			EndDate   string      `json:"endDate"`
		} `json:"values"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &provider.TransportError{Op: "jira active sprint decode", Err: err}
	}
	if len(out.Values) == 0 {
		return nil, nil
	}
	first := out.Values[0]
	return &provider.Sprint{
		ID:       first.ID.String(),
		Name:     first.Name,
		StartsAt: first.StartDate,
		EndsAt:   first.EndDate,
		Progress: -1,
	}, nil
}

// SprintIssues returns all issues in the sprint. The feed is advisory, so
// fetch failures degrade to an empty slice.
func (p *Provider) SprintIssues(ctx context.Context, sprintID string) ([]ticket.UnifiedTicket, error) {
	params := url.Values{"fields": {issueFieldList}}
	status, body, err := p.get(ctx, p.agileURL()+"/sprint/"+url.PathEscape(sprintID)+"/issue", params)
	if err != nil {
		p.logger.Error("fetch sprint issues failed", zap.String("sprint_id", sprintID), zap.Error(err))
		return []ticket.UnifiedTicket{}, nil
	}
	if status < 200 || status >= 300 {
		p.logger.Error("fetch sprint issues failed", zap.String("sprint_id", sprintID), zap.Int("status", status))
		return []ticket.UnifiedTicket{}, nil
	}
	var out struct {
		Issues []json.RawMessage `json:"issues"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		p.logger.Error("decode sprint issues failed", zap.String("sprint_id", sprintID), zap.Error(err))
		return []ticket.UnifiedTicket{}, nil
	}
	tickets := make([]ticket.UnifiedTicket, 0, len(out.Issues))
	for _, raw := range out.Issues {
		t, err := p.issueToTicket(raw)
		if err != nil {
			continue
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// TransitionToDone finds a workflow transition whose target status name is
// "done" (case-insensitive) and executes it.
func (p *Provider) TransitionToDone(ctx context.Context, issueID string) error {
	transitionsURL := p.baseURL() + "/issue/" + url.PathEscape(issueID) + "/transitions"
	status, body, err := p.get(ctx, transitionsURL, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &provider.TransportError{Op: "jira list transitions", Err: fmt.Errorf("status %d", status)}
	}
	var out struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"transitions"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return &provider.TransportError{Op: "jira list transitions decode", Err: err}
	}
	doneID := ""
	for _, tr := range out.Transitions {
		if strings.EqualFold(tr.Name, "done") {
			doneID = tr.ID
			break
		}
	}
	if doneID == "" {
		return &provider.ConfigurationError{Reason: fmt.Sprintf("no done transition for %s", issueID)}
	}
	payload := map[string]any{"transition": map[string]string{"id": doneID}}
	status, _, err = p.postJSON(ctx, transitionsURL, payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &provider.TransportError{Op: "jira execute transition", Err: fmt.Errorf("status %d", status)}
	}
	p.logger.Info("transitioned issue to done", zap.String("issue_id", issueID))
	return nil
}

// Dependencies derives blocks/blocked_by/relates_to from the issue's
// relations. Missing issues yield empty buckets.
func (p *Provider) Dependencies(ctx context.Context, issueID string) (provider.Dependencies, error) {
	t, err := p.GetIssue(ctx, issueID)
	if err != nil {
		return provider.DependenciesFrom(nil), err
	}
	return provider.DependenciesFrom(t), nil
}

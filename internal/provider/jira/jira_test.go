package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"bloompath/internal/provider"
	"bloompath/internal/ticket"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	return New(Config{
		Domain:   "example.atlassian.net",
		Email:    "bot@example.com",
		APIToken: "token",
		BoardID:  "7",
	}, zap.NewNop())
}

func TestParseWebhookFullIssue(t *testing.T) {
	payload := []byte(`{
		"webhookEvent": "jira:issue_updated",
		"issue": {
			"key": "WFM-42",
			"fields": {
				"summary": "Water the ficus",
				"description": "daily",
				"status": {"name": "In Progress"},
				"issuetype": {"name": "Story"},
				"priority": {"name": "High"},
				"assignee": {
					"accountId": "acc-1",
					"displayName": "Alice",
					"avatarUrls": {"48x48": "https://img/a48.png", "24x24": "https://img/a24.png"}
				},
				"labels": ["garden"],
				"customfield_10014": "EPIC-1",
				"customfield_10020": [
					{"id": 3, "name": "Sprint 3"},
					{"id": 4, "name": "Sprint 4"}
				],
				"issuelinks": [
					{
						"type": {"inward": "is blocked by", "outward": "blocks"},
						"outwardIssue": {"key": "WFM-50"}
					},
					{
						"type": {"inward": "is blocked by", "outward": "blocks"},
						"inwardIssue": {"key": "WFM-51"}
					}
				],
				"subtasks": [{"key": "WFM-43"}],
				"created": "2026-03-01T09:00:00.000+0000",
				"updated": "2026-03-02T10:30:00.000+0000"
			}
		}
	}`)

	p := testProvider(t)
	got, err := p.ParseWebhook(payload)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if got.ID != "WFM-42" || got.Provider != "jira" {
		t.Fatalf("identity: %q / %q", got.ID, got.Provider)
	}
	if got.IssueType != ticket.TypeFeature {
		t.Fatalf("Story should map to feature, got %s", got.IssueType)
	}
	if got.Status != ticket.StatusInProgress {
		t.Fatalf("status = %s", got.Status)
	}
	if got.Priority != 4 {
		t.Fatalf("High should map to 4, got %d", got.Priority)
	}
	if got.AssigneeID != "acc-1" || got.AssigneeName != "Alice" || got.AssigneeAvatar != "https://img/a48.png" {
		t.Fatalf("assignee = %q %q %q", got.AssigneeID, got.AssigneeName, got.AssigneeAvatar)
	}
	if got.ParentID != "EPIC-1" {
		t.Fatalf("parent = %q", got.ParentID)
	}
	if got.SprintID != "4" || got.SprintName != "Sprint 4" {
		t.Fatalf("sprint should be the last entry, got %q/%q", got.SprintID, got.SprintName)
	}
	if got.CreatedAt == nil || got.UpdatedAt == nil {
		t.Fatal("timestamps not parsed")
	}

	wantRelations := []ticket.Relation{
		{TargetID: "WFM-50", Type: ticket.RelBlocks, TargetProvider: "jira"},
		{TargetID: "WFM-51", Type: ticket.RelBlockedBy, TargetProvider: "jira"},
		{TargetID: "WFM-43", Type: ticket.RelChild, TargetProvider: "jira"},
	}
	if len(got.Relations) != len(wantRelations) {
		t.Fatalf("relations = %+v", got.Relations)
	}
	for i, want := range wantRelations {
		if got.Relations[i] != want {
			t.Fatalf("relation[%d] = %+v, want %+v", i, got.Relations[i], want)
		}
	}
	if got.RawData == nil {
		t.Fatal("raw payload not retained")
	}
}

func TestParseWebhookPrefersParentField(t *testing.T) {
	payload := []byte(`{"issue": {"key": "WFM-9", "fields": {
		"summary": "x",
		"status": {"name": "To Do"},
		"issuetype": {"name": "Task"},
		"parent": {"key": "WFM-1"},
		"customfield_10014": "EPIC-9"
	}}}`)
	p := testProvider(t)
	got, err := p.ParseWebhook(payload)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if got.ParentID != "WFM-1" {
		t.Fatalf("parent field should win over the epic link, got %q", got.ParentID)
	}
}

func TestParseWebhookDefaults(t *testing.T) {
	payload := []byte(`{"issue": {"key": "WFM-7", "fields": {
		"summary": "mystery",
		"status": {"name": "Weird Custom State"},
		"issuetype": {"name": "Initiative"}
	}}}`)
	p := testProvider(t)
	got, err := p.ParseWebhook(payload)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if got.Status != ticket.StatusTodo {
		t.Fatalf("unknown status should default to todo, got %s", got.Status)
	}
	if got.IssueType != ticket.TypeTask {
		t.Fatalf("unknown type should default to task, got %s", got.IssueType)
	}
	if got.Priority != 3 {
		t.Fatalf("missing priority should default to 3, got %d", got.Priority)
	}
}

func TestParseWebhookRichTextDescription(t *testing.T) {
	payload := []byte(`{"issue": {"key": "WFM-8", "fields": {
		"summary": "s",
		"status": {"name": "To Do"},
		"issuetype": {"name": "Task"},
		"description": {
			"type": "doc",
			"content": [
				{"type": "paragraph", "content": [{"type": "text", "text": "first"}]},
				{"type": "paragraph", "content": [{"type": "text", "text": "second"}]}
			]
		}
	}}}`)
	p := testProvider(t)
	got, err := p.ParseWebhook(payload)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if got.Description != "first\nsecond" {
		t.Fatalf("description = %q", got.Description)
	}
}

func TestParseWebhookNoIssue(t *testing.T) {
	p := testProvider(t)
	if _, err := p.ParseWebhook([]byte(`{"webhookEvent": "jira:version_released"}`)); err == nil {
		t.Fatal("expected error for payload without issue")
	}
}

func TestGetIssueNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := testProvider(t)
	p.apiBase = srv.URL
	got, err := p.GetIssue(context.Background(), "WFM-404")
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if got != nil {
		t.Fatalf("missing issue should be nil, got %+v", got)
	}
}

func TestTransitionToDone(t *testing.T) {
	var executed map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]any{
				"transitions": []map[string]string{
					{"id": "11", "name": "In Progress"},
					{"id": "31", "name": "Done"},
				},
			})
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&executed); err != nil {
			t.Errorf("decode transition body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := testProvider(t)
	p.apiBase = srv.URL
	if err := p.TransitionToDone(context.Background(), "WFM-1"); err != nil {
		t.Fatalf("TransitionToDone: %v", err)
	}
	tr, _ := executed["transition"].(map[string]any)
	if tr["id"] != "31" {
		t.Fatalf("executed transition %v, want 31", executed)
	}
}

func TestTransitionToDoneMissingTransition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"transitions": []map[string]string{{"id": "11", "name": "In Progress"}},
		})
	}))
	defer srv.Close()

	p := testProvider(t)
	p.apiBase = srv.URL
	err := p.TransitionToDone(context.Background(), "WFM-1")
	var cfgErr *provider.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}

func TestSprintIssuesFailsSoft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := testProvider(t)
	p.agileBase = srv.URL
	got, err := p.SprintIssues(context.Background(), "4")
	if err != nil {
		t.Fatalf("SprintIssues: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty slice on fetch failure, got %v", got)
	}
}

func TestActiveSprint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != "active" {
			t.Errorf("state filter = %q", r.URL.Query().Get("state"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"values": []map[string]any{
				{"id": 4, "name": "Sprint 4", "startDate": "2026-03-01T00:00:00.000Z", "endDate": "2026-03-14T00:00:00.000Z"},
			},
		})
	}))
	defer srv.Close()

	p := testProvider(t)
	p.agileBase = srv.URL
	got, err := p.ActiveSprint(context.Background())
	if err != nil {
		t.Fatalf("ActiveSprint: %v", err)
	}
	if got == nil || got.ID != "4" || got.Name != "Sprint 4" {
		t.Fatalf("sprint = %+v", got)
	}
	if got.Progress != -1 {
		t.Fatalf("progress should be unknown (-1), got %v", got.Progress)
	}
}

var _ provider.IssueProvider = (*Provider)(nil)

package linear

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"bloompath/internal/provider"
	"bloompath/internal/ticket"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	return New(Config{APIKey: "lin_api_test", TeamID: "team-1"}, zap.NewNop())
}

func TestParseWebhookIssueEvent(t *testing.T) {
	payload := []byte(`{
		"action": "update",
		"type": "Issue",
		"data": {
			"id": "uuid-1",
			"identifier": "ENG-42",
			"title": "Prune dead branches",
			"description": "weekly",
			"priority": 1,
			"state": {"name": "In Progress", "type": "started"},
			"assignee": {"id": "user-1", "name": "Bob", "avatarUrl": "https://img/bob.png"},
			"labels": {"nodes": [{"name": "Bug"}, {"name": "backend"}]},
			"parent": {"identifier": "ENG-40"},
			"project": {"id": "proj-1", "name": "Garden"},
			"cycle": {"id": "cycle-1", "number": 7, "name": ""},
			"createdAt": "2026-03-01T09:00:00.000Z",
			"updatedAt": "2026-03-02T10:30:00.000Z"
		}
	}`)

	p := testProvider(t)
	got, err := p.ParseWebhook(payload)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if got.ID != "ENG-42" || got.Provider != "linear" {
		t.Fatalf("identity: %q / %q", got.ID, got.Provider)
	}
	if got.Status != ticket.StatusInProgress {
		t.Fatalf("status = %s", got.Status)
	}
	if got.IssueType != ticket.TypeBug {
		t.Fatalf("Bug label should map to bug type, got %s", got.IssueType)
	}
	if got.Priority != 5 {
		t.Fatalf("linear urgent (1) should map to 5, got %d", got.Priority)
	}
	if got.ParentID != "ENG-40" {
		t.Fatalf("parent = %q", got.ParentID)
	}
	if got.ContainingProjectID != "proj-1" {
		t.Fatalf("project containment = %q", got.ContainingProjectID)
	}
	if got.SprintID != "cycle-1" || got.SprintName != "Cycle 7" {
		t.Fatalf("cycle = %q/%q", got.SprintID, got.SprintName)
	}
	if got.AssigneeAvatar != "https://img/bob.png" {
		t.Fatalf("avatar = %q", got.AssigneeAvatar)
	}
}

func TestParseWebhookNestedIssue(t *testing.T) {
	payload := []byte(`{
		"action": "create",
		"type": "Comment",
		"data": {
			"id": "comment-1",
			"body": "looks good",
			"issue": {"id": "uuid-2", "identifier": "ENG-9", "title": "t"}
		}
	}`)
	p := testProvider(t)
	got, err := p.ParseWebhook(payload)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if got.ID != "ENG-9" {
		t.Fatalf("should unwrap data.issue, got %q", got.ID)
	}
}

func TestParseWebhookDefaults(t *testing.T) {
	payload := []byte(`{"data": {"identifier": "ENG-1", "title": "bare", "priority": 0}}`)
	p := testProvider(t)
	got, err := p.ParseWebhook(payload)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if got.Status != ticket.StatusTodo {
		t.Fatalf("missing state should default to todo, got %s", got.Status)
	}
	if got.IssueType != ticket.TypeFeature {
		t.Fatalf("unlabeled issue should default to feature, got %s", got.IssueType)
	}
	if got.Priority != 3 {
		t.Fatalf("no-priority (0) should map to 3, got %d", got.Priority)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"action":"update"}`)

	p := New(Config{APIKey: "k", WebhookSecret: "shh"}, zap.NewNop())
	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(body)
	good := hex.EncodeToString(mac.Sum(nil))

	if !p.VerifyWebhookSignature(body, good) {
		t.Fatal("valid signature rejected")
	}
	if p.VerifyWebhookSignature(body, "deadbeef") {
		t.Fatal("invalid signature accepted")
	}

	open := New(Config{APIKey: "k"}, zap.NewNop())
	if !open.VerifyWebhookSignature(body, "") {
		t.Fatal("should be permissive without a configured secret")
	}
}

func TestGetIssueNull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"issue": nil}})
	}))
	defer srv.Close()

	p := testProvider(t)
	p.endpoint = srv.URL
	got, err := p.GetIssue(context.Background(), "ENG-404")
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if got != nil {
		t.Fatalf("null issue should be nil, got %+v", got)
	}
}

func TestTransitionToDone(t *testing.T) {
	var mutationVars map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if strings.Contains(req.Query, "issueUpdate") {
			mutationVars = req.Variables
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"issueUpdate": map[string]any{"success": true}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"issue": map[string]any{
				"id": "uuid-1",
				"team": map[string]any{
					"id": "team-1",
					"states": map[string]any{"nodes": []map[string]any{
						{"id": "st-1", "name": "In Progress", "type": "started"},
						{"id": "st-2", "name": "Done", "type": "completed"},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	p := testProvider(t)
	p.endpoint = srv.URL
	if err := p.TransitionToDone(context.Background(), "ENG-42"); err != nil {
		t.Fatalf("TransitionToDone: %v", err)
	}
	if mutationVars["id"] != "uuid-1" || mutationVars["stateId"] != "st-2" {
		t.Fatalf("mutation vars = %v", mutationVars)
	}
}

func TestTransitionToDoneNoCompletedState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"issue": map[string]any{
				"id": "uuid-1",
				"team": map[string]any{
					"id": "team-1",
					"states": map[string]any{"nodes": []map[string]any{
						{"id": "st-1", "name": "In Progress", "type": "started"},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	p := testProvider(t)
	p.endpoint = srv.URL
	err := p.TransitionToDone(context.Background(), "ENG-42")
	if _, ok := err.(*provider.ConfigurationError); !ok {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}

func TestDependencies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"issue": map[string]any{
				"relations": map[string]any{"nodes": []map[string]any{
					{"type": "blocks", "relatedIssue": map[string]any{"identifier": "ENG-2"}},
					{"type": "related", "relatedIssue": map[string]any{"identifier": "ENG-3"}},
				}},
				"inverseRelations": map[string]any{"nodes": []map[string]any{
					{"type": "blocks", "issue": map[string]any{"identifier": "ENG-4"}},
				}},
			}},
		})
	}))
	defer srv.Close()

	p := testProvider(t)
	p.endpoint = srv.URL
	deps, err := p.Dependencies(context.Background(), "ENG-1")
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if len(deps.Blocks) != 1 || deps.Blocks[0] != "ENG-2" {
		t.Fatalf("blocks = %v", deps.Blocks)
	}
	if len(deps.BlockedBy) != 1 || deps.BlockedBy[0] != "ENG-4" {
		t.Fatalf("blocked_by = %v", deps.BlockedBy)
	}
	if len(deps.RelatesTo) != 1 || deps.RelatesTo[0] != "ENG-3" {
		t.Fatalf("relates_to = %v", deps.RelatesTo)
	}
}

func TestSprintIssuesFailsSoft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := testProvider(t)
	p.endpoint = srv.URL
	got, err := p.SprintIssues(context.Background(), "cycle-1")
	if err != nil {
		t.Fatalf("SprintIssues: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty slice on fetch failure, got %v", got)
	}
}

var _ provider.IssueProvider = (*Provider)(nil)

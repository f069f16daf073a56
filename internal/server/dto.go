package server

import (
	"bloompath/internal/dream"
	"bloompath/internal/events"
	"bloompath/internal/provider"
	"bloompath/internal/ticket"
)

type HealthResponse struct {
	Status     string          `json:"status" example:"ok"`
	Providers  map[string]bool `json:"providers"`
	QueueDepth int             `json:"queue_depth"`
}

// IssueResponse is the unified ticket as served over the API.
type IssueResponse struct {
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

func issueResponse(t ticket.UnifiedTicket) IssueResponse {
	return IssueResponse{
		ID:         t.ID,
		Provider:   t.Provider,
		Title:      t.Title,
		Status:     string(t.Status),
		IssueType:  string(t.IssueType),
		Priority:   t.Priority,
		Assignee:   t.AssigneeName,
		ParentID:   t.EpicContext(),
		SprintName: t.SprintName,
		Labels:     t.Labels,
		Blocked:    t.IsBlocked(),
	}
}

type CompleteTaskRequest struct {
	IssueID  string `json:"issue_id" example:"PROJ-123"`
	Provider string `json:"provider,omitempty" example:"jira"`
}

type CompleteTaskResponse struct {
	Status  string `json:"status" example:"completed"`
	Issue   string `json:"issue"`
	Message string `json:"message,omitempty"`
}

type DependenciesResponse struct {
	Issue        string                `json:"issue"`
	Dependencies provider.Dependencies `json:"dependencies"`
}

type TeamMember struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	IssueCount int    `json:"issue_count"`
}

type TeamMembersResponse struct {
	Members []TeamMember `json:"members"`
}

// DreamRequest selects a scenario and optionally overrides its parameters.
// Absent parameters fall back to configured, then built-in, defaults.
type DreamRequest struct {
	Scenario string           `json:"scenario" example:"resource_stress"`
	Provider string           `json:"provider,omitempty"`
	Params   DreamParamsInput `json:"params,omitempty"`
}

type DreamParamsInput struct {
	RemoveCount      *int    `json:"remove_count,omitempty"`
	AdditionalIssues *int    `json:"additional_issues,omitempty"`
	Priority         *int    `json:"priority,omitempty"`
	TargetEpic       *string `json:"target_epic,omitempty"`
	ShiftPercentage  *int    `json:"shift_percentage,omitempty"`
}

func (r DreamRequest) overrides() dream.Overrides {
	return dream.Overrides{
		RemoveCount:      r.Params.RemoveCount,
		AdditionalIssues: r.Params.AdditionalIssues,
		Priority:         r.Params.Priority,
		TargetEpic:       r.Params.TargetEpic,
		ShiftPercentage:  r.Params.ShiftPercentage,
	}
}

type DreamListResponse struct {
	Dreams []dream.Metadata `json:"dreams"`
}

type EventListResponse struct {
	Events []events.Record `json:"events"`
}

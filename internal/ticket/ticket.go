// Package ticket defines the unified issue model shared by all provider
// adapters. It is the normalization target for Jira and Linear payloads:
// one consistent shape regardless of which tool the data came from.
package ticket

import "time"

// Status is the unified issue status across providers.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// IssueType is the unified issue classification across providers.
type IssueType string

const (
	TypeEpic    IssueType = "epic"
	TypeFeature IssueType = "feature"
	TypeBug     IssueType = "bug"
	TypeTask    IssueType = "task"
	TypeChore   IssueType = "chore"
)

// RelationType describes a directed edge between two tickets.
type RelationType string

const (
	RelBlocks    RelationType = "blocks"
	RelBlockedBy RelationType = "blocked_by"
	RelParent    RelationType = "parent"
	RelChild     RelationType = "child"
	RelRelatesTo RelationType = "relates_to"
	RelDuplicate RelationType = "duplicates"
)

// Relation is a directed edge from the owning ticket to TargetID.
type Relation struct {
	TargetID       string       `json:"target_id"`
	Type           RelationType `json:"type"`
	TargetProvider string       `json:"target_provider,omitempty"`
}

// Attachment is a downloadable file linked to a ticket.
type Attachment struct {
	ID    string `json:"id,omitempty"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// UnifiedTicket is the universal representation of a project management
// issue. A ticket is identified by (ID, Provider) together; IDs are only
// unique within a provider.
//
// ParentID and ContainingProjectID are kept distinct: the former is a true
// parent-issue or epic link, the latter is Linear's containing project.
// Downstream code that only needs "some hierarchical context" should call
// EpicContext.
type UnifiedTicket struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Status    Status    `json:"status"`
	IssueType IssueType `json:"issue_type"`
	Priority  int       `json:"priority"` // 1 (lowest) to 5 (highest)

	AssigneeID     string `json:"assignee_id,omitempty"`
	AssigneeName   string `json:"assignee_name,omitempty"`
	AssigneeAvatar string `json:"assignee_avatar,omitempty"`

	ParentID            string `json:"parent_id,omitempty"`
	ContainingProjectID string `json:"containing_project_id,omitempty"`

	Relations []Relation `json:"relations,omitempty"`

	Labels      []string     `json:"labels,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	SprintID   string `json:"sprint_id,omitempty"`
	SprintName string `json:"sprint_name,omitempty"`

	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// RawData is the provider payload the ticket was extracted from,
	// carried for provider-specific reuse. Never inspected by core logic.
	RawData map[string]any `json:"-"`
}

// BlockedBy returns the ids of tickets that block this one.
func (t UnifiedTicket) BlockedBy() []string {
	return t.relationTargets(RelBlockedBy)
}

// Blocking returns the ids of tickets this one blocks.
func (t UnifiedTicket) Blocking() []string {
	return t.relationTargets(RelBlocks)
}

// IsBlocked reports whether the ticket is blocked, either through an
// explicit blocked status or through at least one blocked_by relation.
func (t UnifiedTicket) IsBlocked() bool {
	return t.Status == StatusBlocked || len(t.BlockedBy()) > 0
}

// EpicContext returns the best-effort hierarchical context for the ticket:
// the parent issue when known, otherwise the containing project.
func (t UnifiedTicket) EpicContext() string {
	if t.ParentID != "" {
		return t.ParentID
	}
	return t.ContainingProjectID
}

func (t UnifiedTicket) relationTargets(rt RelationType) []string {
	var ids []string
	for _, r := range t.Relations {
		if r.Type == rt {
			ids = append(ids, r.TargetID)
		}
	}
	return ids
}

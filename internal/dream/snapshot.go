package dream

import (
	"context"
	"time"

	"bloompath/internal/provider"
	"bloompath/internal/ticket"
)

// SnapshotIssue is the reduced issue view scenarios operate on.
type SnapshotIssue struct {
	ID       string        `json:"id"`
	Status   ticket.Status `json:"status"`
	Assignee string        `json:"assignee,omitempty"`
	Priority int           `json:"priority"`
	Epic     string        `json:"epic,omitempty"`
}

// SprintSnapshot is the frozen sprint state a dream simulates against.
// Velocity is issues completed per sprint.
type SprintSnapshot struct {
	Issues        []SnapshotIssue `json:"issues"`
	TeamMembers   []string        `json:"team_members"`
	Velocity      float64         `json:"velocity"`
	DaysRemaining int             `json:"days_remaining"`
}

// Clone deep-copies the snapshot so simulations can never touch the
// caller's data.
func (s SprintSnapshot) Clone() SprintSnapshot {
	out := s
	out.Issues = make([]SnapshotIssue, len(s.Issues))
	copy(out.Issues, s.Issues)
	out.TeamMembers = make([]string, len(s.TeamMembers))
	copy(out.TeamMembers, s.TeamMembers)
	return out
}

func (s SprintSnapshot) openCount() int {
	n := 0
	for _, issue := range s.Issues {
		if issue.Status != ticket.StatusDone {
			n++
		}
	}
	return n
}

// BuildSnapshot freezes the provider's active sprint into a snapshot.
// Velocity is the completed-issue count, floored at 1.0 so ratio math
// stays defined for fresh sprints. No active sprint yields an empty
// snapshot, not an error.
func BuildSnapshot(ctx context.Context, p provider.IssueProvider, now func() time.Time) (SprintSnapshot, error) {
	if now == nil {
		now = time.Now
	}
	snap := SprintSnapshot{
		Issues:        []SnapshotIssue{},
		TeamMembers:   []string{},
		DaysRemaining: 5,
		Velocity:      1.0,
	}
	sprint, err := p.ActiveSprint(ctx)
	if err != nil {
		return snap, err
	}
	if sprint == nil {
		return snap, nil
	}
	issues, err := p.SprintIssues(ctx, sprint.ID)
	if err != nil {
		return snap, err
	}

	done := 0
	seen := map[string]bool{}
	for _, t := range issues {
		snap.Issues = append(snap.Issues, SnapshotIssue{
			ID:       t.ID,
			Status:   t.Status,
			Assignee: t.AssigneeName,
			Priority: t.Priority,
			Epic:     t.EpicContext(),
		})
		if t.Status == ticket.StatusDone {
			done++
		}
		if t.AssigneeName != "" && !seen[t.AssigneeName] {
			seen[t.AssigneeName] = true
			snap.TeamMembers = append(snap.TeamMembers, t.AssigneeName)
		}
	}
	if done > 0 {
		snap.Velocity = float64(done)
	}
	if sprint.EndsAt != "" {
		if end, err := time.Parse(time.RFC3339, sprint.EndsAt); err == nil {
			days := int(end.Sub(now()).Hours() / 24)
			if days < 0 {
				days = 0
			}
			snap.DaysRemaining = days
		}
	}
	return snap, nil
}

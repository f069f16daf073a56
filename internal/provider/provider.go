// Package provider defines the capability contract implemented once per
// project management tool. Adapters normalize provider-native payloads into
// the unified ticket model and expose a small read/write API surface.
package provider

import (
	"context"
	"fmt"

	"bloompath/internal/ticket"
)

// Sprint is a normalized sprint (Jira) or cycle (Linear) descriptor.
// Progress is in [0,1] when the provider reports it; -1 when unknown.
type Sprint struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	StartsAt string  `json:"starts_at,omitempty"`
	EndsAt   string  `json:"ends_at,omitempty"`
	Progress float64 `json:"progress"`
}

// Dependencies groups the dependency edges of one issue. All three slices
// are always non-nil, even when empty.
type Dependencies struct {
	Blocks    []string `json:"blocks"`
	BlockedBy []string `json:"blocked_by"`
	RelatesTo []string `json:"relates_to"`
}

// IssueProvider is the capability set every adapter implements. Adding a
// third tracker means implementing this interface, not branching on
// provider names through the codebase.
//
// Read operations fail soft: a missing issue or sprint is reported as an
// absent result, not an error, and sprint issue listings degrade to an
// empty slice on substantive fetch failure since that feed is advisory.
type IssueProvider interface {
	// Name returns the provider identifier ("jira", "linear").
	Name() string

	// ParseWebhook normalizes a raw webhook payload into a UnifiedTicket.
	// It performs no I/O and never fails on absent optional fields.
	ParseWebhook(payload []byte) (ticket.UnifiedTicket, error)

	// GetIssue fetches and normalizes one issue. A nil ticket with a nil
	// error means the remote reported not-found.
	GetIssue(ctx context.Context, issueID string) (*ticket.UnifiedTicket, error)

	// ActiveSprint returns the first active sprint/cycle, or nil when none
	// is active.
	ActiveSprint(ctx context.Context) (*Sprint, error)

	// SprintIssues returns all issues in the sprint/cycle, normalized.
	// Empty slice (not error) when the sprint is empty or the fetch fails.
	SprintIssues(ctx context.Context, sprintID string) ([]ticket.UnifiedTicket, error)

	// TransitionToDone moves the issue to its done/completed workflow
	// state. Returns *ConfigurationError when no such transition exists and
	// *TransportError on network/API failure.
	TransitionToDone(ctx context.Context, issueID string) error

	// Dependencies derives the dependency edges of one issue from its
	// relations.
	Dependencies(ctx context.Context, issueID string) (Dependencies, error)

	// VerifyWebhookSignature checks the request signature over the raw
	// body. Permissive when no shared secret is configured.
	VerifyWebhookSignature(payload []byte, signature string) bool
}

// ConfigurationError marks deterministic, operator-fixable failures:
// missing credentials, an unconfigured board or team id, or a workflow with
// no matching transition. Never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return e.Reason }

// TransportError wraps network failures, timeouts and non-2xx API
// responses. Retryable at the call site with bounded backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// DependenciesFrom derives the three dependency buckets from a ticket's
// relations. Shared by adapters so both providers bucket identically.
func DependenciesFrom(t *ticket.UnifiedTicket) Dependencies {
	deps := Dependencies{Blocks: []string{}, BlockedBy: []string{}, RelatesTo: []string{}}
	if t == nil {
		return deps
	}
	for _, r := range t.Relations {
		switch r.Type {
		case ticket.RelBlocks:
			deps.Blocks = append(deps.Blocks, r.TargetID)
		case ticket.RelBlockedBy:
			deps.BlockedBy = append(deps.BlockedBy, r.TargetID)
		case ticket.RelRelatesTo:
			deps.RelatesTo = append(deps.RelatesTo, r.TargetID)
		}
	}
	return deps
}

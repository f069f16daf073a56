// Package classify turns raw webhook payloads into one of a closed set of
// event types that drive the downstream visualization triggers.
package classify

import (
	"encoding/json"
	"strings"
)

// EventType is the closed classification vocabulary. Consumers switch over
// it exhaustively; anything a provider reports that fits no other bucket is
// EventUpdated.
type EventType string

const (
	EventCreated   EventType = "created"
	EventCompleted EventType = "completed"
	EventReopened  EventType = "reopened"
	EventBlocked   EventType = "blocked"
	EventUnblocked EventType = "unblocked"
	EventUpdated   EventType = "updated"
	// EventOther marks payloads about something that is not an issue
	// (comments, attachments). They are logged but trigger nothing.
	EventOther EventType = "other"
)

// Event is a classified webhook. FromStatus/ToStatus are populated for
// status transitions, Action for Linear payloads.
type Event struct {
	Type       EventType
	FromStatus string
	ToStatus   string
	Action     string
}

// DefaultBlockerStatuses are the Jira status names treated as a blocked
// state when classifying transitions. Matched case-insensitively.
var DefaultBlockerStatuses = []string{"Blocked", "Impediment", "On Hold", "Waiting"}

// Classifier applies provider-specific decision tables. The blocker status
// set is configurable for Jira instances with custom workflow names.
type Classifier struct {
	blockers map[string]struct{}
}

func New(blockerStatuses []string) *Classifier {
	if len(blockerStatuses) == 0 {
		blockerStatuses = DefaultBlockerStatuses
	}
	blockers := make(map[string]struct{}, len(blockerStatuses))
	for _, s := range blockerStatuses {
		blockers[strings.ToLower(s)] = struct{}{}
	}
	return &Classifier{blockers: blockers}
}

func (c *Classifier) isBlocker(status string) bool {
	_, ok := c.blockers[strings.ToLower(status)]
	return ok
}

type jiraChangelog struct {
	Changelog struct {
		Items []struct {
			Field      string `json:"field"`
			FromString string `json:"fromString"`
			ToString   string `json:"toString"`
		} `json:"items"`
	} `json:"changelog"`
}

// ClassifyJira walks the changelog in delivery order and classifies on the
// first status transition that matches a rule, in precedence order:
// completion, reopening, entering a blocker status, leaving one. A status
// item matching no rule falls through to the next item; payloads with no
// classifiable transition are plain updates.
func (c *Classifier) ClassifyJira(payload []byte) Event {
	var data jiraChangelog
	if err := json.Unmarshal(payload, &data); err != nil {
		return Event{Type: EventUpdated}
	}
	for _, item := range data.Changelog.Items {
		if item.Field != "status" {
			continue
		}
		ev := Event{FromStatus: item.FromString, ToStatus: item.ToString}
		switch {
		case strings.EqualFold(item.ToString, "done"):
			ev.Type = EventCompleted
		case strings.EqualFold(item.FromString, "done"):
			ev.Type = EventReopened
		case c.isBlocker(item.ToString):
			ev.Type = EventBlocked
		case c.isBlocker(item.FromString):
			ev.Type = EventUnblocked
		default:
			continue
		}
		return ev
	}
	return Event{Type: EventUpdated}
}

type linearPayload struct {
	Action      string                     `json:"action"`
	Type        string                     `json:"type"`
	UpdatedFrom map[string]json.RawMessage `json:"updatedFrom"`
	Data        struct {
		State struct {
			Type string `json:"type"`
		} `json:"state"`
		BlockedBy struct {
			Nodes []json.RawMessage `json:"nodes"`
		} `json:"blockedBy"`
	} `json:"data"`
}

// ClassifyLinear classifies by the updatedFrom change set. Canceled states
// are treated as completed, matching how both wilt in the visualization.
func (c *Classifier) ClassifyLinear(payload []byte) Event {
	var data linearPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return Event{Type: EventUpdated}
	}
	if data.Type != "Issue" {
		return Event{Type: EventOther, Action: data.Action}
	}
	ev := Event{Action: data.Action}

	if _, changed := data.UpdatedFrom["stateId"]; changed {
		stateType := strings.ToLower(data.Data.State.Type)
		if stateType == "completed" || stateType == "canceled" {
			ev.Type = EventCompleted
			return ev
		}
	}

	_, blockedByChanged := data.UpdatedFrom["blockedBy"]
	_, blockingChanged := data.UpdatedFrom["blocking"]
	if blockedByChanged || blockingChanged {
		if len(data.Data.BlockedBy.Nodes) > 0 {
			ev.Type = EventBlocked
		} else {
			ev.Type = EventUnblocked
		}
		return ev
	}

	if data.Action == "create" {
		ev.Type = EventCreated
		return ev
	}
	ev.Type = EventUpdated
	return ev
}

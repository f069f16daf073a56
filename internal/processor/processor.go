// Package processor is the provider-agnostic fan-out point: one classified
// ticket event in, visualization triggers out. It sits on the background
// queue with no synchronous caller, so it catches everything and always
// returns a structured result.
package processor

import (
	"context"

	"go.uber.org/zap"

	"bloompath/internal/classify"
	"bloompath/internal/dream"
	"bloompath/internal/events"
	"bloompath/internal/garden"
	"bloompath/internal/provider"
	"bloompath/internal/queue"
	"bloompath/internal/ticket"
)

// Issues carrying this label trigger a what-if simulation when created or
// updated: unplanned work appearing mid-sprint is scope creep by
// definition.
const dreamLabel = "Dream"

var growthTypeMap = map[ticket.IssueType]string{
	ticket.TypeEpic:    "trunk",
	ticket.TypeFeature: "branch",
	ticket.TypeBug:     "flower",
	ticket.TypeTask:    "leaf",
	ticket.TypeChore:   "bud",
}

var priorityModifierMap = map[int]float64{
	5: 2.0,
	4: 1.5,
	3: 1.0,
	2: 0.75,
	1: 0.5,
}

// Result is the structured outcome of processing one event.
type Result struct {
	Status     string `json:"status"`
	Action     string `json:"action,omitempty"`
	Issue      string `json:"issue"`
	GrowthType string `json:"growth_type,omitempty"`
	DreamID    string `json:"dream_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SprintHealth is the derived environmental state of the active sprint.
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

// Processor turns classified events into garden triggers and dream runs.
type Processor struct {
	Garden *garden.Client
	Dreams *dream.Engine
	Log    *events.Writer
	Logger *zap.Logger
}

func New(g *garden.Client, dreams *dream.Engine, log *events.Writer, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{Garden: g, Dreams: dreams, Log: log, Logger: logger}
}

// Process handles one dequeued event to completion. Environmental state is
// updated after every event, successful or not: one ticket's fate does not
// gate garden-wide weather.
func (p *Processor) Process(ctx context.Context, item queue.Item, prov provider.IssueProvider) Result {
	t := item.Ticket
	eventType := item.Event.Type
	p.Logger.Info("processing ticket event",
		zap.String("issue_id", t.ID),
		zap.String("provider", t.Provider),
		zap.String("event_type", string(eventType)))

	defer p.updateEnvironment(ctx, prov)

	result := p.dispatch(ctx, t, eventType, prov)
	p.syncVines(ctx, t, prov)

	if p.Log != nil {
		if err := p.Log.Append(ctx, item.DeliveryID, t.Provider, t.ID, string(eventType), result.Status, map[string]any{
			"action":      result.Action,
			"growth_type": result.GrowthType,
			"dream_id":    result.DreamID,
			"error":       result.Error,
		}); err != nil {
			p.Logger.Warn("failed to log event outcome", zap.Error(err))
		}
	}
	return result
}

func (p *Processor) dispatch(ctx context.Context, t ticket.UnifiedTicket, eventType classify.EventType, prov provider.IssueProvider) Result {
	growthType := growthTypeMap[t.IssueType]
	if growthType == "" {
		growthType = "leaf"
	}
	modifier, ok := priorityModifierMap[t.Priority]
	if !ok {
		modifier = 1.0
	}

	switch eventType {
	case classify.EventCompleted:
		err := p.Garden.Grow(ctx, t.ID, growthType, modifier, garden.PriorityColor(t.Priority), t.EpicContext())
		if err != nil {
			return p.gardenError(t.ID, err)
		}
		return Result{Status: "growth_triggered", Issue: t.ID, GrowthType: growthType}

	case classify.EventReopened:
		if err := p.Garden.Shrink(ctx, t.ID); err != nil {
			return p.gardenError(t.ID, err)
		}
		return Result{Status: "shrink_triggered", Issue: t.ID}

	case classify.EventBlocked:
		if err := p.Garden.AddThorns(ctx, t.ID, t.EpicContext()); err != nil {
			return p.gardenError(t.ID, err)
		}
		return Result{Status: "thorns_triggered", Issue: t.ID}

	case classify.EventUnblocked:
		if err := p.Garden.RemoveThorns(ctx, t.ID); err != nil {
			return p.gardenError(t.ID, err)
		}
		return Result{Status: "thorns_removed", Issue: t.ID}

	case classify.EventCreated:
		return p.maybeDream(ctx, t, prov)

	case classify.EventUpdated:
		if growthType == "branch" || growthType == "trunk" {
			return p.maybeDream(ctx, t, prov)
		}
		return Result{Status: "received", Issue: t.ID}

	case classify.EventOther:
		return Result{Status: "received", Action: "logged_only", Issue: t.ID}

	default:
		return Result{Status: "received", Issue: t.ID}
	}
}

// maybeDream runs the scope-creep simulation for labeled issues; everything
// else is acknowledged and passed through.
func (p *Processor) maybeDream(ctx context.Context, t ticket.UnifiedTicket, prov provider.IssueProvider) Result {
	if p.Dreams == nil || !hasLabel(t, dreamLabel) {
		return Result{Status: "received", Action: "processed", Issue: t.ID}
	}
	snap, err := dream.BuildSnapshot(ctx, prov, nil)
	if err != nil {
		p.Logger.Error("dream snapshot failed", zap.String("issue_id", t.ID), zap.Error(err))
		return Result{Status: "dream_error", Issue: t.ID, Error: err.Error()}
	}
	result, err := p.Dreams.Dream(ctx, dream.ScenarioScopeCreep, snap, dream.Overrides{})
	if err != nil {
		p.Logger.Error("dream run failed", zap.String("issue_id", t.ID), zap.Error(err))
		return Result{Status: "dream_error", Issue: t.ID, Error: err.Error()}
	}
	p.visualizeDream(ctx, result)
	return Result{Status: "dream_triggered", Issue: t.ID, DreamID: result.DreamID}
}

// visualizeDream pushes the ghost overlay and per-issue ghost effects,
// best effort per element.
func (p *Processor) visualizeDream(ctx context.Context, result dream.Result) {
	if err := p.Garden.ClearGhosts(ctx, result.DreamID); err != nil {
		p.Logger.Warn("clear ghosts failed", zap.String("dream_id", result.DreamID), zap.Error(err))
	}
	if err := p.Garden.GhostOverlay(ctx, result.DreamID, result.GhostIntensity); err != nil {
		p.Logger.Warn("ghost overlay failed", zap.String("dream_id", result.DreamID), zap.Error(err))
		return
	}
	for _, issueID := range result.AffectedIssues {
		if err := p.Garden.GhostGrowth(ctx, result.DreamID, issueID, "leaf"); err != nil {
			p.Logger.Warn("ghost growth failed",
				zap.String("dream_id", result.DreamID),
				zap.String("issue_id", issueID),
				zap.Error(err))
		}
	}
}

func (p *Processor) gardenError(issueID string, err error) Result {
	p.Logger.Error("garden trigger failed", zap.String("issue_id", issueID), zap.Error(err))
	return Result{Status: "garden_error", Issue: issueID, Error: err.Error()}
}

// syncVines redraws the ticket's dependency vines after processing.
func (p *Processor) syncVines(ctx context.Context, t ticket.UnifiedTicket, prov provider.IssueProvider) {
	deps := provider.DependenciesFrom(&t)
	edges := []garden.VineEdge{}
	for _, id := range deps.BlockedBy {
		edges = append(edges, garden.VineEdge{FromID: t.ID, ToID: id, RelationType: "blocked_by"})
	}
	for _, id := range deps.Blocks {
		edges = append(edges, garden.VineEdge{FromID: t.ID, ToID: id, RelationType: "blocks"})
	}
	for _, id := range deps.RelatesTo {
		edges = append(edges, garden.VineEdge{FromID: t.ID, ToID: id, RelationType: "relates_to"})
	}
	if len(edges) == 0 {
		return
	}
	if err := p.Garden.SyncVines(ctx, edges); err != nil {
		p.Logger.Warn("vine sync failed", zap.String("issue_id", t.ID), zap.Error(err))
	}
}

// Health derives sprint weather and progress from the provider's active
// sprint. No active sprint yields a calm default.
func (p *Processor) Health(ctx context.Context, prov provider.IssueProvider) (SprintHealth, error) {
	health := SprintHealth{Weather: "sunny"}
	sprint, err := prov.ActiveSprint(ctx)
	if err != nil {
		return health, err
	}
	if sprint == nil {
		return health, nil
	}
	health.SprintID = sprint.ID
	health.SprintName = sprint.Name

	issues, err := prov.SprintIssues(ctx, sprint.ID)
	if err != nil {
		return health, err
	}
	health.Total = len(issues)
	for _, t := range issues {
		if t.Status == ticket.StatusDone {
			health.Done++
		}
		if t.IsBlocked() {
			health.Blocked++
		}
	}
	if health.Total > 0 {
		health.DoneRatio = float64(health.Done) / float64(health.Total)
		health.BlockedRatio = float64(health.Blocked) / float64(health.Total)
	}
	switch {
	case health.Total == 0:
		health.Weather = "sunny"
	case health.BlockedRatio > 0.2 || health.DoneRatio < 0.3:
		health.Weather = "storm"
	case health.BlockedRatio > 0.1 || health.DoneRatio < 0.6:
		health.Weather = "cloudy"
	default:
		health.Weather = "sunny"
	}
	health.Progress = health.DoneRatio
	if sprint.Progress >= 0 {
		health.Progress = sprint.Progress
	}
	return health, nil
}

// updateEnvironment pushes weather and time-of-day after every event.
func (p *Processor) updateEnvironment(ctx context.Context, prov provider.IssueProvider) {
	health, err := p.Health(ctx, prov)
	if err != nil {
		p.Logger.Warn("environmental update failed", zap.Error(err))
		return
	}
	if health.SprintID == "" {
		return
	}
	if err := p.Garden.SetWeather(ctx, health.Weather); err != nil {
		p.Logger.Warn("set weather failed", zap.Error(err))
	}
	if err := p.Garden.SetTime(ctx, health.Progress); err != nil {
		p.Logger.Warn("set time failed", zap.Error(err))
	}
	p.Logger.Info("environment updated",
		zap.String("weather", health.Weather),
		zap.Float64("progress", health.Progress))
}

func hasLabel(t ticket.UnifiedTicket, label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

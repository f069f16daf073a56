package dream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bloompath/internal/config"
)

// Engine runs what-if simulations over a frozen sprint snapshot. It never
// mutates real project state; every scenario works on its own deep copy
// and writes only to the dream store.
type Engine struct {
	Defaults   config.DreamingConfig
	Store      *Store
	Forecaster Forecaster
	Logger     *zap.Logger
	Now        func() time.Time
}

func NewEngine(defaults config.DreamingConfig, store *Store, forecaster Forecaster, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Defaults:   defaults,
		Store:      store,
		Forecaster: forecaster,
		Logger:     logger,
		Now:        time.Now,
	}
}

// UnknownScenarioError rejects a scenario name outside the closed set. Its
// message lists the valid names so callers can surface it directly.
type UnknownScenarioError struct {
	Scenario string
}

func (e *UnknownScenarioError) Error() string {
	return fmt.Sprintf("unknown scenario %q: valid scenarios are %s",
		e.Scenario, strings.Join(ValidScenarios(), ", "))
}

func (e *Engine) effectiveParams(overrides Overrides) Params {
	p := Params{
		RemoveCount:      e.Defaults.RemoveCount,
		AdditionalIssues: e.Defaults.AdditionalIssues,
		Priority:         e.Defaults.AdditionalPriority,
		ShiftPercentage:  e.Defaults.ShiftPercentage,
	}
	if p.RemoveCount == 0 {
		p.RemoveCount = 1
	}
	if p.AdditionalIssues == 0 {
		p.AdditionalIssues = 5
	}
	if p.Priority == 0 {
		p.Priority = 3
	}
	if p.ShiftPercentage == 0 {
		p.ShiftPercentage = 30
	}
	if overrides.RemoveCount != nil {
		p.RemoveCount = *overrides.RemoveCount
	}
	if overrides.AdditionalIssues != nil {
		p.AdditionalIssues = *overrides.AdditionalIssues
	}
	if overrides.Priority != nil {
		p.Priority = *overrides.Priority
	}
	if overrides.TargetEpic != nil {
		p.TargetEpic = *overrides.TargetEpic
	}
	if overrides.ShiftPercentage != nil {
		p.ShiftPercentage = *overrides.ShiftPercentage
	}
	// Negative overrides degrade to no-op simulations rather than errors.
	if p.RemoveCount < 0 {
		p.RemoveCount = 0
	}
	if p.AdditionalIssues < 0 {
		p.AdditionalIssues = 0
	}
	if p.ShiftPercentage < 0 {
		p.ShiftPercentage = 0
	}
	return p
}

// Dream runs one simulation: merge params, deep-copy the snapshot,
// simulate, attach a narrative, persist, return. The caller's snapshot is
// never modified.
func (e *Engine) Dream(ctx context.Context, scenario string, snap SprintSnapshot, overrides Overrides) (Result, error) {
	var simulate func(SprintSnapshot, Params, string, int64) Result
	switch scenario {
	case ScenarioResourceStress:
		simulate = simulateResourceStress
	case ScenarioScopeCreep:
		simulate = simulateScopeCreep
	case ScenarioPriorityShift:
		simulate = simulatePriorityShift
	default:
		return Result{}, &UnknownScenarioError{Scenario: scenario}
	}

	params := e.effectiveParams(overrides)
	ts := e.Now().Unix()
	dreamID := fmt.Sprintf("dream_%s_%d", scenario, ts)
	e.Logger.Info("starting dream", zap.String("dream_id", dreamID), zap.String("scenario", scenario))

	result := simulate(snap.Clone(), params, dreamID, ts)

	// The empty-team no-op carries its own message; everything else gets
	// the narrative forecast. The forecast step never fails the dream.
	if result.ImpactSummary == "" {
		result.ImpactSummary = e.forecast(ctx, result, snap)
	}

	if e.Store != nil {
		if err := e.Store.Save(ctx, result); err != nil {
			e.Logger.Error("failed to save dream", zap.String("dream_id", dreamID), zap.Error(err))
		}
	}

	e.Logger.Info("dream complete",
		zap.String("dream_id", dreamID),
		zap.Float64("risk_score", result.RiskScore))
	return result, nil
}

func (e *Engine) forecast(ctx context.Context, result Result, snap SprintSnapshot) string {
	if e.Forecaster == nil {
		return FallbackSummary(result)
	}
	return e.Forecaster.Forecast(ctx, result, snap)
}

package dream

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"bloompath/internal/config"
	"bloompath/internal/ticket"
)

// fixtureSnapshot is a mid-sprint state: 8 issues, 2 done, two epics,
// Alice carrying the most work.
func fixtureSnapshot() SprintSnapshot {
	return SprintSnapshot{
		TeamMembers:   []string{"Alice", "Bob", "Charlie"},
		Velocity:      4.0,
		DaysRemaining: 5,
		Issues: []SnapshotIssue{
			{ID: "WFM-1", Status: ticket.StatusDone, Assignee: "Alice", Priority: 3, Epic: "EPIC-1"},
			{ID: "WFM-2", Status: ticket.StatusDone, Assignee: "Bob", Priority: 3, Epic: "EPIC-1"},
			{ID: "WFM-3", Status: ticket.StatusInProgress, Assignee: "Alice", Priority: 4, Epic: "EPIC-1"},
			{ID: "WFM-4", Status: ticket.StatusInProgress, Assignee: "Alice", Priority: 3, Epic: "EPIC-1"},
			{ID: "WFM-5", Status: ticket.StatusTodo, Assignee: "Alice", Priority: 2, Epic: "EPIC-1"},
			{ID: "WFM-6", Status: ticket.StatusTodo, Assignee: "Bob", Priority: 3, Epic: "EPIC-2"},
			{ID: "WFM-7", Status: ticket.StatusTodo, Assignee: "Bob", Priority: 3, Epic: "EPIC-2"},
			{ID: "WFM-8", Status: ticket.StatusBlocked, Assignee: "Charlie", Priority: 5, Epic: "EPIC-2"},
		},
	}
}

func testEngine() *Engine {
	e := NewEngine(config.DreamingConfig{}, nil, nil, zap.NewNop())
	e.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return e
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func TestDreamDoesNotMutateSnapshot(t *testing.T) {
	e := testEngine()
	snap := fixtureSnapshot()
	before := snap.Clone()

	for _, scenario := range ValidScenarios() {
		if _, err := e.Dream(context.Background(), scenario, snap, Overrides{}); err != nil {
			t.Fatalf("Dream(%s): %v", scenario, err)
		}
	}
	if !reflect.DeepEqual(snap, before) {
		t.Fatalf("snapshot mutated:\nbefore %+v\nafter  %+v", before, snap)
	}
}

func TestResourceStressRemovesHighestWorkloadFirst(t *testing.T) {
	e := testEngine()
	result, err := e.Dream(context.Background(), ScenarioResourceStress, fixtureSnapshot(), Overrides{RemoveCount: intp(1)})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	if result.ProjectedVelocity >= 4.0 {
		t.Fatalf("projected velocity %v should be strictly below 4.0", result.ProjectedVelocity)
	}
	if result.RiskScore <= 0 {
		t.Fatalf("risk = %v, want > 0", result.RiskScore)
	}
	// Alice has the most assigned issues, so her open issues are orphaned.
	want := []string{"WFM-3", "WFM-4", "WFM-5"}
	if !reflect.DeepEqual(result.AffectedIssues, want) {
		t.Fatalf("affected = %v, want %v", result.AffectedIssues, want)
	}
	if result.DreamID != "dream_resource_stress_1700000000" {
		t.Fatalf("dream id = %q", result.DreamID)
	}
}

func TestResourceStressMonotonicity(t *testing.T) {
	e := testEngine()
	snap := fixtureSnapshot()
	prevRisk, prevVelocity := -1.0, 1e9
	for remove := 1; remove <= 3; remove++ {
		result, err := e.Dream(context.Background(), ScenarioResourceStress, snap, Overrides{RemoveCount: intp(remove)})
		if err != nil {
			t.Fatalf("Dream(remove=%d): %v", remove, err)
		}
		if result.RiskScore < prevRisk {
			t.Fatalf("risk dropped from %v to %v when removing more members", prevRisk, result.RiskScore)
		}
		if result.ProjectedVelocity > prevVelocity {
			t.Fatalf("velocity rose from %v to %v when removing more members", prevVelocity, result.ProjectedVelocity)
		}
		prevRisk, prevVelocity = result.RiskScore, result.ProjectedVelocity
	}
}

func TestResourceStressClampsRemoveCount(t *testing.T) {
	e := testEngine()
	result, err := e.Dream(context.Background(), ScenarioResourceStress, fixtureSnapshot(), Overrides{RemoveCount: intp(50)})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	if result.ProjectedVelocity != 0 {
		t.Fatalf("removing the whole team should zero velocity, got %v", result.ProjectedVelocity)
	}
	if result.RiskScore < 0 || result.RiskScore > 1 {
		t.Fatalf("risk out of bounds: %v", result.RiskScore)
	}
}

func TestResourceStressEmptyTeam(t *testing.T) {
	e := testEngine()
	result, err := e.Dream(context.Background(), ScenarioResourceStress, SprintSnapshot{Velocity: 2}, Overrides{})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	if result.RiskScore != 0 {
		t.Fatalf("risk = %v, want 0", result.RiskScore)
	}
	if result.ImpactSummary != "No team members to remove." {
		t.Fatalf("summary = %q", result.ImpactSummary)
	}
}

func TestScopeCreepSyntheticIssues(t *testing.T) {
	e := testEngine()
	result, err := e.Dream(context.Background(), ScenarioScopeCreep, fixtureSnapshot(),
		Overrides{AdditionalIssues: intp(10), Priority: intp(1)})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	if len(result.AffectedIssues) != 10 {
		t.Fatalf("affected count = %d, want 10", len(result.AffectedIssues))
	}
	if result.AffectedIssues[0] != "DREAM-1" || result.AffectedIssues[9] != "DREAM-10" {
		t.Fatalf("synthetic ids = %v", result.AffectedIssues)
	}
	if result.ProjectedVelocity >= result.OriginalVelocity {
		t.Fatalf("overloaded sprint should slow down, got %v >= %v", result.ProjectedVelocity, result.OriginalVelocity)
	}
}

func TestScopeCreepZeroDaysRemaining(t *testing.T) {
	e := testEngine()
	snap := fixtureSnapshot()
	snap.DaysRemaining = 0
	result, err := e.Dream(context.Background(), ScenarioScopeCreep, snap, Overrides{})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	if result.RiskScore < 0 || result.RiskScore > 1 {
		t.Fatalf("risk out of bounds: %v", result.RiskScore)
	}
}

func TestPriorityShiftVelocityUnchanged(t *testing.T) {
	e := testEngine()
	result, err := e.Dream(context.Background(), ScenarioPriorityShift, fixtureSnapshot(),
		Overrides{TargetEpic: strp("EPIC-1"), ShiftPercentage: intp(50)})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	if result.ProjectedVelocity != result.OriginalVelocity {
		t.Fatalf("priority shift redistributes, never depletes: %v != %v",
			result.ProjectedVelocity, result.OriginalVelocity)
	}
	// EPIC-2 has 3 open issues; 50% starves the first floor(3*0.5)=1.
	want := []string{"WFM-6"}
	if !reflect.DeepEqual(result.AffectedIssues, want) {
		t.Fatalf("starved = %v, want %v", result.AffectedIssues, want)
	}
}

func TestPriorityShiftAutoTarget(t *testing.T) {
	e := testEngine()
	// EPIC-1 has 3 open issues vs EPIC-2's 3; first grouped epic wins ties.
	result, err := e.Dream(context.Background(), ScenarioPriorityShift, fixtureSnapshot(),
		Overrides{ShiftPercentage: intp(100)})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	// All of EPIC-2's open issues starve when the shift is total.
	want := []string{"WFM-6", "WFM-7", "WFM-8"}
	if !reflect.DeepEqual(result.AffectedIssues, want) {
		t.Fatalf("starved = %v, want %v", result.AffectedIssues, want)
	}
}

func TestPriorityShiftEmptySnapshot(t *testing.T) {
	e := testEngine()
	result, err := e.Dream(context.Background(), ScenarioPriorityShift, SprintSnapshot{}, Overrides{})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	if len(result.AffectedIssues) != 0 {
		t.Fatalf("affected = %v", result.AffectedIssues)
	}
	if result.RiskScore < 0 || result.RiskScore > 1 {
		t.Fatalf("risk out of bounds: %v", result.RiskScore)
	}
}

func TestRiskScoreBounds(t *testing.T) {
	e := testEngine()
	snaps := []SprintSnapshot{fixtureSnapshot(), {}, {Velocity: 100, DaysRemaining: 1}}
	overrides := []Overrides{
		{},
		{RemoveCount: intp(3)},
		{AdditionalIssues: intp(100), Priority: intp(1)},
		{ShiftPercentage: intp(100)},
	}
	for _, snap := range snaps {
		for _, o := range overrides {
			for _, scenario := range ValidScenarios() {
				result, err := e.Dream(context.Background(), scenario, snap, o)
				if err != nil {
					t.Fatalf("Dream(%s): %v", scenario, err)
				}
				if result.RiskScore < 0 || result.RiskScore > 1 {
					t.Fatalf("%s risk %v out of [0,1]", scenario, result.RiskScore)
				}
				if result.GhostIntensity < 0 || result.GhostIntensity > 1 {
					t.Fatalf("%s ghost intensity %v out of [0,1]", scenario, result.GhostIntensity)
				}
			}
		}
	}
}

func TestNegativeOverridesDegradeToNoOp(t *testing.T) {
	e := testEngine()
	snap := fixtureSnapshot()
	cases := []struct {
		scenario string
		negative Overrides
		zero     Overrides
	}{
		{ScenarioResourceStress, Overrides{RemoveCount: intp(-1)}, Overrides{RemoveCount: intp(0)}},
		{ScenarioScopeCreep, Overrides{AdditionalIssues: intp(-5)}, Overrides{AdditionalIssues: intp(0)}},
		{ScenarioPriorityShift, Overrides{ShiftPercentage: intp(-30)}, Overrides{ShiftPercentage: intp(0)}},
	}
	for _, tc := range cases {
		result, err := e.Dream(context.Background(), tc.scenario, snap, tc.negative)
		if err != nil {
			t.Fatalf("Dream(%s): %v", tc.scenario, err)
		}
		if len(result.AffectedIssues) != 0 {
			t.Fatalf("%s affected = %v, want none", tc.scenario, result.AffectedIssues)
		}
		want, err := e.Dream(context.Background(), tc.scenario, snap, tc.zero)
		if err != nil {
			t.Fatalf("Dream(%s, zeroed): %v", tc.scenario, err)
		}
		if !reflect.DeepEqual(result, want) {
			t.Fatalf("%s with negative override:\ngot  %+v\nwant %+v", tc.scenario, result, want)
		}
	}
}

func TestPriorityShiftClampsOversizedShift(t *testing.T) {
	e := testEngine()
	result, err := e.Dream(context.Background(), ScenarioPriorityShift, fixtureSnapshot(),
		Overrides{TargetEpic: strp("EPIC-1"), ShiftPercentage: intp(150)})
	if err != nil {
		t.Fatalf("Dream: %v", err)
	}
	// EPIC-2 has 3 open issues; shifting more than everything starves them all.
	want := []string{"WFM-6", "WFM-7", "WFM-8"}
	if !reflect.DeepEqual(result.AffectedIssues, want) {
		t.Fatalf("starved = %v, want %v", result.AffectedIssues, want)
	}
}

func TestUnknownScenario(t *testing.T) {
	e := testEngine()
	_, err := e.Dream(context.Background(), "time_travel", fixtureSnapshot(), Overrides{})
	var unknown *UnknownScenarioError
	if !errors.As(err, &unknown) {
		t.Fatalf("want UnknownScenarioError, got %v", err)
	}
	msg := err.Error()
	for _, name := range ValidScenarios() {
		if !strings.Contains(msg, name) {
			t.Fatalf("error %q does not list scenario %q", msg, name)
		}
	}
}

func TestUnknownScenarioLogsNothing(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := NewEngine(config.DreamingConfig{}, nil, nil, zap.New(core))

	if _, err := e.Dream(context.Background(), "time_travel", fixtureSnapshot(), Overrides{}); err == nil {
		t.Fatal("want error for unknown scenario")
	}
	if n := logs.Len(); n != 0 {
		t.Fatalf("rejected scenario produced %d log entries: %v", n, logs.All())
	}
}

func TestEffectiveParamsMergeDefaults(t *testing.T) {
	e := NewEngine(config.DreamingConfig{
		RemoveCount:        2,
		AdditionalIssues:   7,
		AdditionalPriority: 2,
		ShiftPercentage:    40,
	}, nil, nil, zap.NewNop())

	p := e.effectiveParams(Overrides{AdditionalIssues: intp(12)})
	if p.RemoveCount != 2 || p.AdditionalIssues != 12 || p.Priority != 2 || p.ShiftPercentage != 40 {
		t.Fatalf("merged params = %+v", p)
	}

	// Zero-valued config falls back to the built-in defaults.
	bare := testEngine()
	p = bare.effectiveParams(Overrides{})
	if p.RemoveCount != 1 || p.AdditionalIssues != 5 || p.Priority != 3 || p.ShiftPercentage != 30 {
		t.Fatalf("default params = %+v", p)
	}
}

func TestFallbackSummaryRiskLevels(t *testing.T) {
	low := FallbackSummary(Result{ScenarioType: ScenarioResourceStress, RiskScore: 0.1})
	if !strings.Contains(low, "low risk") {
		t.Fatalf("summary = %q", low)
	}
	moderate := FallbackSummary(Result{ScenarioType: ScenarioScopeCreep, RiskScore: 0.5})
	if !strings.Contains(moderate, "moderate risk") {
		t.Fatalf("summary = %q", moderate)
	}
	high := FallbackSummary(Result{ScenarioType: ScenarioPriorityShift, RiskScore: 0.9})
	if !strings.Contains(high, "high risk") {
		t.Fatalf("summary = %q", high)
	}
}

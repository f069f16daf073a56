package dream

import (
	"fmt"
	"math"
	"sort"

	"bloompath/internal/ticket"
)

const (
	ScenarioResourceStress = "resource_stress"
	ScenarioScopeCreep     = "scope_creep"
	ScenarioPriorityShift  = "priority_shift"
)

// ValidScenarios lists the accepted scenario names, in a fixed order for
// error messages.
func ValidScenarios() []string {
	return []string{ScenarioResourceStress, ScenarioScopeCreep, ScenarioPriorityShift}
}

// Params is the effective, fully-merged parameter set for one dream.
// Fields irrelevant to the chosen scenario keep their defaults.
type Params struct {
	RemoveCount      int    `json:"remove_count"`
	AdditionalIssues int    `json:"additional_issues"`
	Priority         int    `json:"priority"`
	TargetEpic       string `json:"target_epic,omitempty"`
	ShiftPercentage  int    `json:"shift_percentage"`
}

// Overrides are caller-supplied parameter overrides; nil fields fall back
// to the configured scenario defaults.
type Overrides struct {
	RemoveCount      *int    `json:"remove_count,omitempty"`
	AdditionalIssues *int    `json:"additional_issues,omitempty"`
	Priority         *int    `json:"priority,omitempty"`
	TargetEpic       *string `json:"target_epic,omitempty"`
	ShiftPercentage  *int    `json:"shift_percentage,omitempty"`
}

// VisualEffect is an opaque effect record for the visualization layer.
type VisualEffect map[string]any

// Result is the outcome of one dream. Immutable once persisted.
type Result struct {
	ScenarioType      string         `json:"scenario_type"`
	ScenarioParams    Params         `json:"scenario_params"`
	Timestamp         int64          `json:"timestamp"`
	DreamID           string         `json:"dream_id"`
	OriginalVelocity  float64        `json:"original_velocity"`
	ProjectedVelocity float64        `json:"projected_velocity"`
	RiskScore         float64        `json:"risk_score"`
	ImpactSummary     string         `json:"impact_summary"`
	AffectedIssues    []string       `json:"affected_issues"`
	GhostIntensity    float64        `json:"ghost_intensity"`
	VisualEffects     []VisualEffect `json:"visual_effects"`
}

func baseResult(scenario string, params Params, dreamID string, ts int64) Result {
	return Result{
		ScenarioType:   scenario,
		ScenarioParams: params,
		Timestamp:      ts,
		DreamID:        dreamID,
		AffectedIssues: []string{},
		VisualEffects:  []VisualEffect{},
		GhostIntensity: 0.5,
	}
}

// simulateResourceStress removes the highest-workload members first, the
// worst-case attrition policy. Ties keep original team order.
func simulateResourceStress(snap SprintSnapshot, params Params, dreamID string, ts int64) Result {
	result := baseResult(ScenarioResourceStress, params, dreamID, ts)
	result.OriginalVelocity = snap.Velocity
	result.ProjectedVelocity = snap.Velocity

	team := snap.TeamMembers
	if len(team) == 0 {
		result.ImpactSummary = "No team members to remove."
		return result
	}
	removeCount := params.RemoveCount
	if removeCount > len(team) {
		removeCount = len(team)
	}

	workload := map[string]int{}
	for _, issue := range snap.Issues {
		assignee := issue.Assignee
		if assignee == "" {
			assignee = "unassigned"
		}
		workload[assignee]++
	}
	sorted := make([]string, len(team))
	copy(sorted, team)
	sort.SliceStable(sorted, func(i, j int) bool {
		return workload[sorted[i]] > workload[sorted[j]]
	})
	removed := sorted[:removeCount]
	removedSet := map[string]bool{}
	for _, m := range removed {
		removedSet[m] = true
	}

	var orphaned []string
	for _, issue := range snap.Issues {
		if removedSet[issue.Assignee] && issue.Status != ticket.StatusDone {
			orphaned = append(orphaned, issue.ID)
		}
	}
	if orphaned == nil {
		orphaned = []string{}
	}

	capacityRatio := float64(len(team)-removeCount) / float64(len(team))
	orphanRatio := float64(len(orphaned)) / math.Max(float64(len(snap.Issues)), 1)

	result.ProjectedVelocity = snap.Velocity * capacityRatio
	result.RiskScore = math.Min(1.0, (1-capacityRatio)*0.6+orphanRatio*0.4)
	result.AffectedIssues = orphaned
	result.GhostIntensity = 0.3 + result.RiskScore*0.5
	result.VisualEffects = []VisualEffect{
		{"type": "narrow_paths", "intensity": result.RiskScore},
		{"type": "slow_growth", "factor": capacityRatio},
		{"type": "wilted_leaves", "issue_ids": orphaned},
	}
	return result
}

// simulateScopeCreep injects synthetic unplanned issues and measures how
// far the sprint overloads.
func simulateScopeCreep(snap SprintSnapshot, params Params, dreamID string, ts int64) Result {
	result := baseResult(ScenarioScopeCreep, params, dreamID, ts)
	result.OriginalVelocity = snap.Velocity

	additional := params.AdditionalIssues
	currentOpen := snap.openCount()
	totalAfter := currentOpen + additional

	dailyThroughput := snap.Velocity / math.Max(float64(snap.DaysRemaining), 1)
	projectedCompletion := dailyThroughput * float64(snap.DaysRemaining)
	overloadRatio := float64(totalAfter) / math.Max(projectedCompletion, 1)

	priorityWeights := map[int]float64{1: 1.5, 2: 1.3, 3: 1.0, 4: 0.8}
	weight, ok := priorityWeights[params.Priority]
	if !ok {
		weight = 1.0
	}
	risk := (overloadRatio - 1.0) * 0.5 * weight
	result.RiskScore = math.Max(0.0, math.Min(1.0, risk))
	result.ProjectedVelocity = snap.Velocity / math.Max(overloadRatio, 1.0)

	synthetic := make([]string, additional)
	for i := range synthetic {
		synthetic[i] = fmt.Sprintf("DREAM-%d", i+1)
	}
	result.AffectedIssues = synthetic
	result.GhostIntensity = 0.4 + result.RiskScore*0.4
	result.VisualEffects = []VisualEffect{
		{"type": "overburdened_trees", "load_factor": overloadRatio},
		{"type": "drooping_branches", "count": additional},
		{"type": "ghost_issues", "issue_ids": synthetic},
	}
	return result
}

// simulatePriorityShift starves every epic but the target. Grouping is
// insertion-ordered so the auto-selected target and the starved-issue
// choice stay deterministic.
func simulatePriorityShift(snap SprintSnapshot, params Params, dreamID string, ts int64) Result {
	result := baseResult(ScenarioPriorityShift, params, dreamID, ts)
	result.OriginalVelocity = snap.Velocity
	// Redistribution, not depletion: total velocity is unchanged.
	result.ProjectedVelocity = snap.Velocity

	shiftPct := float64(params.ShiftPercentage) / 100.0

	var epicOrder []string
	epics := map[string][]SnapshotIssue{}
	for _, issue := range snap.Issues {
		epic := issue.Epic
		if epic == "" {
			epic = "no_epic"
		}
		if _, ok := epics[epic]; !ok {
			epicOrder = append(epicOrder, epic)
		}
		epics[epic] = append(epics[epic], issue)
	}

	openIn := func(epic string) []SnapshotIssue {
		var open []SnapshotIssue
		for _, issue := range epics[epic] {
			if issue.Status != ticket.StatusDone {
				open = append(open, issue)
			}
		}
		return open
	}

	targetEpic := params.TargetEpic
	if targetEpic == "" && len(epicOrder) > 0 {
		best, bestOpen := "", -1
		for _, epic := range epicOrder {
			if n := len(openIn(epic)); n > bestOpen {
				best, bestOpen = epic, n
			}
		}
		targetEpic = best
	}

	starved := []string{}
	var starvedEpics []string
	for _, epic := range epicOrder {
		if epic == targetEpic {
			continue
		}
		starvedEpics = append(starvedEpics, epic)
		open := openIn(epic)
		count := int(float64(len(open)) * shiftPct)
		if count > len(open) {
			count = len(open)
		}
		for _, issue := range open[:count] {
			starved = append(starved, issue.ID)
		}
	}

	result.RiskScore = math.Min(1.0, float64(len(starved))/math.Max(float64(len(snap.Issues)), 1)+shiftPct*0.3)
	result.AffectedIssues = starved
	result.GhostIntensity = 0.3 + result.RiskScore*0.3
	result.VisualEffects = []VisualEffect{
		{"type": "firefly_reroute", "from_epics": starvedEpics, "to_epic": targetEpic},
		{"type": "accelerated_growth", "epic": targetEpic, "boost": shiftPct},
		{"type": "stalled_growth", "issue_ids": starved},
	}
	return result
}

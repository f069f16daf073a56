package dream

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"bloompath/internal/db"
	"bloompath/internal/migrate"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &Store{DB: conn}
}

func sampleResult(dreamID string, ts int64) Result {
	return Result{
		ScenarioType:      ScenarioResourceStress,
		ScenarioParams:    Params{RemoveCount: 1, AdditionalIssues: 5, Priority: 3, ShiftPercentage: 30},
		Timestamp:         ts,
		DreamID:           dreamID,
		OriginalVelocity:  4.0,
		ProjectedVelocity: 2.67,
		RiskScore:         0.42,
		ImpactSummary:     "Removing resources would reduce velocity.",
		AffectedIssues:    []string{"WFM-3", "WFM-4"},
		GhostIntensity:    0.51,
		VisualEffects: []VisualEffect{
			{"type": "narrow_paths", "intensity": 0.42},
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	want := sampleResult("dream_resource_stress_1700000000", 1700000000)

	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx, want.DreamID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil for a saved dream")
	}
	if !reflect.DeepEqual(*got, want) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", *got, want)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store := testStore(t)
	got, err := store.Load(context.Background(), "dream_never_happened")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("missing dream should be nil, got %+v", got)
	}
}

func TestStoreSameIDLastWriteWins(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	first := sampleResult("dream_resource_stress_1700000000", 1700000000)
	second := first
	second.RiskScore = 0.9

	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Save second: %v", err)
	}
	got, err := store.Load(ctx, first.DreamID)
	if err != nil || got == nil {
		t.Fatalf("Load: %v %v", got, err)
	}
	if got.RiskScore != 0.9 {
		t.Fatalf("risk = %v, want the later write", got.RiskScore)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	old := sampleResult("dream_resource_stress_1700000000", 1700000000)
	recent := sampleResult("dream_scope_creep_1700000500", 1700000500)
	recent.ScenarioType = ScenarioScopeCreep
	long := sampleResult("dream_priority_shift_1700000900", 1700000900)
	long.ScenarioType = ScenarioPriorityShift
	long.ImpactSummary = ""
	for i := 0; i < 30; i++ {
		long.ImpactSummary += "abcdefghij"
	}

	for _, r := range []Result{old, recent, long} {
		if err := store.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].DreamID != long.DreamID || list[2].DreamID != old.DreamID {
		t.Fatalf("order = %v %v %v", list[0].DreamID, list[1].DreamID, list[2].DreamID)
	}
	if len(list[0].ImpactSummary) != 100 {
		t.Fatalf("summary should truncate to 100 chars, got %d", len(list[0].ImpactSummary))
	}
}

func TestStoreListTruncatesOnRuneBoundary(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	r := sampleResult("dream_scope_creep_1700001000", 1700001000)
	// Three-byte runes put the 100th byte inside a character.
	r.ImpactSummary = strings.Repeat("庭", 120)
	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d", len(list))
	}
	got := list[0].ImpactSummary
	if !utf8.ValidString(got) {
		t.Fatalf("truncated summary is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 100 {
		t.Fatalf("summary should truncate to 100 runes, got %d", n)
	}
}

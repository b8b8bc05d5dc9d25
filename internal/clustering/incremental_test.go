package clustering

import (
	"testing"
	"time"

	"cogni/internal/core"
)

// seedState builds a two-unit state with well-separated centroids.
func seedState() *core.ClusterState {
	return &core.ClusterState{
		ClassroomID:  "class-1",
		ModelVersion: "test-embedding-001",
		Units: []core.Unit{
			{
				ID:              "unit-a",
				ClassroomID:     "class-1",
				Label:           "Mitochondria",
				Centroid:        []float64{1, 0, 0},
				MemberUploadIDs: []string{"u1", "u2"},
				Section:         "## existing section A",
				Version:         1,
			},
			{
				ID:              "unit-b",
				ClassroomID:     "class-1",
				Label:           "Newton",
				Centroid:        []float64{0, 1, 0},
				MemberUploadIDs: []string{"u3", "u4"},
				Section:         "## existing section B",
				Version:         1,
			},
		},
		Embeddings: map[string][]float64{
			"u1": {1, 0, 0.05},
			"u2": {0.95, 0, 0},
			"u3": {0, 1, 0.05},
			"u4": {0, 0.95, 0},
		},
	}
}

func TestMergeAssignsCloseVector(t *testing.T) {
	c := New(DefaultConfig())
	state := seedState()
	state.Embeddings["u5"] = []float64{0.98, 0.02, 0}

	result, err := c.Merge(state, []string{"u5"}, nil)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if len(result.Touched) != 1 {
		t.Fatalf("Merge() touched %d units, want 1", len(result.Touched))
	}
	if got := result.Touched["unit-a"]; len(got) != 1 || got[0] != "u5" {
		t.Errorf("Merge() touched[unit-a] = %v, want [u5]", got)
	}
	if len(result.Spawned) != 0 {
		t.Errorf("Merge() spawned %v, want none", result.Spawned)
	}

	unitA := state.UnitByID("unit-a")
	if len(unitA.MemberUploadIDs) != 3 {
		t.Errorf("unit-a has %d members, want 3", len(unitA.MemberUploadIDs))
	}
	if unitA.Version != 2 {
		t.Errorf("unit-a version = %d, want 2", unitA.Version)
	}

	// The far unit stays byte-identical.
	unitB := state.UnitByID("unit-b")
	if unitB.Version != 1 || len(unitB.MemberUploadIDs) != 2 {
		t.Error("unit-b changed during an unrelated merge")
	}
	if unitB.Centroid[0] != 0 || unitB.Centroid[1] != 1 {
		t.Error("unit-b centroid recomputed without membership change")
	}
}

func TestMergeHoldsFarVectorPending(t *testing.T) {
	c := New(DefaultConfig())
	state := seedState()
	state.Embeddings["u5"] = []float64{0, 0, 1}

	result, err := c.Merge(state, []string{"u5"}, nil)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if len(result.Touched) != 0 {
		t.Errorf("Merge() touched %v, want none", result.Touched)
	}
	if len(state.PendingIDs) != 1 || state.PendingIDs[0] != "u5" {
		t.Errorf("PendingIDs = %v, want [u5]", state.PendingIDs)
	}
	if len(state.Units) != 2 {
		t.Errorf("unit count = %d, want 2", len(state.Units))
	}
}

func TestMergeSpawnsFromPendingBatch(t *testing.T) {
	c := New(DefaultConfig())
	state := seedState()
	state.PendingIDs = []string{"u5", "u6"}
	state.Embeddings["u5"] = []float64{0, 0, 1}
	state.Embeddings["u6"] = []float64{0, 0.05, 0.95}
	state.Embeddings["u7"] = []float64{0.05, 0, 1}

	result, err := c.Merge(state, []string{"u7"}, nil)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if len(result.Spawned) == 0 {
		t.Fatal("Merge() spawned no units from a full pending batch")
	}
	if len(state.PendingIDs) != 0 {
		t.Errorf("PendingIDs = %v, want empty after spawn", state.PendingIDs)
	}
	if len(state.Units) != 2+len(result.Spawned) {
		t.Errorf("unit count = %d, want %d", len(state.Units), 2+len(result.Spawned))
	}

	// The spawned unit's members must cover all three pooled uploads.
	covered := make(map[string]bool)
	for _, id := range result.Spawned {
		for _, member := range state.UnitByID(id).MemberUploadIDs {
			covered[member] = true
		}
	}
	for _, id := range []string{"u5", "u6", "u7"} {
		if !covered[id] {
			t.Errorf("upload %s not covered by any spawned unit", id)
		}
	}
}

func TestMergeMissingEmbedding(t *testing.T) {
	c := New(DefaultConfig())
	state := seedState()

	if _, err := c.Merge(state, []string{"ghost"}, nil); err == nil {
		t.Error("Merge() with a missing embedding should fail")
	}
}

func TestCarryIdentity(t *testing.T) {
	created := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	prev := []core.Unit{
		{
			ID:              "unit-a",
			MemberUploadIDs: []string{"u1", "u2", "u3"},
			Section:         "kept section",
			Label:           "Mitochondria",
			Version:         3,
			CreatedAt:       created,
		},
	}
	next := []core.Unit{
		{ID: "new-1", MemberUploadIDs: []string{"u1", "u2", "u9"}, Label: "Topic 1", Version: 1},
		{ID: "new-2", MemberUploadIDs: []string{"u7", "u8"}, Label: "Topic 2", Version: 1},
	}

	got := CarryIdentity(prev, next)

	if got[0].ID != "unit-a" {
		t.Errorf("carried ID = %q, want unit-a", got[0].ID)
	}
	if got[0].Version != 4 {
		t.Errorf("carried version = %d, want 4", got[0].Version)
	}
	if got[0].Section != "kept section" {
		t.Errorf("carried section = %q, want the prior section", got[0].Section)
	}
	if got[0].Label != "Mitochondria" {
		t.Errorf("carried label = %q, want Mitochondria", got[0].Label)
	}
	if !got[0].CreatedAt.Equal(created) {
		t.Error("carried CreatedAt changed")
	}
	if got[1].ID != "new-2" {
		t.Errorf("unmatched unit ID = %q, want new-2", got[1].ID)
	}
}

func TestCarryIdentityBelowOverlapThreshold(t *testing.T) {
	prev := []core.Unit{
		{ID: "unit-a", MemberUploadIDs: []string{"u1", "u2", "u3"}, Section: "old"},
	}
	next := []core.Unit{
		{ID: "new-1", MemberUploadIDs: []string{"u1", "u7", "u8"}, Version: 1},
	}

	got := CarryIdentity(prev, next)
	if got[0].ID != "new-1" {
		t.Errorf("identity carried on 1/3 overlap; ID = %q, want new-1", got[0].ID)
	}
	if got[0].Section != "" {
		t.Error("section carried without identity")
	}
}

func TestCarryIdentityMatchesEachPriorOnce(t *testing.T) {
	prev := []core.Unit{
		{ID: "unit-a", MemberUploadIDs: []string{"u1", "u2"}, Section: "a"},
		{ID: "unit-b", MemberUploadIDs: []string{"u3", "u4"}, Section: "b"},
	}
	next := []core.Unit{
		{ID: "new-1", MemberUploadIDs: []string{"u1", "u2", "u3", "u4"}, Version: 1},
		{ID: "new-2", MemberUploadIDs: []string{"u9"}, Version: 1},
	}

	got := CarryIdentity(prev, next)

	// Both prior units fully overlap new-1, but only one may claim it.
	if got[0].ID != "unit-a" {
		t.Errorf("merged unit ID = %q, want unit-a", got[0].ID)
	}
	if got[1].ID == "unit-b" {
		t.Error("unit-b claimed a unit with zero member overlap")
	}
}

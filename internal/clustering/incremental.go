package clustering

import (
	"fmt"

	"cogni/internal/core"
)

// MergeResult describes the outcome of an incremental merge pass.
type MergeResult struct {
	Touched map[string][]string // unit ID -> upload IDs newly assigned this pass
	Spawned []string            // IDs of units spawned this pass
}

// Merge folds new uploads into the existing unit arena without a global
// recluster. Each new vector joins the nearest existing unit when its
// cosine distance to that unit's centroid is below the merge threshold;
// everything else accumulates in the pending set until it is large enough
// to spawn new units. Only affected centroids are recomputed, which is what
// bounds incremental clustering cost.
//
// Vectors for newIDs (and any previously pending uploads) must already be
// present in state.Embeddings.
func (c *Clusterer) Merge(state *core.ClusterState, newIDs []string, titles map[string]string) (*MergeResult, error) {
	result := &MergeResult{Touched: make(map[string][]string)}

	// Previously pending uploads get another chance alongside the new ones.
	pool := make([]string, 0, len(state.PendingIDs)+len(newIDs))
	pool = append(pool, state.PendingIDs...)
	pool = append(pool, newIDs...)

	var pending []string
	for _, id := range pool {
		vec, ok := state.Embeddings[id]
		if !ok {
			return nil, fmt.Errorf("no cached embedding for upload %s", id)
		}

		unitIdx := -1
		if len(state.Units) > 0 {
			best := nearestUnit(vec, state.Units)
			if CosineDistance(vec, state.Units[best].Centroid) < c.cfg.MergeThreshold {
				unitIdx = best
			}
		}

		if unitIdx < 0 {
			pending = append(pending, id)
			continue
		}

		unit := &state.Units[unitIdx]
		unit.MemberUploadIDs = append(unit.MemberUploadIDs, id)
		unit.Version++
		result.Touched[unit.ID] = append(result.Touched[unit.ID], id)
	}

	// Recompute only the centroids whose membership changed.
	for unitID := range result.Touched {
		unit := state.UnitByID(unitID)
		unit.Centroid = CentroidOf(unit.MemberUploadIDs, state.Embeddings)
	}

	// Spawn new units once the pending set is large enough. The spawn uses
	// the same clustering step, restricted to the pending uploads.
	if len(pending) >= c.cfg.MinSpawnBatch {
		vectors := make([][]float64, len(pending))
		for i, id := range pending {
			vectors[i] = state.Embeddings[id]
		}

		spawned, err := c.Cluster(state.ClassroomID, pending, vectors, titles)
		if err != nil {
			return nil, fmt.Errorf("failed to spawn units: %w", err)
		}

		for _, unit := range spawned {
			state.Units = append(state.Units, unit)
			result.Touched[unit.ID] = unit.MemberUploadIDs
			result.Spawned = append(result.Spawned, unit.ID)
		}
		state.PendingIDs = nil
	} else {
		state.PendingIDs = pending
	}

	return result, nil
}

// nearestUnit returns the index of the unit with the closest centroid,
// preferring the lowest index on ties.
func nearestUnit(v []float64, units []core.Unit) int {
	best := 0
	bestDist := CosineDistance(v, units[0].Centroid)
	for i := 1; i < len(units); i++ {
		if d := CosineDistance(v, units[i].Centroid); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// CentroidOf computes the mean vector of the given members, skipping any
// member without a cached embedding.
func CentroidOf(memberIDs []string, embeddings map[string][]float64) []float64 {
	vectors := make([][]float64, 0, len(memberIDs))
	for _, id := range memberIDs {
		if v, ok := embeddings[id]; ok {
			vectors = append(vectors, v)
		}
	}
	return meanVector(vectors)
}

// CarryIdentity preserves unit identity across a full recluster: a new unit
// inherits a prior unit's ID, creation time, version lineage and stored
// section whenever at least half of the prior unit's members ended up in
// it. Each prior unit is matched at most once, to the new unit holding its
// largest member share. Without this, a forced regeneration would silently
// discard every section's narrative continuity.
func CarryIdentity(prev, next []core.Unit) []core.Unit {
	if len(prev) == 0 {
		return next
	}

	claimed := make(map[int]bool, len(next))

	for _, old := range prev {
		if len(old.MemberUploadIDs) == 0 {
			continue
		}

		oldMembers := make(map[string]bool, len(old.MemberUploadIDs))
		for _, id := range old.MemberUploadIDs {
			oldMembers[id] = true
		}

		bestIdx := -1
		bestOverlap := 0
		for i := range next {
			if claimed[i] {
				continue
			}
			overlap := 0
			for _, id := range next[i].MemberUploadIDs {
				if oldMembers[id] {
					overlap++
				}
			}
			if overlap > bestOverlap {
				bestOverlap = overlap
				bestIdx = i
			}
		}

		// Identity carries only when >=50% of the prior members remain.
		if bestIdx >= 0 && bestOverlap*2 >= len(old.MemberUploadIDs) {
			claimed[bestIdx] = true
			next[bestIdx].ID = old.ID
			next[bestIdx].CreatedAt = old.CreatedAt
			next[bestIdx].Version = old.Version + 1
			next[bestIdx].Section = old.Section
			if old.Label != "" {
				next[bestIdx].Label = old.Label
			}
		}
	}

	return next
}

// Package tracker computes the processing delta for a classroom: the
// uploads not yet folded into the current guide version. An empty delta on
// a non-forced run is the pipeline's no-op signal, the contract that keeps
// repeated generation requests from re-spending provider budget.
package tracker

import (
	"sort"

	"cogni/internal/core"
)

// Delta is the outcome of comparing the current upload set against the
// guide's processed set.
type Delta struct {
	Uploads []core.Upload // Uploads to process this run, in creation order
	Force   bool          // True when prior unit/centroid state must be discarded
	NoOp    bool          // True when there is nothing new and force is off
}

// Compute returns the delta for a run. With force set, every upload is part
// of the delta regardless of prior state. Otherwise the delta is the set of
// uploads whose IDs are absent from the guide's processed set; when that
// set is empty the run is a no-op and the caller must return the persisted
// guide without touching any provider.
func Compute(uploads []core.Upload, guide *core.StudyGuide, force bool) Delta {
	sorted := make([]core.Upload, len(uploads))
	copy(sorted, uploads)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	if force || guide == nil {
		return Delta{Uploads: sorted, Force: force}
	}

	var delta []core.Upload
	for _, u := range sorted {
		if !guide.Metadata.Processed(u.ID) {
			delta = append(delta, u)
		}
	}

	if len(delta) == 0 {
		return Delta{NoOp: true}
	}

	return Delta{Uploads: delta}
}

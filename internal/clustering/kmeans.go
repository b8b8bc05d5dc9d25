package clustering

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"cogni/internal/core"
	"cogni/internal/logger"
)

// Clusterer runs centroid-based clustering over upload embeddings. It is
// deterministic: the same inputs always produce the same partition, with
// ties broken by lowest unit index.
type Clusterer struct {
	cfg Config
	log *slog.Logger
}

// New creates a clusterer with the given configuration.
func New(cfg Config) *Clusterer {
	return &Clusterer{
		cfg: cfg,
		log: logger.Get(),
	}
}

// Config returns the clusterer's configuration.
func (c *Clusterer) Config() Config {
	return c.cfg
}

// Cluster partitions the given uploads into k units, with k derived from
// the upload count. ids and vectors are parallel slices in upload creation
// order. Returns the new units in first-appearance order.
func (c *Clusterer) Cluster(classroomID string, ids []string, vectors [][]float64, titles map[string]string) ([]core.Unit, error) {
	n := len(ids)
	if n == 0 {
		return nil, fmt.Errorf("no embedded uploads to cluster")
	}
	if len(vectors) != n {
		return nil, fmt.Errorf("ids/vectors length mismatch: %d vs %d", n, len(vectors))
	}

	k := InitialK(n, c.cfg.MaxK)
	assignments := c.runKMeans(vectors, k)

	c.log.Debug("clustered uploads", "classroom_id", classroomID, "n", n, "k", k)

	return c.buildUnits(classroomID, ids, vectors, assignments, k, titles), nil
}

// runKMeans executes the centroid loop: deterministic farthest-point
// initialization, then assign/update until convergence or the iteration
// cap. Returns per-vector cluster indices.
func (c *Clusterer) runKMeans(vectors [][]float64, k int) []int {
	centroids := c.initializeCentroids(vectors, k)

	var assignments []int
	converged := false

	for iteration := 0; iteration < c.cfg.MaxIterations && !converged; iteration++ {
		newAssignments := make([]int, len(vectors))
		for i, v := range vectors {
			newAssignments[i] = nearestCentroid(v, centroids)
		}

		if iteration > 0 {
			converged = true
			for i := range assignments {
				if assignments[i] != newAssignments[i] {
					converged = false
					break
				}
			}
		}

		assignments = newAssignments

		if !converged {
			centroids = updateCentroids(vectors, assignments, k)
		}
	}

	return assignments
}

// initializeCentroids seeds k centroids with a greedy farthest-point sweep:
// the first vector, then repeatedly the vector farthest from every chosen
// centroid. Deterministic, unlike sampled k-means++.
func (c *Clusterer) initializeCentroids(vectors [][]float64, k int) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), vectors[0]...))

	for len(centroids) < k {
		bestIndex := 0
		bestDist := -1.0
		for i, v := range vectors {
			minDist := math.Inf(1)
			for _, centroid := range centroids {
				if d := CosineDistance(v, centroid); d < minDist {
					minDist = d
				}
			}
			if minDist > bestDist {
				bestDist = minDist
				bestIndex = i
			}
		}
		centroids = append(centroids, append([]float64(nil), vectors[bestIndex]...))
	}

	return centroids
}

// nearestCentroid returns the index of the closest centroid, preferring the
// lowest index on ties.
func nearestCentroid(v []float64, centroids [][]float64) int {
	minDistance := math.Inf(1)
	nearest := 0

	for i, centroid := range centroids {
		if d := CosineDistance(v, centroid); d < minDistance {
			minDistance = d
			nearest = i
		}
	}

	return nearest
}

// updateCentroids recomputes each centroid as the mean of its members.
// Empty clusters keep a zero centroid and collapse away in buildUnits.
func updateCentroids(vectors [][]float64, assignments []int, k int) [][]float64 {
	dim := len(vectors[0])
	centroids := make([][]float64, k)
	counts := make([]int, k)

	for i := range centroids {
		centroids[i] = make([]float64, dim)
	}

	for i, v := range vectors {
		cluster := assignments[i]
		counts[cluster]++
		for j := range v {
			centroids[cluster][j] += v[j]
		}
	}

	for i := range centroids {
		if counts[i] > 0 {
			for j := range centroids[i] {
				centroids[i][j] /= float64(counts[i])
			}
		}
	}

	return centroids
}

// buildUnits converts clustering output into units, dropping empty
// clusters. Units appear in cluster-index order so repeated runs over the
// same inputs produce the same ordering.
func (c *Clusterer) buildUnits(classroomID string, ids []string, vectors [][]float64, assignments []int, k int, titles map[string]string) []core.Unit {
	now := time.Now().UTC()
	units := make([]core.Unit, 0, k)

	for cluster := 0; cluster < k; cluster++ {
		var memberIDs []string
		var memberVectors [][]float64
		var memberTitles []string

		for i, assignment := range assignments {
			if assignment != cluster {
				continue
			}
			memberIDs = append(memberIDs, ids[i])
			memberVectors = append(memberVectors, vectors[i])
			if title, ok := titles[ids[i]]; ok {
				memberTitles = append(memberTitles, title)
			}
		}

		if len(memberIDs) == 0 {
			continue
		}

		units = append(units, core.Unit{
			ID:              uuid.NewString(),
			ClassroomID:     classroomID,
			Label:           LabelFromTitles(memberTitles, len(units)),
			Centroid:        meanVector(memberVectors),
			MemberUploadIDs: memberIDs,
			Version:         1,
			CreatedAt:       now,
		})
	}

	return units
}

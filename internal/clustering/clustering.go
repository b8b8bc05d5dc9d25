// Package clustering partitions embedded uploads into topic units and keeps
// unit identity stable across incremental runs.
package clustering

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Config holds the unit clusterer hyperparameters.
type Config struct {
	MergeThreshold float64 // Max cosine distance for merging into an existing unit
	MaxK           int     // Upper bound on unit count for a full clustering pass
	MinSpawnBatch  int     // Unassigned vectors required before spawning new units
	MaxIterations  int     // Iteration cap for the centroid loop
}

// DefaultConfig returns sensible defaults for unit clustering.
func DefaultConfig() Config {
	return Config{
		MergeThreshold: 0.35,
		MaxK:           8,
		MinSpawnBatch:  3,
		MaxIterations:  100,
	}
}

// CosineDistance computes 1 - cosine similarity between two vectors.
// Mismatched or zero vectors are treated as maximally distant.
func CosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 1.0
	}

	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// InitialK picks the unit count for a full clustering pass over n uploads:
// clamp(round(sqrt(n/2)), 1, maxK), never exceeding n.
func InitialK(n, maxK int) int {
	if n <= 0 {
		return 0
	}

	k := int(math.Round(math.Sqrt(float64(n) / 2.0)))
	if k < 1 {
		k = 1
	}
	if k > maxK {
		k = maxK
	}
	if k > n {
		k = n
	}
	return k
}

// meanVector computes the mean of the given vectors.
func meanVector(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}

	dim := len(vectors[0])
	mean := make([]float64, dim)
	for _, v := range vectors {
		for i := range v {
			mean[i] += v[i]
		}
	}
	for i := range mean {
		mean[i] /= float64(len(vectors))
	}
	return mean
}

// LabelFromTitles derives a human-readable unit label from member upload
// titles: the most frequent non-trivial word, or a positional fallback.
func LabelFromTitles(titles []string, index int) string {
	wordCounts := make(map[string]int)
	for _, title := range titles {
		for _, word := range extractWords(title) {
			if len(word) > 3 {
				wordCounts[word]++
			}
		}
	}

	type wordFreq struct {
		word  string
		count int
	}
	var sorted []wordFreq
	for word, count := range wordCounts {
		sorted = append(sorted, wordFreq{word, count})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].word < sorted[j].word
	})

	if len(sorted) > 0 {
		w := sorted[0].word
		return strings.ToUpper(w[:1]) + w[1:]
	}
	return fmt.Sprintf("Topic %d", index+1)
}

// extractWords splits text into lowercase alphanumeric words.
func extractWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

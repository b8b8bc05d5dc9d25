package clustering

import (
	"math"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 0, 0}, []float64{1, 0, 0}, 0},
		{"orthogonal", []float64{1, 0, 0}, []float64{0, 1, 0}, 1},
		{"opposite", []float64{1, 0, 0}, []float64{-1, 0, 0}, 2},
		{"mismatched lengths", []float64{1, 0}, []float64{1, 0, 0}, 1},
		{"zero vector", []float64{0, 0, 0}, []float64{1, 0, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDistance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineDistance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitialK(t *testing.T) {
	tests := []struct {
		n, maxK, want int
	}{
		{1, 8, 1},
		{2, 8, 1},
		{6, 8, 2},
		{8, 8, 2},
		{18, 8, 3},
		{50, 8, 5},
		{200, 8, 8},
		{3, 1, 1},
	}

	for _, tt := range tests {
		if got := InitialK(tt.n, tt.maxK); got != tt.want {
			t.Errorf("InitialK(%d, %d) = %d, want %d", tt.n, tt.maxK, got, tt.want)
		}
	}
}

func TestLabelFromTitles(t *testing.T) {
	titles := []string{
		"Mitochondria and the cell",
		"Mitochondria structure notes",
		"Cellular respiration overview",
	}
	if got := LabelFromTitles(titles, 0); got != "Mitochondria" {
		t.Errorf("LabelFromTitles() = %q, want %q", got, "Mitochondria")
	}

	if got := LabelFromTitles(nil, 2); got != "Topic 3" {
		t.Errorf("LabelFromTitles() fallback = %q, want %q", got, "Topic 3")
	}
}

// twoTopicVectors builds six vectors in two well-separated groups.
func twoTopicVectors() ([]string, [][]float64) {
	ids := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	vectors := [][]float64{
		{1, 0, 0.1},
		{0.9, 0.1, 0},
		{1, 0.05, 0.05},
		{0, 1, 0.1},
		{0.1, 0.9, 0},
		{0.05, 1, 0.05},
	}
	return ids, vectors
}

func TestClusterSeparatesTopics(t *testing.T) {
	c := New(DefaultConfig())
	ids, vectors := twoTopicVectors()

	units, err := c.Cluster("class-1", ids, vectors, nil)
	if err != nil {
		t.Fatalf("Cluster() error = %v", err)
	}

	if len(units) != 2 {
		t.Fatalf("Cluster() produced %d units, want 2", len(units))
	}

	members := make(map[string]int)
	for i, unit := range units {
		for _, id := range unit.MemberUploadIDs {
			members[id] = i
		}
	}

	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u3"}, {"u4", "u5"}, {"u5", "u6"}} {
		if members[pair[0]] != members[pair[1]] {
			t.Errorf("uploads %s and %s ended up in different units", pair[0], pair[1])
		}
	}
	if members["u1"] == members["u4"] {
		t.Error("uploads u1 and u4 should be in different units")
	}
}

func TestClusterDeterministic(t *testing.T) {
	c := New(DefaultConfig())
	ids, vectors := twoTopicVectors()

	first, err := c.Cluster("class-1", ids, vectors, nil)
	if err != nil {
		t.Fatalf("Cluster() error = %v", err)
	}
	second, err := c.Cluster("class-1", ids, vectors, nil)
	if err != nil {
		t.Fatalf("Cluster() error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("unit counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i].MemberUploadIDs, second[i].MemberUploadIDs
		if len(a) != len(b) {
			t.Fatalf("unit %d memberships differ in size", i)
		}
		for j := range a {
			if a[j] != b[j] {
				t.Errorf("unit %d member %d differs: %s vs %s", i, j, a[j], b[j])
			}
		}
	}
}

func TestClusterEmptyInput(t *testing.T) {
	c := New(DefaultConfig())
	if _, err := c.Cluster("class-1", nil, nil, nil); err == nil {
		t.Error("Cluster() with no vectors should fail")
	}
}

package llm

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// MockClient is an in-process Client for tests and offline development.
// Without overrides it produces deterministic pseudo-embeddings derived
// from the input text and echoes a canned generation response.
type MockClient struct {
	mu sync.Mutex

	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	EmbedFunc    func(ctx context.Context, text string) ([]float64, error)

	generateCalls int
	embedCalls    int
}

// NewMockClient creates a mock client with default behavior.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// GenerateText records the call and delegates to GenerateFunc when set.
func (m *MockClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.generateCalls++
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	return "mock generated content", nil
}

// EmbedText records the call and delegates to EmbedFunc when set.
func (m *MockClient) EmbedText(ctx context.Context, text string) ([]float64, error) {
	m.mu.Lock()
	m.embedCalls++
	fn := m.EmbedFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return PseudoEmbedding(text), nil
}

func (m *MockClient) Provider() string              { return "mock" }
func (m *MockClient) ModelName() string             { return "mock-model" }
func (m *MockClient) EmbeddingModelVersion() string { return "mock-embedding-001" }

// GenerateCalls returns how many generation calls were made.
func (m *MockClient) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// EmbedCalls returns how many embedding calls were made.
func (m *MockClient) EmbedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedCalls
}

// ResetCalls zeroes the call counters.
func (m *MockClient) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateCalls = 0
	m.embedCalls = 0
}

// PseudoEmbedding maps text onto a small deterministic unit vector, so the
// same text always embeds identically without a provider round trip.
func PseudoEmbedding(text string) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float64, 8)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float64(int64(seed>>11)) / float64(1<<52)
		norm += vec[i] * vec[i]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

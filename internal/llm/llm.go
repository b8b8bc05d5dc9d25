// Package llm wraps the embedding and generation providers behind a single
// client interface. Provider selection happens once at startup from
// configuration; every call is rate limited and classifies failures into
// the transient/permanent taxonomy.
package llm

import (
	"context"
	"fmt"
	"strings"

	"cogni/internal/config"
)

const (
	// MaxPromptChars caps generation prompt size before a provider call.
	MaxPromptChars = 30000
	// MaxEmbedChars caps embedding input size; embedding models have much
	// smaller token limits than generation models.
	MaxEmbedChars = 8000
)

// Client is the provider-neutral interface the pipeline depends on.
// EmbedText is a pure function over a network call: the same text and
// model version always produce the same fixed-length vector.
type Client interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	EmbedText(ctx context.Context, text string) ([]float64, error)
	Provider() string
	ModelName() string
	// EmbeddingModelVersion identifies the embedding model; cached vectors
	// are invalidated when it changes.
	EmbeddingModelVersion() string
}

// NewFromConfig builds the configured provider client.
func NewFromConfig(cfg config.AI) (Client, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(cfg.Gemini)
	case "openai":
		return NewOpenAIClient(cfg.OpenAI)
	default:
		return nil, fmt.Errorf("unknown AI provider: %q", cfg.Provider)
	}
}

// Truncate caps text at max bytes, appending a marker when content was cut.
func Truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + "\n\n[Additional content truncated...]"
}

// IsBlank reports whether text contains no processable content.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

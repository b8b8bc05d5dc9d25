package cost

import (
	"strings"
	"testing"
)

func TestEstimateTokenCount(t *testing.T) {
	if got := EstimateTokenCount(""); got != 0 {
		t.Errorf("EstimateTokenCount(\"\") = %d, want 0", got)
	}

	// 350 characters at ~3.5 chars per token is 100 tokens.
	text := strings.Repeat("a", 350)
	if got := EstimateTokenCount(text); got != 100 {
		t.Errorf("EstimateTokenCount(350 chars) = %d, want 100", got)
	}
}

func TestEstimateRun(t *testing.T) {
	prompts := []string{
		strings.Repeat("a", 350),
		strings.Repeat("b", 700),
	}

	est := EstimateRun(prompts, "gemini-1.5-flash")

	if est.GenerationCalls != 2 {
		t.Errorf("GenerationCalls = %d, want 2", est.GenerationCalls)
	}
	if est.InputTokens != 300 {
		t.Errorf("InputTokens = %d, want 300", est.InputTokens)
	}
	if est.EstimatedCostUSD <= 0 {
		t.Errorf("EstimatedCostUSD = %v, want positive", est.EstimatedCostUSD)
	}
}

func TestEstimateRunUnknownModelFallsBack(t *testing.T) {
	est := EstimateRun([]string{"prompt"}, "some-future-model")
	if est.Model != "some-future-model" {
		t.Errorf("Model = %q, want the requested name preserved", est.Model)
	}
	if est.EstimatedCostUSD <= 0 {
		t.Error("fallback pricing produced zero cost")
	}
}

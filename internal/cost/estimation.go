// Package cost estimates the provider spend of a generation run before it
// happens, so delta processing decisions stay visible in logs and CLI
// output.
package cost

import (
	"math"
	"strings"
	"unicode/utf8"
)

// ModelPricing represents per-model API pricing.
type ModelPricing struct {
	Model                 string
	InputCostPer1MTokens  float64 // USD per 1M input tokens
	OutputCostPer1MTokens float64 // USD per 1M output tokens
	EstimatedOutputTokens int     // Typical section length in tokens
}

// PricingTable contains pricing for the supported generation models as of
// 2025. Unknown models fall back to the cheapest Gemini row.
var PricingTable = map[string]ModelPricing{
	"gemini-1.5-flash": {
		Model:                 "gemini-1.5-flash",
		InputCostPer1MTokens:  0.075,
		OutputCostPer1MTokens: 0.30,
		EstimatedOutputTokens: 600,
	},
	"gemini-1.5-pro": {
		Model:                 "gemini-1.5-pro",
		InputCostPer1MTokens:  3.50,
		OutputCostPer1MTokens: 10.50,
		EstimatedOutputTokens: 700,
	},
	"gpt-4o-mini": {
		Model:                 "gpt-4o-mini",
		InputCostPer1MTokens:  0.15,
		OutputCostPer1MTokens: 0.60,
		EstimatedOutputTokens: 600,
	},
	"gpt-4o": {
		Model:                 "gpt-4o",
		InputCostPer1MTokens:  2.50,
		OutputCostPer1MTokens: 10.00,
		EstimatedOutputTokens: 700,
	},
}

const fallbackModel = "gemini-1.5-flash"

// EstimateTokenCount provides a rough token estimate for text: roughly one
// token per 3.5 characters, with a small buffer for formatting tokens.
func EstimateTokenCount(text string) int {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", " ")

	charCount := utf8.RuneCountInString(text)
	return int(math.Ceil(float64(charCount) / 3.5))
}

// RunEstimate is the projected cost of one generation run.
type RunEstimate struct {
	Model            string
	GenerationCalls  int
	InputTokens      int
	OutputTokens     int
	EstimatedCostUSD float64
}

// EstimateRun projects the cost of issuing one generation call per prompt
// against the given model.
func EstimateRun(prompts []string, modelName string) RunEstimate {
	pricing, ok := PricingTable[modelName]
	if !ok {
		pricing = PricingTable[fallbackModel]
	}

	est := RunEstimate{
		Model:           modelName,
		GenerationCalls: len(prompts),
	}

	for _, prompt := range prompts {
		est.InputTokens += EstimateTokenCount(prompt)
		est.OutputTokens += pricing.EstimatedOutputTokens
	}

	est.EstimatedCostUSD = float64(est.InputTokens)/1e6*pricing.InputCostPer1MTokens +
		float64(est.OutputTokens)/1e6*pricing.OutputCostPer1MTokens

	return est
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"cogni/internal/config"
	"cogni/internal/errs"
)

// embeddingDimensions is the output dimension requested from the embedding
// model (Matryoshka truncation), kept fixed so cached vectors stay
// comparable.
const embeddingDimensions = int32(768)

// GeminiClient implements Client using the Gemini API.
type GeminiClient struct {
	cfg     config.GeminiConfig
	gClient *genai.Client
	limiter *rate.Limiter
}

// NewGeminiClient creates a Gemini-backed client from configuration.
func NewGeminiClient(cfg config.GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required: set GEMINI_API_KEY")
	}

	ctx := context.Background()
	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = 60
	}

	return &GeminiClient{
		cfg:     cfg,
		gClient: gClient,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}, nil
}

// GenerateText generates text for the given prompt.
func (c *GeminiClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: Truncate(prompt, MaxPromptChars)}},
		Role:  "user",
	}}

	cfg := &genai.GenerateContentConfig{}
	if c.cfg.MaxTokens > 0 {
		cfg.MaxOutputTokens = c.cfg.MaxTokens
	}
	if c.cfg.Temperature > 0 {
		cfg.Temperature = genai.Ptr(c.cfg.Temperature)
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.cfg.Model, contents, cfg)
	if err != nil {
		return "", classifyGeminiErr("generate", err)
	}

	text := resp.Text()
	if text == "" {
		return "", errs.Transient("generate", fmt.Errorf("empty response from model"))
	}

	return text, nil
}

// EmbedText generates a fixed-length embedding vector for the given text.
func (c *GeminiClient) EmbedText(ctx context.Context, text string) ([]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: Truncate(text, MaxEmbedChars)}},
		Role:  "user",
	}}

	dims := embeddingDimensions
	resp, err := c.gClient.Models.EmbedContent(ctx, c.cfg.EmbeddingModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, classifyGeminiErr("embed", err)
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errs.Transient("embed", fmt.Errorf("no embedding values returned"))
	}

	values := resp.Embeddings[0].Values
	embedding := make([]float64, len(values))
	for i, v := range values {
		embedding[i] = float64(v)
	}

	return embedding, nil
}

func (c *GeminiClient) Provider() string  { return "gemini" }
func (c *GeminiClient) ModelName() string { return c.cfg.Model }

func (c *GeminiClient) EmbeddingModelVersion() string {
	return fmt.Sprintf("%s/%d", c.cfg.EmbeddingModel, embeddingDimensions)
}

// classifyGeminiErr maps Gemini API failures onto the pipeline taxonomy:
// auth, quota and other 4xx responses are permanent, everything else
// (network failures, timeouts, 5xx) is transient.
func classifyGeminiErr(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 400 && apiErr.Code < 500 {
			return errs.Permanent(op, err)
		}
		return errs.Transient(op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Transient(op, err)
	}

	return errs.Transient(op, err)
}

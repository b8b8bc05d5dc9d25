package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"cogni/internal/config"
	"cogni/internal/errs"
)

// OpenAIClient implements Client using the OpenAI API.
type OpenAIClient struct {
	cfg     config.OpenAIConfig
	llm     *openai.LLM
	limiter *rate.Limiter
}

// NewOpenAIClient creates an OpenAI-backed client from configuration.
func NewOpenAIClient(cfg config.OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required: set OPENAI_API_KEY")
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = 60
	}

	return &OpenAIClient{
		cfg:     cfg,
		llm:     client,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}, nil
}

// GenerateText generates text for the given prompt.
func (c *OpenAIClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, c.llm, Truncate(prompt, MaxPromptChars))
	if err != nil {
		return "", classifyOpenAIErr("generate", err)
	}

	if text == "" {
		return "", errs.Transient("generate", fmt.Errorf("empty response from model"))
	}

	return text, nil
}

// EmbedText generates a fixed-length embedding vector for the given text.
func (c *OpenAIClient) EmbedText(ctx context.Context, text string) ([]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	vectors, err := c.llm.CreateEmbedding(ctx, []string{Truncate(text, MaxEmbedChars)})
	if err != nil {
		return nil, classifyOpenAIErr("embed", err)
	}

	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errs.Transient("embed", fmt.Errorf("no embedding values returned"))
	}

	embedding := make([]float64, len(vectors[0]))
	for i, v := range vectors[0] {
		embedding[i] = float64(v)
	}

	return embedding, nil
}

func (c *OpenAIClient) Provider() string  { return "openai" }
func (c *OpenAIClient) ModelName() string { return c.cfg.Model }

func (c *OpenAIClient) EmbeddingModelVersion() string {
	return c.cfg.EmbeddingModel
}

// classifyOpenAIErr maps OpenAI failures onto the pipeline taxonomy. The
// SDK does not expose typed status errors, so this inspects the message for
// the permanent cases and defaults to transient.
func classifyOpenAIErr(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "incorrect api key"),
		strings.Contains(msg, "insufficient_quota"),
		strings.Contains(msg, "status code: 401"),
		strings.Contains(msg, "status code: 403"),
		strings.Contains(msg, "status code: 404"):
		return errs.Permanent(op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Transient(op, err)
	}

	return errs.Transient(op, err)
}

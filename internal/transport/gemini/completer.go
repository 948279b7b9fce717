// Package gemini implements domain.Completer on top of the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/metrics"
)

// Config holds Gemini provider settings.
type Config struct {
	APIKey   string
	BaseURL  string // optional, for proxies and tests
	Model    string
	Provider string
	Logger   *zap.Logger
}

// Completer generates text with Gemini models.
type Completer struct {
	client   *genai.Client
	model    string
	provider string
	logger   *zap.Logger
}

// NewCompleter creates a Gemini completer.
func NewCompleter(ctx context.Context, cfg *Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &Completer{client: client, model: model, provider: cfg.Provider, logger: cfg.Logger}, nil
}

// Complete implements domain.Completer.
func (c *Completer) Complete(
	ctx context.Context, prompt string, opts domain.CompletionOptions,
) (domain.Completion, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(opts.MaxTokens) //nolint:gosec // bounded by config validation
	}
	if opts.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(opts.System, genai.RoleUser)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), gc)
	duration := time.Since(start)

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(c.provider, model, "error").Inc()
		c.logger.Warn("Gemini request failed",
			zap.String("model", model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.Completion{}, fmt.Errorf("gemini generate: %v: %w", err, domain.ErrLLMProviderError)
	}

	text := resp.Text()
	if text == "" {
		metrics.LLMRequestsTotal.WithLabelValues(c.provider, model, "error").Inc()
		return domain.Completion{}, fmt.Errorf("empty gemini response: %w", domain.ErrLLMProviderError)
	}

	out := domain.Completion{Text: text}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}

	metrics.LLMRequestsTotal.WithLabelValues(c.provider, model, "success").Inc()
	metrics.LLMRequestDuration.WithLabelValues(c.provider, model).Observe(duration.Seconds())
	metrics.LLMTokensTotal.WithLabelValues(c.provider, model, "prompt").Add(float64(out.PromptTokens))
	metrics.LLMTokensTotal.WithLabelValues(c.provider, model, "completion").Add(float64(out.CompletionTokens))

	return out, nil
}

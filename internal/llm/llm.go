// Package llm is the façade every other package uses to talk to Gemini: it
// picks a model (falling back on failure), hits a content-addressed cache
// before paying for a call, and records cost for every call; a cache hit is
// recorded as a cached, zero-cost entry.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"google.golang.org/genai"

	"narrative-core/internal/cost"
)

// Cache is the content-addressed response cache backing the facade. The
// sqlite-backed implementation lives in internal/store.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Client is the Gemini facade: model fallback, caching, and cost accounting.
type Client struct {
	gClient       *genai.Client
	primaryModel  string
	fallbackModel string
	cache         Cache
	cacheTTL      time.Duration
	ledger        *cost.Ledger
}

// Config configures a new Client.
type Config struct {
	APIKey        string
	PrimaryModel  string
	FallbackModel string
	Cache         Cache
	CacheTTL      time.Duration
	Ledger        *cost.Ledger
}

// NewClient builds a Client against the live Gemini API.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Client{
		gClient:       gClient,
		primaryModel:  cfg.PrimaryModel,
		fallbackModel: cfg.FallbackModel,
		cache:         cfg.Cache,
		cacheTTL:      cfg.CacheTTL,
		ledger:        cfg.Ledger,
	}, nil
}

// CallOptions configures a single Generate call.
type CallOptions struct {
	Operation      string // short tag for cost-ledger attribution, e.g. "extraction", "briefing"
	Temperature    float32
	MaxTokens      int32
	ResponseSchema *genai.Schema // when set, response is constrained to this JSON schema
}

// cacheKey hashes (model, prompt, temperature, max_tokens) into a
// content-addressed cache key.
func cacheKey(model, prompt string, opts CallOptions) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%.3f|%d|%s", model, opts.Temperature, opts.MaxTokens, prompt)
	return hex.EncodeToString(h.Sum(nil))
}

// Generate runs prompt against the primary model, falling back to the
// secondary model on error, serving from cache when available, and recording
// cost for every call (a zero-cost cached record for a cache hit).
func (c *Client) Generate(ctx context.Context, prompt string, opts CallOptions) (string, error) {
	key := cacheKey(c.primaryModel, prompt, opts)

	if c.cache != nil {
		if cached, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			if c.ledger != nil {
				_, _ = c.ledger.Record(ctx, c.primaryModel, opts.Operation, 0, 0, true)
			}
			return cached, nil
		}
	}

	text, model, inTokens, outTokens, err := c.generateWithFallback(ctx, prompt, opts)
	if err != nil {
		return "", err
	}

	if c.ledger != nil {
		if _, err := c.ledger.Record(ctx, model, opts.Operation, inTokens, outTokens, false); err != nil {
			// Cost accounting failure never blocks the caller from getting its answer.
			_ = err
		}
	}

	if c.cache != nil {
		_ = c.cache.Set(ctx, key, text, c.cacheTTL)
	}

	return text, nil
}

func (c *Client) generateWithFallback(ctx context.Context, prompt string, opts CallOptions) (text, model string, inTokens, outTokens int, err error) {
	models := []string{c.primaryModel}
	if c.fallbackModel != "" && c.fallbackModel != c.primaryModel {
		models = append(models, c.fallbackModel)
	}

	var lastErr error
	for _, m := range models {
		text, inTokens, outTokens, err = c.call(ctx, m, prompt, opts)
		if err == nil {
			return text, m, inTokens, outTokens, nil
		}
		lastErr = err
	}
	return "", "", 0, 0, fmt.Errorf("all models exhausted, last error: %w", lastErr)
}

func (c *Client) call(ctx context.Context, model, prompt string, opts CallOptions) (string, int, int, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	config := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		temp := opts.Temperature
		config.Temperature = &temp
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = opts.MaxTokens
	}
	if opts.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = opts.ResponseSchema
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", 0, 0, fmt.Errorf("generating content with %s: %w", model, err)
	}

	text := resp.Text()
	if text == "" {
		return "", 0, 0, fmt.Errorf("empty response from %s", model)
	}

	inTokens := cost.EstimateTokenCount(prompt)
	outTokens := cost.EstimateTokenCount(text)
	if resp.UsageMetadata != nil {
		inTokens = int(resp.UsageMetadata.PromptTokenCount)
		outTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return text, inTokens, outTokens, nil
}

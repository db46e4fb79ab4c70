// Package llm turns track metadata into platform search queries using a language model.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"nexstream/internal/core"
)

const (
	queryCacheSize = 256
	// MinConfidence is the lowest model confidence whose query is used.
	MinConfidence = 50
)

// ErrNotConfigured is returned by the no-op client.
var ErrNotConfigured = errors.New("LLM provider not configured")

const systemPrompt = `Act as a Professional Music Query Architect.
Your task is to create a high-precision YouTube search query that finds the official upload of one
specific recording.

Respond with a JSON object in this exact format:
{"query": "Artist Title Topic", "confidence": 90}

Rules:
1. confidence is an integer between 0 and 100
2. Include the ISRC in the query when one is verified
3. Prefer the official artist channel or "Topic" upload over covers, live versions and remixes
4. Return JSON only`

type Provider struct {
	config *core.LLMConfig
	logger *zap.Logger
	client LLMClient
	cache  *lru.Cache[string, string]
}

// LLMClient sends one system and user prompt pair and returns the raw completion text.
type LLMClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// QueryRefinement is the JSON document the model answers with.
type QueryRefinement struct {
	Query      string  `json:"query"`
	Confidence float64 `json:"confidence"`
}

func NewProvider(config *core.LLMConfig, logger *zap.Logger) (*Provider, error) {
	var client LLMClient
	var err error

	switch config.Provider {
	case "openai":
		client, err = NewOpenAIClient(config, logger)
	case "anthropic":
		client, err = NewAnthropicClient(config, logger)
	case "ollama":
		client, err = NewOllamaClient(config, logger)
	case "none", "":
		client = &NoOpClient{}
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", config.Provider, err)
	}

	return newProviderWithClient(config, logger, client), nil
}

func newProviderWithClient(config *core.LLMConfig, logger *zap.Logger, client LLMClient) *Provider {
	cache, _ := lru.New[string, string](queryCacheSize)
	return &Provider{
		config: config,
		logger: logger,
		client: client,
		cache:  cache,
	}
}

// Enabled reports whether a real model is configured.
func (p *Provider) Enabled() bool {
	_, noop := p.client.(*NoOpClient)
	return !noop
}

// GenerateQuery asks the model for a search query. Answers are cached per title and artist.
func (p *Provider) GenerateQuery(ctx context.Context, meta core.TrackMetadata) (string, error) {
	if strings.TrimSpace(meta.Title) == "" {
		return "", errors.New("empty title provided")
	}

	key := strings.ToLower(meta.Title + "-" + meta.Artist)
	if query, ok := p.cache.Get(key); ok {
		return query, nil
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	content, err := p.client.Complete(ctx, systemPrompt, buildUserPrompt(meta))
	if err != nil {
		return "", err
	}

	refinement, err := parseQueryRefinement(content)
	if err != nil {
		p.logger.Debug("Failed to parse LLM response", zap.Error(err), zap.String("content", content))
		return "", err
	}
	if refinement.Confidence < MinConfidence {
		return "", fmt.Errorf("low confidence query %q (%.0f)", refinement.Query, refinement.Confidence)
	}

	p.logger.Debug("Semantic query generated",
		zap.String("title", meta.Title),
		zap.String("query", refinement.Query),
		zap.Float64("confidence", refinement.Confidence))

	p.cache.Add(key, refinement.Query)
	return refinement.Query, nil
}

func buildUserPrompt(meta core.TrackMetadata) string {
	isrc := meta.ISRC
	if isrc == "" {
		isrc = "NONE"
	}
	return fmt.Sprintf(`DATA: Title: %q, Artist: %q, Album: %q, Year: %q, VERIFIED_ISRC: %q, Duration: %ds`,
		meta.Title, meta.Artist, meta.Album, meta.Year, isrc, int64(math.Round(float64(meta.DurationMs)/1000)))
}

// parseQueryRefinement decodes a model answer, tolerating markdown code fences.
func parseQueryRefinement(content string) (*QueryRefinement, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var refinement QueryRefinement
	if err := json.Unmarshal([]byte(content), &refinement); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response: %w", err)
	}
	if strings.TrimSpace(refinement.Query) == "" {
		return nil, errors.New("LLM response has no query")
	}
	return &refinement, nil
}

type NoOpClient struct{}

func (n *NoOpClient) Complete(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}

package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/workspaced/internal/config"
)

const enrichPrompt = `You classify developer code-search queries.
Query: %q
Regex classifier suggests intent %q with confidence %.2f.
Respond with JSON only:
{"intent":"search|understand|refactor|debug|optimize|implement|document|explain","confidence":0.0,"extra_terms":["..."]}`

// LLMEnricher refines parsed queries through an OpenAI-compatible chat
// endpoint. Any failure is reported as an error and the caller keeps the
// regex result.
type LLMEnricher struct {
	llm llms.Model
	cfg config.EnrichmentConfig
}

// NewLLMEnricher dials the configured endpoint. Returns (nil, nil) when
// enrichment is disabled so callers can pass the result straight to New.
func NewLLMEnricher(cfg config.EnrichmentConfig) (*LLMEnricher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey.IsSet() {
		opts = append(opts, openai.WithToken(cfg.APIKey.Value()))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("enricher: %w", err)
	}
	return &LLMEnricher{llm: llm, cfg: cfg}, nil
}

// Enrich asks the model to confirm or override the regex classification.
func (e *LLMEnricher) Enrich(ctx context.Context, parsed *ParsedQuery) (*Enrichment, error) {
	prompt := fmt.Sprintf(enrichPrompt, parsed.Original, parsed.Intent, parsed.Confidence)
	out, err := llms.GenerateFromSinglePrompt(ctx, e.llm, prompt, llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("enricher: %w", err)
	}
	return parseEnrichment(out)
}

// parseEnrichment extracts the first JSON object from model output, which
// may be wrapped in prose or code fences.
func parseEnrichment(out string) (*Enrichment, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("enricher: no JSON object in response")
	}
	var raw struct {
		Intent     string   `json:"intent"`
		Confidence float64  `json:"confidence"`
		ExtraTerms []string `json:"extra_terms"`
	}
	if err := json.Unmarshal([]byte(out[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("enricher: %w", err)
	}
	intent := Intent(raw.Intent)
	if !validIntent(intent) {
		return nil, fmt.Errorf("enricher: unknown intent %q", raw.Intent)
	}
	return &Enrichment{Intent: intent, Confidence: raw.Confidence, ExtraTerms: raw.ExtraTerms}, nil
}

func validIntent(i Intent) bool {
	for _, known := range intentOrder {
		if i == known {
			return true
		}
	}
	return false
}

package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
)

// OpenAIConfig holds configuration for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	// BaseURL is the API base URL. Works for OpenAI and for any
	// OpenAI-compatible gateway.
	BaseURL string

	// Model is the embedding model to use.
	Model string

	// APIKey is the API key. Optional for self-hosted gateways.
	APIKey string

	// Dimension overrides automatic dimension detection when non-zero.
	Dimension int
}

// ApplyDefaults fills unset fields with defaults.
func (c *OpenAIConfig) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
}

// Validate checks the configuration.
func (c OpenAIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// OpenAIClient generates embeddings through langchaingo's OpenAI client.
type OpenAIClient struct {
	embedder  *embeddings.EmbedderImpl
	config    OpenAIConfig
	log       *zap.Logger
	metrics   *Metrics
	dimension int
}

// NewOpenAIClient creates an embedding client for an OpenAI-compatible API.
func NewOpenAIClient(cfg OpenAIConfig, log *zap.Logger) (*OpenAIClient, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token; self-hosted gateways ignore it
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	dim := cfg.Dimension
	if dim == 0 {
		dim = DefaultDimension(cfg.Model)
	}

	return &OpenAIClient{
		embedder:  embedder,
		config:    cfg,
		log:       log.Named("embeddings.openai"),
		metrics:   NewMetrics(log),
		dimension: dim,
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (o *OpenAIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		o.metrics.RecordGeneration(ctx, o.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		return nil, genErr
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (o *OpenAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		o.metrics.RecordGeneration(ctx, o.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vector, err := o.embedder.EmbedQuery(ctx, text)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		return nil, genErr
	}
	return vector, nil
}

// Dimension returns the embedding dimension for the configured model.
func (o *OpenAIClient) Dimension() int {
	return o.dimension
}

// ModelID returns the configured model identifier.
func (o *OpenAIClient) ModelID() string {
	return o.config.Model
}

// Health probes the endpoint with a minimal embedding request.
func (o *OpenAIClient) Health(ctx context.Context) vectorstore.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	if _, err := o.embedder.EmbedQuery(ctx, "ping"); err != nil {
		return vectorstore.HealthStatus{
			State:   vectorstore.HealthUnreachable,
			Latency: time.Since(start),
			Detail:  err.Error(),
		}
	}
	return vectorstore.HealthStatus{State: vectorstore.HealthHealthy, Latency: time.Since(start)}
}

// Close is a no-op; the client is stateless HTTP.
func (o *OpenAIClient) Close() error {
	return nil
}

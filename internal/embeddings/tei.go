package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
)

// TEIConfig holds configuration for the TEI HTTP provider.
type TEIConfig struct {
	// BaseURL is the TEI server base URL.
	BaseURL string

	// Model is the embedding model identifier. TEI serves one model per
	// instance; the value is used for dimension detection and metrics.
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Dimension overrides automatic dimension detection when non-zero.
	Dimension int

	// Timeout bounds each HTTP attempt.
	Timeout time.Duration

	// MaxRetries is the number of attempts per batch.
	MaxRetries int

	// RetryBaseDelay is the backoff before the second attempt; it doubles
	// per attempt with jitter.
	RetryBaseDelay time.Duration

	// MaxBatch caps the number of inputs per request.
	MaxBatch int

	// MaxInputChars truncates longer inputs before sending.
	MaxInputChars int

	// RequestsPerSecond rate-limits requests. Zero means unlimited.
	RequestsPerSecond float64
}

// ApplyDefaults fills unset fields with defaults.
func (c *TEIConfig) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.MaxBatch == 0 {
		c.MaxBatch = 32
	}
	if c.MaxInputChars == 0 {
		c.MaxInputChars = 8192
	}
}

// Validate checks the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be >= 1, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("%w: retry base delay must be >= 0, got %s", ErrInvalidConfig, c.RetryBaseDelay)
	}
	if c.MaxBatch < 1 {
		return fmt.Errorf("%w: max batch must be >= 1, got %d", ErrInvalidConfig, c.MaxBatch)
	}
	if c.MaxInputChars < 1 {
		return fmt.Errorf("%w: max input chars must be >= 1, got %d", ErrInvalidConfig, c.MaxInputChars)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests per second must be >= 0, got %f", ErrInvalidConfig, c.RequestsPerSecond)
	}
	return nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// httpStatusError carries a non-200 response for retry classification.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// isRetryable reports whether an embed attempt is worth retrying.
func isRetryable(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status == http.StatusRequestTimeout ||
			se.status == http.StatusTooManyRequests ||
			se.status >= http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// TEIClient generates embeddings against a Text Embeddings Inference server.
type TEIClient struct {
	config    TEIConfig
	client    *http.Client
	log       *zap.Logger
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	metrics   *Metrics
	dimension int
}

// NewTEIClient creates a TEI embedding client.
func NewTEIClient(cfg TEIConfig, log *zap.Logger) (*TEIClient, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	dim := cfg.Dimension
	if dim == 0 {
		dim = DefaultDimension(cfg.Model)
	}

	limit := rate.Inf
	burst := 0
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(math.Ceil(cfg.RequestsPerSecond))
		if burst < 1 {
			burst = 1
		}
	}

	t := &TEIClient{
		config:    cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		log:       log.Named("embeddings.tei"),
		limiter:   rate.NewLimiter(limit, burst),
		metrics:   NewMetrics(log),
		dimension: dim,
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embeddings-tei",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return t, nil
}

// EmbedDocuments generates embeddings for multiple texts, batching up to
// MaxBatch inputs per request.
func (t *TEIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "embeddings.tei.embed_documents",
		trace.WithAttributes(
			attribute.String("model", t.config.Model),
			attribute.Int("batch.size", len(texts)),
		))
	defer span.End()

	start := time.Now()
	var genErr error
	defer func() {
		t.metrics.RecordGeneration(ctx, t.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		span.SetStatus(codes.Error, "empty input")
		return nil, genErr
	}

	inputs := t.truncateAll(texts)

	vectors := make([][]float32, 0, len(inputs))
	for offset := 0; offset < len(inputs); offset += t.config.MaxBatch {
		end := min(offset+t.config.MaxBatch, len(inputs))
		batch, err := t.embed(ctx, inputs[offset:end])
		if err != nil {
			genErr = err
			span.RecordError(err)
			span.SetStatus(codes.Error, "embed failed")
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	span.SetStatus(codes.Ok, "success")
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (t *TEIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "embeddings.tei.embed_query",
		trace.WithAttributes(attribute.String("model", t.config.Model)))
	defer span.End()

	start := time.Now()
	var genErr error
	defer func() {
		t.metrics.RecordGeneration(ctx, t.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		span.SetStatus(codes.Error, "empty input")
		return nil, genErr
	}

	vectors, err := t.embed(ctx, t.truncateAll([]string{text}))
	if err != nil {
		genErr = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "success")
	return vectors[0], nil
}

// embed sends one batch with rate limiting, circuit breaking, and retries.
func (t *TEIClient) embed(ctx context.Context, batch []string) ([][]float32, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	backoff := t.config.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt < t.config.MaxRetries; attempt++ {
		result, err := t.breaker.Execute(func() (any, error) {
			return t.post(ctx, batch)
		})
		if err == nil {
			return result.([][]float32), nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker open", ErrEmbeddingUnavailable)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			return nil, err
		}
		if attempt == t.config.MaxRetries-1 {
			break
		}

		delay := backoff/2 + rand.N(backoff)
		t.log.Warn("embed attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: after %d attempts: %v", ErrEmbeddingUnavailable, t.config.MaxRetries, lastErr)
}

// post performs one embed request.
func (t *TEIClient) post(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: batch, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), len(batch))
	}
	return vectors, nil
}

// truncateAll bounds inputs to MaxInputChars, logging once per call.
func (t *TEIClient) truncateAll(texts []string) []string {
	limit := t.config.MaxInputChars
	out := texts
	truncated := 0
	for i, text := range texts {
		if len(text) <= limit {
			continue
		}
		if truncated == 0 {
			out = make([]string, len(texts))
			copy(out, texts)
		}
		out[i] = truncateUTF8(text, limit)
		truncated++
	}
	if truncated > 0 {
		t.log.Warn("inputs truncated",
			zap.Int("count", truncated),
			zap.Int("max_chars", limit),
		)
	}
	return out
}

// truncateUTF8 cuts s to at most limit bytes on a rune boundary.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Dimension returns the embedding dimension for the configured model.
func (t *TEIClient) Dimension() int {
	return t.dimension
}

// ModelID returns the configured model identifier.
func (t *TEIClient) ModelID() string {
	return t.config.Model
}

// Health probes the TEI health endpoint.
func (t *TEIClient) Health(ctx context.Context) vectorstore.HealthStatus {
	if state := t.breaker.State(); state != gobreaker.StateClosed {
		return vectorstore.HealthStatus{
			State:  vectorstore.HealthDegraded,
			Detail: "circuit breaker " + state.String(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.config.BaseURL+"/health", nil)
	if err != nil {
		return vectorstore.HealthStatus{State: vectorstore.HealthUnreachable, Detail: err.Error()}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return vectorstore.HealthStatus{
			State:   vectorstore.HealthUnreachable,
			Latency: time.Since(start),
			Detail:  err.Error(),
		}
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return vectorstore.HealthStatus{
			State:   vectorstore.HealthDegraded,
			Latency: time.Since(start),
			Detail:  fmt.Sprintf("status %d", resp.StatusCode),
		}
	}
	return vectorstore.HealthStatus{State: vectorstore.HealthHealthy, Latency: time.Since(start)}
}

// Close releases idle connections.
func (t *TEIClient) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/vectorstore"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is the embedding model to use.
	// Supported: BAAI/bge-small-en-v1.5 (default), BAAI/bge-base-en-v1.5,
	// sentence-transformers/all-MiniLM-L6-v2, etc.
	Model string

	// CacheDir is the directory to cache model files.
	// Defaults to ~/.cache/workspaced/models.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// modelMapping maps friendly model names to fastembed model constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	// Also accept the fastembed model names directly
	"fast-bge-small-en-v1.5": fastembed.BGESmallENV15,
	"fast-bge-small-en":      fastembed.BGESmallEN,
	"fast-bge-base-en-v1.5":  fastembed.BGEBaseENV15,
	"fast-bge-base-en":       fastembed.BGEBaseEN,
	"fast-bge-small-zh-v1.5": fastembed.BGESmallZH,
	"fast-all-MiniLM-L6-v2":  fastembed.AllMiniLML6V2,
}

// modelDimensions maps fastembed models to their embedding dimensions.
var modelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.BGESmallZH:    512,
	fastembed.AllMiniLML6V2: 384,
}

// fastEmbedModelDimension returns dimensions for known FastEmbed models.
func fastEmbedModelDimension(model string) (int, bool) {
	if m, ok := modelMapping[model]; ok {
		return modelDimensions[m], true
	}
	dim, ok := modelDimensions[fastembed.EmbeddingModel(model)]
	return dim, ok
}

// FastEmbedClient generates embeddings using local ONNX models.
type FastEmbedClient struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	log       *zap.Logger
	metrics   *Metrics
	mu        sync.RWMutex
}

// NewFastEmbedClient creates a local embedding client, downloading the ONNX
// runtime and model files on first use.
func NewFastEmbedClient(cfg FastEmbedConfig, log *zap.Logger) (*FastEmbedClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("embeddings.fastembed")

	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-small-en-v1.5"
	}
	model, ok := modelMapping[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
		if _, known := modelDimensions[model]; !known {
			return nil, fmt.Errorf("%w: unsupported model %q (supported: BAAI/bge-small-en-v1.5, BAAI/bge-base-en-v1.5, sentence-transformers/all-MiniLM-L6-v2)", ErrInvalidConfig, cfg.Model)
		}
	}

	libPath, err := EnsureONNXRuntime(context.Background(), log)
	if err != nil {
		return nil, err
	}
	if err := setONNXPathEnv(libPath); err != nil {
		return nil, fmt.Errorf("setting ONNX_PATH: %w", err)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cacheDir = filepath.Join(home, ".cache", "workspaced", "models")
		} else {
			cacheDir = "local_cache"
		}
	}

	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}

	// No progress bars in server logs
	showProgress := false

	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing FastEmbed: %w", err)
	}

	log.Info("fastembed model loaded",
		zap.String("model", cfg.Model),
		zap.Int("dimension", modelDimensions[model]),
		zap.String("cache_dir", cacheDir),
	)

	return &FastEmbedClient{
		model:     flagEmbed,
		modelName: cfg.Model,
		dimension: modelDimensions[model],
		log:       log,
		metrics:   NewMetrics(log),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
// Uses the "passage: " prefix recommended by BGE models.
func (p *FastEmbedClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.modelName, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}
	if err := ctx.Err(); err != nil {
		genErr = err
		return nil, genErr
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vectors, err := p.model.PassageEmbed(texts, 256)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
// Uses the "query: " prefix recommended by BGE models.
func (p *FastEmbedClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.modelName, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}
	if err := ctx.Err(); err != nil {
		genErr = err
		return nil, genErr
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vector, err := p.model.QueryEmbed(text)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	return vector, nil
}

// Dimension returns the embedding dimension for the current model.
func (p *FastEmbedClient) Dimension() int {
	return p.dimension
}

// ModelID returns the configured model identifier.
func (p *FastEmbedClient) ModelID() string {
	return p.modelName
}

// Health reports healthy while the local model is loaded.
func (p *FastEmbedClient) Health(_ context.Context) vectorstore.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return vectorstore.HealthStatus{State: vectorstore.HealthUnreachable, Detail: "model not loaded"}
	}
	return vectorstore.HealthStatus{State: vectorstore.HealthHealthy}
}

// Close releases the ONNX session.
func (p *FastEmbedClient) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		return p.model.Destroy()
	}
	return nil
}

package embeddings

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/config"
)

// New builds the configured embedding provider, wrapped with the LRU cache
// unless cache_entries is negative.
func New(cfg config.EmbeddingConfig, log *zap.Logger) (Client, error) {
	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case "tei", "":
		client, err = NewTEIClient(TEIConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			APIKey:            cfg.APIKey.Value(),
			Dimension:         cfg.Dimension,
			Timeout:           cfg.Timeout,
			MaxRetries:        cfg.MaxRetries,
			RetryBaseDelay:    cfg.RetryBaseDelay,
			MaxBatch:          cfg.MaxBatch,
			MaxInputChars:     cfg.MaxInputChars,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, log)
	case "fastembed":
		client, err = NewFastEmbedClient(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		}, log)
	case "openai":
		client, err = NewOpenAIClient(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
		}, log)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheEntries > 0 {
		client = NewCached(client, CachedConfig{
			Entries:  cfg.CacheEntries,
			Compress: cfg.CompressCache,
		}, log)
	}
	return client, nil
}

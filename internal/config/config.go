// Package config provides configuration loading for workspaced.
//
// Configuration is assembled from three layers, highest precedence first:
// environment variables, an optional YAML file, and hardcoded defaults.
// Defaults produce a working single-project setup with no manual tuning:
// embedded chromem vector store, TEI embedding endpoint on localhost, no
// Redis (L1-only caching), no NATS.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/workspaced/internal/logging"
)

// Config holds the complete workspaced configuration.
type Config struct {
	Logging      logging.Config     `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Workspace    WorkspaceConfig    `koanf:"workspace"`
	Embedding    EmbeddingConfig    `koanf:"embedding"`
	VectorStore  VectorStoreConfig  `koanf:"vectorstore"`
	Redis        RedisConfig        `koanf:"redis"`
	Cache        CacheConfig        `koanf:"cache"`
	Analyzer     AnalyzerConfig     `koanf:"analyzer"`
	Indexer      IndexerConfig      `koanf:"indexer"`
	Watcher      WatcherConfig      `koanf:"watcher"`
	Search       SearchConfig       `koanf:"search"`
	Ranking      RankingConfig      `koanf:"ranking"`
	Invalidation InvalidationConfig `koanf:"invalidation"`
	Secrets      SecretsConfig      `koanf:"secrets"`
	Server       ServerConfig       `koanf:"server"`
	NATS         NATSConfig         `koanf:"nats"`
}

// TelemetryConfig holds OTLP trace export settings. Disabled by default.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // "grpc" or "http"
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

// WorkspaceConfig locates the workspace document.
type WorkspaceConfig struct {
	Path string `koanf:"path"`
}

// EmbeddingConfig holds embedding client settings.
type EmbeddingConfig struct {
	Provider          string        `koanf:"provider"` // tei | fastembed | openai
	BaseURL           string        `koanf:"base_url"`
	Model             string        `koanf:"model"`
	Dimension         int           `koanf:"dimension"` // 0 = derive from model
	APIKey            Secret        `koanf:"api_key"`
	Timeout           time.Duration `koanf:"timeout"`
	MaxRetries        int           `koanf:"max_retries"`
	RetryBaseDelay    time.Duration `koanf:"retry_base_delay"`
	MaxBatch          int           `koanf:"max_batch"`
	MaxInputChars     int           `koanf:"max_input_chars"`
	RequestsPerSecond float64       `koanf:"requests_per_second"` // 0 = unlimited
	CacheEntries      int           `koanf:"cache_entries"`
	CompressCache     bool          `koanf:"compress_cache"`
	CacheDir          string        `koanf:"cache_dir"` // fastembed model cache
}

// VectorStoreConfig selects and tunes the vector store provider.
type VectorStoreConfig struct {
	Provider      string        `koanf:"provider"` // chromem | qdrant
	SearchTimeout time.Duration `koanf:"search_timeout"`
	Qdrant        QdrantConfig  `koanf:"qdrant"`
	Chromem       ChromemConfig `koanf:"chromem"`
}

// QdrantConfig holds connection settings for an external Qdrant server.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// ChromemConfig holds settings for the embedded chromem store.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// RedisConfig holds the shared cache connection. Disabled means the query
// cache runs L1-only and L3 precompute is unavailable.
type RedisConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Addr         string        `koanf:"addr"`
	Password     Secret        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	PoolSize     int           `koanf:"pool_size"`
}

// CacheConfig tunes the three query cache tiers.
type CacheConfig struct {
	L1                L1Config      `koanf:"l1"`
	L2                L2Config      `koanf:"l2"`
	L3                L3Config      `koanf:"l3"`
	FillWait          time.Duration `koanf:"fill_wait"`
	RecentFilesPrefix int           `koanf:"recent_files_prefix"`
}

// L1Config tunes the in-process tier.
type L1Config struct {
	MaxBytes   int64         `koanf:"max_bytes"`
	MaxEntries int           `koanf:"max_entries"`
	TTL        time.Duration `koanf:"ttl"`
}

// L2Config tunes the shared Redis tier.
type L2Config struct {
	TTL      time.Duration `koanf:"ttl"`
	Keyspace string        `koanf:"keyspace"`
}

// L3Config tunes the precomputed tier.
type L3Config struct {
	MinTTL   time.Duration `koanf:"min_ttl"`
	Keyspace string        `koanf:"keyspace"`
}

// AnalyzerConfig tunes the query analyzer.
type AnalyzerConfig struct {
	MaxQueryLen   int              `koanf:"max_query_len"`
	MaxExpansions int              `koanf:"max_expansions"`
	CacheEntries  int              `koanf:"cache_entries"`
	Enrichment    EnrichmentConfig `koanf:"enrichment"`
}

// EnrichmentConfig enables optional LLM-backed query enrichment.
type EnrichmentConfig struct {
	Enabled       bool          `koanf:"enabled"`
	BaseURL       string        `koanf:"base_url"`
	Model         string        `koanf:"model"`
	APIKey        Secret        `koanf:"api_key"`
	Timeout       time.Duration `koanf:"timeout"`
	MinConfidence float64       `koanf:"min_confidence"`
}

// IndexerConfig tunes the indexing pipeline.
type IndexerConfig struct {
	Workers       int           `koanf:"workers"`
	QueueCapacity int           `koanf:"queue_capacity"`
	MaxFileSize   int64         `koanf:"max_file_size"`
	FileTimeout   time.Duration `koanf:"file_timeout"`
	WindowLines   int           `koanf:"window_lines"`
	OverlapLines  int           `koanf:"overlap_lines"`

	// IgnoreFiles names the gitignore-style files read from each project
	// root. Empty uses the ignore package defaults.
	IgnoreFiles []string `koanf:"ignore_files"`
}

// WatcherConfig tunes filesystem watching.
type WatcherConfig struct {
	Debounce        time.Duration `koanf:"debounce"`
	ChannelCapacity int           `koanf:"channel_capacity"`
	RescanInterval  time.Duration `koanf:"rescan_interval"`
}

// SearchConfig tunes the orchestrator.
type SearchConfig struct {
	MaxConcurrent             int           `koanf:"max_concurrent"`
	FanoutMultiplier          int           `koanf:"fanout_multiplier"`
	EarlyTerminationThreshold float64       `koanf:"early_termination_threshold"`
	DefaultLimit              int           `koanf:"default_limit"`
	MaxLimit                  int           `koanf:"max_limit"`
	QueryTimeout              time.Duration `koanf:"query_timeout"`
	StreamBatchSize           int           `koanf:"stream_batch_size"`
}

// RankingConfig holds scoring weights and toggles.
type RankingConfig struct {
	Weights            RankingWeights `koanf:"weights"`
	ProximityEnabled   bool           `koanf:"proximity_enabled"`
	EntityMatchEnabled bool           `koanf:"entity_match_enabled"`
	MinScore           float64        `koanf:"min_score"`
	RecencyWindowDays  int            `koanf:"recency_window_days"`
}

// RankingWeights are the per-signal weights of the context ranker.
type RankingWeights struct {
	VectorSimilarity  float64 `koanf:"vector_similarity"`
	ProjectPriority   float64 `koanf:"project_priority"`
	RelationshipBoost float64 `koanf:"relationship_boost"`
	Recency           float64 `koanf:"recency"`
	ExactMatch        float64 `koanf:"exact_match"`
	Proximity         float64 `koanf:"proximity"`
	EntityMatch       float64 `koanf:"entity_match"`
}

// InvalidationConfig tunes cache invalidation.
type InvalidationConfig struct {
	Debounce   time.Duration `koanf:"debounce"`
	BatchSize  int           `koanf:"batch_size"`
	MaxRetries int           `koanf:"max_retries"`
}

// SecretsConfig tunes the pre-index secret scrubber. Scrubbing is on by
// default so credentials never reach the embedding service or the store.
type SecretsConfig struct {
	Disabled      bool     `koanf:"disabled"`
	AllowRegexes  []string `koanf:"allow_regexes"`
	AllowlistPath string   `koanf:"allowlist_path"`
}

// ServerConfig tunes the ops HTTP server.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// NATSConfig enables the cross-instance invalidation bus.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging = *logging.NewDefaultConfig()
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
		cfg.Telemetry.Insecure = true
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "workspaced"
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1.0
	}

	if cfg.Workspace.Path == "" {
		cfg.Workspace.Path = "workspace.yaml"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "tei"
	}
	if cfg.Embedding.BaseURL == "" {
		if cfg.Embedding.Provider == "openai" {
			cfg.Embedding.BaseURL = "https://api.openai.com/v1"
		} else {
			cfg.Embedding.BaseURL = "http://localhost:8080"
		}
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 10 * time.Second
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.RetryBaseDelay == 0 {
		cfg.Embedding.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.Embedding.MaxBatch == 0 {
		cfg.Embedding.MaxBatch = 32
	}
	if cfg.Embedding.MaxInputChars == 0 {
		cfg.Embedding.MaxInputChars = 8192
	}
	if cfg.Embedding.CacheEntries == 0 {
		cfg.Embedding.CacheEntries = 4096
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.SearchTimeout == 0 {
		cfg.VectorStore.SearchTimeout = 2 * time.Second
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/workspaced/vectorstore"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}

	if cfg.Cache.L1.MaxBytes == 0 {
		cfg.Cache.L1.MaxBytes = 100 << 20 // 100 MiB
	}
	if cfg.Cache.L1.MaxEntries == 0 {
		cfg.Cache.L1.MaxEntries = 10000
	}
	if cfg.Cache.L1.TTL == 0 {
		cfg.Cache.L1.TTL = 5 * time.Minute
	}
	if cfg.Cache.L2.TTL == 0 {
		cfg.Cache.L2.TTL = time.Hour
	}
	if cfg.Cache.L2.Keyspace == "" {
		cfg.Cache.L2.Keyspace = "ws:l2:v1"
	}
	if cfg.Cache.L3.MinTTL == 0 {
		cfg.Cache.L3.MinTTL = 24 * time.Hour
	}
	if cfg.Cache.L3.Keyspace == "" {
		cfg.Cache.L3.Keyspace = "ws:l3:v1"
	}
	if cfg.Cache.FillWait == 0 {
		cfg.Cache.FillWait = 100 * time.Millisecond
	}
	if cfg.Cache.RecentFilesPrefix == 0 {
		cfg.Cache.RecentFilesPrefix = 8
	}

	if cfg.Analyzer.MaxQueryLen == 0 {
		cfg.Analyzer.MaxQueryLen = 1024
	}
	if cfg.Analyzer.MaxExpansions == 0 {
		cfg.Analyzer.MaxExpansions = 8
	}
	if cfg.Analyzer.CacheEntries == 0 {
		cfg.Analyzer.CacheEntries = 512
	}
	if cfg.Analyzer.Enrichment.Timeout == 0 {
		cfg.Analyzer.Enrichment.Timeout = 5 * time.Second
	}
	if cfg.Analyzer.Enrichment.MinConfidence == 0 {
		cfg.Analyzer.Enrichment.MinConfidence = 0.8
	}

	if cfg.Indexer.Workers == 0 {
		cfg.Indexer.Workers = 4
	}
	if cfg.Indexer.QueueCapacity == 0 {
		cfg.Indexer.QueueCapacity = 1024
	}
	if cfg.Indexer.MaxFileSize == 0 {
		cfg.Indexer.MaxFileSize = 1 << 20 // 1 MiB
	}
	if cfg.Indexer.FileTimeout == 0 {
		cfg.Indexer.FileTimeout = 30 * time.Second
	}
	if cfg.Indexer.WindowLines == 0 {
		cfg.Indexer.WindowLines = 40
	}
	if cfg.Indexer.OverlapLines == 0 {
		cfg.Indexer.OverlapLines = 4
	}

	if cfg.Watcher.Debounce == 0 {
		cfg.Watcher.Debounce = 250 * time.Millisecond
	}
	if cfg.Watcher.ChannelCapacity == 0 {
		cfg.Watcher.ChannelCapacity = 256
	}
	if cfg.Watcher.RescanInterval == 0 {
		cfg.Watcher.RescanInterval = 5 * time.Minute
	}

	if cfg.Search.MaxConcurrent == 0 {
		cfg.Search.MaxConcurrent = 10
	}
	if cfg.Search.FanoutMultiplier == 0 {
		cfg.Search.FanoutMultiplier = 3
	}
	if cfg.Search.EarlyTerminationThreshold == 0 {
		cfg.Search.EarlyTerminationThreshold = 0.95
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.QueryTimeout == 0 {
		cfg.Search.QueryTimeout = 5 * time.Second
	}
	if cfg.Search.StreamBatchSize == 0 {
		cfg.Search.StreamBatchSize = 5
	}

	if cfg.Ranking.Weights == (RankingWeights{}) {
		cfg.Ranking.Weights = DefaultRankingWeights()
	}
	if cfg.Ranking.RecencyWindowDays == 0 {
		cfg.Ranking.RecencyWindowDays = 30
	}

	if cfg.Invalidation.Debounce == 0 {
		cfg.Invalidation.Debounce = 2 * time.Second
	}
	if cfg.Invalidation.BatchSize == 0 {
		cfg.Invalidation.BatchSize = 50
	}
	if cfg.Invalidation.MaxRetries == 0 {
		cfg.Invalidation.MaxRetries = 3
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":9090"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "workspaced.invalidation.v1"
	}
}

// DefaultRankingWeights returns the stock signal weights.
func DefaultRankingWeights() RankingWeights {
	return RankingWeights{
		VectorSimilarity:  1.0,
		ProjectPriority:   0.3,
		RelationshipBoost: 0.2,
		Recency:           0.1,
		ExactMatch:        0.5,
		Proximity:         0.2,
		EntityMatch:       0.3,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("telemetry protocol must be 'grpc' or 'http', got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample_ratio must be in [0,1], got %v", c.Telemetry.SampleRatio)
	}

	if c.Workspace.Path == "" {
		return fmt.Errorf("workspace path cannot be empty")
	}

	switch c.Embedding.Provider {
	case "tei", "fastembed", "openai":
	default:
		return fmt.Errorf("embedding provider must be tei, fastembed, or openai, got %q", c.Embedding.Provider)
	}
	if c.Embedding.MaxRetries < 1 {
		return fmt.Errorf("embedding max_retries must be >= 1, got %d", c.Embedding.MaxRetries)
	}
	if c.Embedding.MaxBatch < 1 {
		return fmt.Errorf("embedding max_batch must be >= 1, got %d", c.Embedding.MaxBatch)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore provider must be chromem or qdrant, got %q", c.VectorStore.Provider)
	}
	if p := c.VectorStore.Qdrant.Port; p < 1 || p > 65535 {
		return fmt.Errorf("invalid qdrant port: %d (must be 1-65535)", p)
	}

	if c.Cache.L1.MaxBytes < 1<<20 {
		return fmt.Errorf("cache l1 max_bytes must be >= 1 MiB, got %d", c.Cache.L1.MaxBytes)
	}
	if c.Cache.L3.MinTTL < 24*time.Hour {
		return fmt.Errorf("cache l3 min_ttl must be >= 24h, got %s", c.Cache.L3.MinTTL)
	}
	if c.Cache.RecentFilesPrefix < 0 {
		return fmt.Errorf("cache recent_files_prefix must be >= 0")
	}

	if c.Indexer.Workers < 1 {
		return fmt.Errorf("indexer workers must be >= 1, got %d", c.Indexer.Workers)
	}
	if c.Indexer.OverlapLines >= c.Indexer.WindowLines {
		return fmt.Errorf("indexer overlap_lines (%d) must be < window_lines (%d)",
			c.Indexer.OverlapLines, c.Indexer.WindowLines)
	}

	if c.Search.MaxConcurrent < 1 {
		return fmt.Errorf("search max_concurrent must be >= 1, got %d", c.Search.MaxConcurrent)
	}
	if c.Search.FanoutMultiplier < 1 {
		return fmt.Errorf("search fanout_multiplier must be >= 1, got %d", c.Search.FanoutMultiplier)
	}
	if t := c.Search.EarlyTerminationThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("search early_termination_threshold must be in (0,1], got %v", t)
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search default_limit (%d) exceeds max_limit (%d)",
			c.Search.DefaultLimit, c.Search.MaxLimit)
	}

	w := c.Ranking.Weights
	for name, v := range map[string]float64{
		"vector_similarity":  w.VectorSimilarity,
		"project_priority":   w.ProjectPriority,
		"relationship_boost": w.RelationshipBoost,
		"recency":            w.Recency,
		"exact_match":        w.ExactMatch,
		"proximity":          w.Proximity,
		"entity_match":       w.EntityMatch,
	} {
		if v < 0 {
			return fmt.Errorf("ranking weight %s must be >= 0, got %v", name, v)
		}
	}

	if c.Invalidation.BatchSize < 1 {
		return fmt.Errorf("invalidation batch_size must be >= 1, got %d", c.Invalidation.BatchSize)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown_timeout must be positive")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats url required when nats is enabled")
	}

	return nil
}

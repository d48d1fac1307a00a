package config

import (
	"strings"
	"testing"
	"time"
)

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// TestApplyDefaults spot-checks the default tree.
func TestApplyDefaults(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = true, want false by default")
	}
	if cfg.Telemetry.Protocol != "grpc" {
		t.Errorf("Telemetry.Protocol = %q, want grpc", cfg.Telemetry.Protocol)
	}
	if cfg.Workspace.Path != "workspace.yaml" {
		t.Errorf("Workspace.Path = %q, want workspace.yaml", cfg.Workspace.Path)
	}
	if cfg.Embedding.Provider != "tei" {
		t.Errorf("Embedding.Provider = %q, want tei", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Timeout != 10*time.Second {
		t.Errorf("Embedding.Timeout = %s, want 10s", cfg.Embedding.Timeout)
	}
	if cfg.Embedding.MaxRetries != 3 {
		t.Errorf("Embedding.MaxRetries = %d, want 3", cfg.Embedding.MaxRetries)
	}
	if cfg.Embedding.RetryBaseDelay != 200*time.Millisecond {
		t.Errorf("Embedding.RetryBaseDelay = %s, want 200ms", cfg.Embedding.RetryBaseDelay)
	}
	if cfg.VectorStore.SearchTimeout != 2*time.Second {
		t.Errorf("VectorStore.SearchTimeout = %s, want 2s", cfg.VectorStore.SearchTimeout)
	}
	if cfg.VectorStore.Qdrant.Port != 6334 {
		t.Errorf("Qdrant.Port = %d, want 6334", cfg.VectorStore.Qdrant.Port)
	}
	if cfg.Cache.L2.Keyspace != "ws:l2:v1" {
		t.Errorf("Cache.L2.Keyspace = %q, want ws:l2:v1", cfg.Cache.L2.Keyspace)
	}
	if cfg.Cache.L3.Keyspace != "ws:l3:v1" {
		t.Errorf("Cache.L3.Keyspace = %q, want ws:l3:v1", cfg.Cache.L3.Keyspace)
	}
	if cfg.Cache.L1.TTL != 5*time.Minute {
		t.Errorf("Cache.L1.TTL = %s, want 5m", cfg.Cache.L1.TTL)
	}
	if cfg.Cache.L2.TTL != time.Hour {
		t.Errorf("Cache.L2.TTL = %s, want 1h", cfg.Cache.L2.TTL)
	}
	if cfg.Indexer.WindowLines != 40 || cfg.Indexer.OverlapLines != 4 {
		t.Errorf("Indexer window/overlap = %d/%d, want 40/4",
			cfg.Indexer.WindowLines, cfg.Indexer.OverlapLines)
	}
	if cfg.Search.EarlyTerminationThreshold != 0.95 {
		t.Errorf("Search.EarlyTerminationThreshold = %v, want 0.95", cfg.Search.EarlyTerminationThreshold)
	}
	if cfg.Search.FanoutMultiplier != 3 {
		t.Errorf("Search.FanoutMultiplier = %d, want 3", cfg.Search.FanoutMultiplier)
	}
	if cfg.Search.QueryTimeout != 5*time.Second {
		t.Errorf("Search.QueryTimeout = %s, want 5s", cfg.Search.QueryTimeout)
	}
	if cfg.Ranking.RecencyWindowDays != 30 {
		t.Errorf("Ranking.RecencyWindowDays = %d, want 30", cfg.Ranking.RecencyWindowDays)
	}
	if cfg.Invalidation.BatchSize != 50 {
		t.Errorf("Invalidation.BatchSize = %d, want 50", cfg.Invalidation.BatchSize)
	}
	if cfg.NATS.Subject != "workspaced.invalidation.v1" {
		t.Errorf("NATS.Subject = %q, want workspaced.invalidation.v1", cfg.NATS.Subject)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want :9090", cfg.Server.Addr)
	}
}

// TestDefaultRankingWeights pins the stock signal weights.
func TestDefaultRankingWeights(t *testing.T) {
	w := DefaultRankingWeights()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"vector_similarity", w.VectorSimilarity, 1.0},
		{"project_priority", w.ProjectPriority, 0.3},
		{"relationship_boost", w.RelationshipBoost, 0.2},
		{"recency", w.Recency, 0.1},
		{"exact_match", w.ExactMatch, 0.5},
		{"proximity", w.Proximity, 0.2},
		{"entity_match", w.EntityMatch, 0.3},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("weight %s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

// TestConfigValidate exercises the validation rules.
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad telemetry protocol",
			mutate:  func(c *Config) { c.Telemetry.Protocol = "udp" },
			wantErr: "telemetry protocol",
		},
		{
			name:    "sample ratio out of range",
			mutate:  func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
			wantErr: "sample_ratio",
		},
		{
			name:    "unknown embedding provider",
			mutate:  func(c *Config) { c.Embedding.Provider = "cohere" },
			wantErr: "embedding provider",
		},
		{
			name:    "unknown vectorstore provider",
			mutate:  func(c *Config) { c.VectorStore.Provider = "pinecone" },
			wantErr: "vectorstore provider",
		},
		{
			name:    "qdrant port out of range",
			mutate:  func(c *Config) { c.VectorStore.Qdrant.Port = 70000 },
			wantErr: "qdrant port",
		},
		{
			name:    "l1 too small",
			mutate:  func(c *Config) { c.Cache.L1.MaxBytes = 1024 },
			wantErr: "l1 max_bytes",
		},
		{
			name:    "l3 ttl below floor",
			mutate:  func(c *Config) { c.Cache.L3.MinTTL = time.Hour },
			wantErr: "l3 min_ttl",
		},
		{
			name:    "overlap not smaller than window",
			mutate:  func(c *Config) { c.Indexer.OverlapLines = 40 },
			wantErr: "overlap_lines",
		},
		{
			name:    "early termination above one",
			mutate:  func(c *Config) { c.Search.EarlyTerminationThreshold = 1.2 },
			wantErr: "early_termination_threshold",
		},
		{
			name:    "default limit above max",
			mutate:  func(c *Config) { c.Search.DefaultLimit = 200 },
			wantErr: "default_limit",
		},
		{
			name:    "negative ranking weight",
			mutate:  func(c *Config) { c.Ranking.Weights.Recency = -0.1 },
			wantErr: "must be >= 0",
		},
		{
			name:    "nats enabled without url",
			mutate:  func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" },
			wantErr: "nats url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

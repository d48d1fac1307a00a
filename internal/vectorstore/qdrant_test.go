package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestQdrantConfigApplyDefaults(t *testing.T) {
	var cfg QdrantConfig
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 32<<20, cfg.MaxMessageSize)
	assert.Equal(t, 2*time.Second, cfg.SearchTimeout)
}

func TestQdrantConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*QdrantConfig)
		wantErr string
	}{
		{"defaults valid", func(c *QdrantConfig) {}, ""},
		{"port too low", func(c *QdrantConfig) { c.Port = -1 }, "port"},
		{"port too high", func(c *QdrantConfig) { c.Port = 70000 }, "port"},
		{"negative retries", func(c *QdrantConfig) { c.MaxRetries = -1 }, "max retries"},
		{"zero backoff", func(c *QdrantConfig) { c.RetryBackoff = 0 }, "retry backoff"},
		{"zero search timeout", func(c *QdrantConfig) { c.SearchTimeout = 0 }, "search timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg QdrantConfig
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateCollectionName(t *testing.T) {
	valid := []string{"project_api_vectors", "a", "p_123", "x9_y"}
	for _, name := range valid {
		assert.NoError(t, ValidateCollectionName(name), name)
	}

	invalid := []string{"", "Upper", "has-dash", "has.dot", "has space", "schema;drop"}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateCollectionName(name), ErrInvalidCollectionName, name)
	}
}

func TestIsTransientError(t *testing.T) {
	transient := []error{
		status.Error(grpccodes.Unavailable, "connection refused"),
		status.Error(grpccodes.Aborted, "conflict"),
		status.Error(grpccodes.ResourceExhausted, "quota"),
		status.Error(grpccodes.DeadlineExceeded, "slow"),
	}
	for _, err := range transient {
		assert.True(t, IsTransientError(err), err.Error())
	}

	permanent := []error{
		nil,
		status.Error(grpccodes.NotFound, "missing"),
		status.Error(grpccodes.InvalidArgument, "bad vector"),
		context.Canceled,
		context.DeadlineExceeded,
		assert.AnError,
	}
	for _, err := range permanent {
		assert.False(t, IsTransientError(err))
	}
}

func TestPointIDDeterministic(t *testing.T) {
	a := pointID("3f786850e387550fdab836ed7e6dc881de23001b")
	b := pointID("3f786850e387550fdab836ed7e6dc881de23001b")
	c := pointID("89e6c98d92887913cadf06b2adb97f26cde4849b")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestQdrantFilterTranslation(t *testing.T) {
	assert.Nil(t, qdrantFilter(nil))
	assert.Nil(t, qdrantFilter(&Filter{FileTypes: []string{"go"}}))

	f := qdrantFilter(&Filter{
		ProjectID: "api",
		FilePath:  "main.go",
		Languages: []string{"Go", "python"},
	})
	require.NotNil(t, f)
	require.Len(t, f.Must, 3)

	assert.Equal(t, "project_id", f.Must[0].GetField().GetKey())
	assert.Equal(t, "api", f.Must[0].GetField().GetMatch().GetKeyword())
	assert.Equal(t, "file_path", f.Must[1].GetField().GetKey())
	assert.Equal(t, "language", f.Must[2].GetField().GetKey())
	assert.Equal(t, []string{"go", "python"}, f.Must[2].GetField().GetMatch().GetKeywords().GetStrings())
}

func TestQdrantPayloadRoundTrip(t *testing.T) {
	item := Item{
		ID:     "chunk_a",
		Vector: []float32{1, 0},
		Payload: Payload{
			ProjectID:    "api",
			FilePath:     "internal/server/http.go",
			Language:     "go",
			ChunkIndex:   2,
			LineStart:    81,
			LineEnd:      120,
			Content:      "func route() {}",
			ModifiedTime: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			IndexedTime:  time.Date(2026, 3, 10, 12, 5, 0, 0, time.UTC),
			ContentHash:  "abc123",
		},
	}

	values := qdrantPayload(item)
	id, payload := payloadFromQdrant(values)

	assert.Equal(t, "chunk_a", id)
	assert.Equal(t, item.Payload, payload)
}

func TestQdrantPayloadZeroTimes(t *testing.T) {
	values := qdrantPayload(Item{ID: "x", Payload: Payload{ProjectID: "api"}})
	assert.Equal(t, "", values["modified_time"].GetStringValue())

	_, payload := payloadFromQdrant(values)
	assert.True(t, payload.ModifiedTime.IsZero())
	assert.True(t, payload.IndexedTime.IsZero())
}

func TestSortKeywordHits(t *testing.T) {
	hits := []Hit{
		{ID: "low", Score: 0.25, Payload: Payload{FilePath: "a.go"}},
		{ID: "tie_b", Score: 0.5, Payload: Payload{FilePath: "b.go"}},
		{ID: "high", Score: 1, Payload: Payload{FilePath: "z.go"}},
		{ID: "tie_a", Score: 0.5, Payload: Payload{FilePath: "a.go"}},
	}
	sortKeywordHits(hits)

	ids := []string{hits[0].ID, hits[1].ID, hits[2].ID, hits[3].ID}
	assert.Equal(t, []string{"high", "tie_a", "tie_b", "low"}, ids)
}

func TestKeywordConditionShapes(t *testing.T) {
	text := textCondition("content", "token")
	assert.Equal(t, "token", text.GetField().GetMatch().GetText())

	kw := keywordCondition("project_id", "api")
	assert.Equal(t, "api", kw.GetField().GetMatch().GetKeyword())
}

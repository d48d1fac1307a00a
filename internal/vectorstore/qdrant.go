package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// tracer for OpenTelemetry instrumentation of the Qdrant provider.
var tracer = otel.Tracer("workspaced.vectorstore.qdrant")

// maxSearchK caps k to keep a single search from exhausting the server.
const maxSearchK = 10000

// keywordScrollLimit caps how many candidate points a keyword scroll pulls
// back for client-side scoring.
const keywordScrollLimit = 1024

// QdrantConfig holds configuration for the Qdrant gRPC provider.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port. Default: 6334
	Port int

	// APIKey authenticates against a secured server. Optional.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the number of retries after the first attempt for
	// transient errors. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt with jitter.
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxMessageSize bounds gRPC send/receive message sizes in bytes.
	// Default: 32 MiB
	MaxMessageSize int

	// SearchTimeout bounds a single search call. Default: 2s
	SearchTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 32 << 20
	}
	if c.SearchTimeout == 0 {
		c.SearchTimeout = 2 * time.Second
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("%w: retry backoff must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	if c.SearchTimeout <= 0 {
		return fmt.Errorf("%w: search timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.Aborted, grpccodes.ResourceExhausted, grpccodes.DeadlineExceeded:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// QdrantStore implements Store against an external Qdrant server over gRPC.
//
// Every call runs inside a circuit breaker and retries transient gRPC codes
// with jittered exponential backoff. Collection existence is memoized so the
// hot indexing path does not re-check per batch.
type QdrantStore struct {
	client  *qdrant.Client
	config  QdrantConfig
	log     *zap.Logger
	breaker *gobreaker.CircuitBreaker

	// collections caches names known to exist.
	collections sync.Map
}

// NewQdrantStore creates a QdrantStore and verifies connectivity.
func NewQdrantStore(cfg QdrantConfig, log *zap.Logger) (*QdrantStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !cfg.UseTLS {
		log.Warn("qdrant gRPC using plaintext, enable TLS for production",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
		)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client: client,
		config: cfg,
		log:    log.Named("qdrant"),
	}
	store.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vectorstore-qdrant",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			store.log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	return store, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// do runs one store operation through the circuit breaker with retries on
// transient errors, recording metrics either way.
func (s *QdrantStore) do(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	err := s.withRetry(ctx, operation, fn)
	observeOp("qdrant", operation, start, err)
	return err
}

func (s *QdrantStore) withRetry(ctx context.Context, operation string, fn func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		_, err := s.breaker.Execute(func() (any, error) {
			return nil, fn()
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s: %w: circuit breaker open", operation, ErrConnectionFailed)
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s: %w", operation, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operation, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operation, ctx.Err())
		case <-time.After(backoff/2 + rand.N(backoff)):
			backoff *= 2
		}
	}
}

// Upsert writes items into a collection. Point ids are derived
// deterministically from the item id so replays converge on the same points.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, items []Item) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("item_count", len(items)),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(items))
	for i, it := range items {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(it.ID)),
			Vectors: qdrant.NewVectors(it.Vector...),
			Payload: qdrantPayload(it),
		}
	}

	err := s.do(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points into %s: %w", len(items), collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteByPath removes every chunk of one file in one project.
func (s *QdrantStore) DeleteByPath(ctx context.Context, collection, projectID, path string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteByPath")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("project_id", projectID),
		attribute.String("file_path", path),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		keywordCondition(fieldProjectID, projectID),
		keywordCondition(fieldFilePath, path),
	}}

	err := s.do(ctx, "delete_by_path", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		if err != nil && isNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting %s from %s: %w", path, collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// IDsByPath lists the stored chunk ids for one file in one project via a
// filtered scroll. The content-addressed id lives in the payload; the
// point uuid is only its hash.
func (s *QdrantStore) IDsByPath(ctx context.Context, collection, projectID, path string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.IDsByPath")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("project_id", projectID),
		attribute.String("file_path", path),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		keywordCondition(fieldProjectID, projectID),
		keywordCondition(fieldFilePath, path),
	}}

	var points []*qdrant.RetrievedPoint
	err := s.do(ctx, "ids_by_path", func() error {
		res, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(keywordScrollLimit)),
			WithPayload:    qdrant.NewWithPayloadInclude(fieldID),
		})
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing ids for %s in %s: %w", path, collection, err)
	}

	ids := make([]string, 0, len(points))
	for _, point := range points {
		if id := point.Payload[fieldID].GetStringValue(); id != "" {
			ids = append(ids, id)
		}
	}

	span.SetAttributes(attribute.Int("result_count", len(ids)))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Search returns the k nearest points to vector, best first.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.SearchTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if k > maxSearchK {
		k = maxSearchK
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	residual := filter.residual(true)
	fetch := k
	if residual != nil {
		// Over-fetch so client-side filtering still fills k results.
		fetch = min(k*4, maxSearchK)
	}

	var points []*qdrant.ScoredPoint
	var missing bool
	err := s.do(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(fetch)),
			Filter:         qdrantFilter(filter),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			if isNotFound(err) {
				missing = true
				return nil
			}
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}
	if missing {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		id, payload := payloadFromQdrant(point.Payload)
		if id == "" {
			id = point.GetId().GetUuid()
		}
		if !residual.Matches(payload) {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: point.GetScore(), Payload: payload})
		if len(hits) == k {
			break
		}
	}

	span.SetAttributes(attribute.Int("result_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// KeywordSearch scrolls points whose content matches any query term and
// scores them by term overlap. It backs degraded mode when embeddings are
// unavailable.
func (s *QdrantStore) KeywordSearch(ctx context.Context, collection, needle string, k int, filter *Filter) ([]Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.SearchTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "QdrantStore.KeywordSearch")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	terms := keywordTerms(needle)
	if len(terms) == 0 {
		return nil, nil
	}

	scroll := qdrantFilter(filter)
	if scroll == nil {
		scroll = &qdrant.Filter{}
	}
	for _, term := range terms {
		scroll.Should = append(scroll.Should, textCondition(fieldContent, term))
	}

	limit := min(max(k*4, k), keywordScrollLimit)

	var points []*qdrant.RetrievedPoint
	var missing bool
	err := s.do(ctx, "keyword_search", func() error {
		res, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         scroll,
			Limit:          qdrant.PtrOf(uint32(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			if isNotFound(err) {
				missing = true
				return nil
			}
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("keyword search in %s: %w", collection, err)
	}
	if missing {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	residual := filter.residual(true)
	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		id, payload := payloadFromQdrant(point.Payload)
		if id == "" {
			id = point.GetId().GetUuid()
		}
		if !residual.Matches(payload) {
			continue
		}
		score := keywordScore(payload.Content, terms)
		if score == 0 {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: score, Payload: payload})
	}
	sortKeywordHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}

	span.SetAttributes(attribute.Int("result_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// EnsureCollection creates a collection with cosine distance if missing.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("dimension", dim),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dim)
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return s.checkDimension(ctx, name, dim)
	}

	err = s.do(ctx, "ensure_collection", func() error {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			// Lost a creation race, verify dimension below.
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.AlreadyExists {
				return nil
			}
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	if err := s.checkDimension(ctx, name, dim); err != nil {
		return err
	}

	s.collections.Store(name, true)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// checkDimension verifies an existing collection carries the wanted vector
// size.
func (s *QdrantStore) checkDimension(ctx context.Context, name string, dim int) error {
	var got uint64
	err := s.do(ctx, "collection_info", func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return err
		}
		if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
			got = params.GetSize()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("inspecting collection %s: %w", name, err)
	}
	if got != 0 && got != uint64(dim) {
		return fmt.Errorf("%w: collection %s has dimension %d, want %d", ErrDimensionMismatch, name, got, dim)
	}
	return nil
}

// DropCollection deletes a collection. Missing collections are not an error.
func (s *QdrantStore) DropCollection(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DropCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	err := s.do(ctx, "drop_collection", func() error {
		err := s.client.DeleteCollection(ctx, name)
		if err != nil && isNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("dropping collection %s: %w", name, err)
	}

	s.collections.Delete(name)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionExists reports whether a collection exists, memoizing positives.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}

	if _, ok := s.collections.Load(name); ok {
		return true, nil
	}

	var exists bool
	err := s.do(ctx, "collection_exists", func() error {
		ok, err := s.client.CollectionExists(ctx, name)
		if err != nil {
			return err
		}
		exists = ok
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", name, err)
	}

	if exists {
		s.collections.Store(name, true)
	}
	return exists, nil
}

// Count returns the exact number of points in a collection.
func (s *QdrantStore) Count(ctx context.Context, name string) (uint64, error) {
	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}

	var count uint64
	var missing bool
	err := s.do(ctx, "count", func() error {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			if isNotFound(err) {
				missing = true
				return nil
			}
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", name, err)
	}
	if missing {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return count, nil
}

// Health probes the server and folds in circuit breaker state.
func (s *QdrantStore) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	_, err := s.client.HealthCheck(ctx)
	latency := time.Since(start)

	st := HealthStatus{State: HealthHealthy, Latency: latency}
	switch {
	case err != nil:
		st.State = HealthUnreachable
		st.Detail = err.Error()
	case s.breaker.State() != gobreaker.StateClosed:
		st.State = HealthDegraded
		st.Detail = fmt.Sprintf("circuit breaker %s", s.breaker.State())
	}

	observeHealth("qdrant", st.State)
	return st
}

// pointID derives a stable UUID from a content-addressed item id. Qdrant
// point ids must be UUIDs or integers; the original id is preserved in the
// payload for retrieval.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func keywordsCondition(key string, values []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{
						Keywords: &qdrant.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}

func textCondition(key, text string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Text{Text: text},
				},
			},
		},
	}
}

// qdrantFilter translates the pushable part of a filter to Qdrant
// conditions. FileTypes and Authors stay client side, see Filter.residual.
func qdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	var must []*qdrant.Condition
	if f.ProjectID != "" {
		must = append(must, keywordCondition(fieldProjectID, f.ProjectID))
	}
	if f.FilePath != "" {
		must = append(must, keywordCondition(fieldFilePath, f.FilePath))
	}
	if len(f.Languages) > 0 {
		// Indexed payloads carry lowercased languages.
		langs := make([]string, len(f.Languages))
		for i, l := range f.Languages {
			langs[i] = strings.ToLower(l)
		}
		must = append(must, keywordsCondition(fieldLanguage, langs))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func qdrantPayload(it Item) map[string]*qdrant.Value {
	p := it.Payload
	return map[string]*qdrant.Value{
		fieldID:           stringValue(it.ID),
		fieldProjectID:    stringValue(p.ProjectID),
		fieldFilePath:     stringValue(p.FilePath),
		fieldLanguage:     stringValue(p.Language),
		fieldChunkIndex:   intValue(p.ChunkIndex),
		fieldLineStart:    intValue(p.LineStart),
		fieldLineEnd:      intValue(p.LineEnd),
		fieldContent:      stringValue(p.Content),
		fieldModifiedTime: stringValue(formatTime(p.ModifiedTime)),
		fieldCommitTime:   stringValue(formatTime(p.CommitTime)),
		fieldAuthor:       stringValue(p.Author),
		fieldIndexedTime:  stringValue(formatTime(p.IndexedTime)),
		fieldContentHash:  stringValue(p.ContentHash),
	}
}

func payloadFromQdrant(values map[string]*qdrant.Value) (string, Payload) {
	if values == nil {
		return "", Payload{}
	}
	p := Payload{
		ProjectID:    values[fieldProjectID].GetStringValue(),
		FilePath:     values[fieldFilePath].GetStringValue(),
		Language:     values[fieldLanguage].GetStringValue(),
		ChunkIndex:   int(values[fieldChunkIndex].GetIntegerValue()),
		LineStart:    int(values[fieldLineStart].GetIntegerValue()),
		LineEnd:      int(values[fieldLineEnd].GetIntegerValue()),
		Content:      values[fieldContent].GetStringValue(),
		ModifiedTime: parseTime(values[fieldModifiedTime].GetStringValue()),
		CommitTime:   parseTime(values[fieldCommitTime].GetStringValue()),
		Author:       values[fieldAuthor].GetStringValue(),
		IndexedTime:  parseTime(values[fieldIndexedTime].GetStringValue()),
		ContentHash:  values[fieldContentHash].GetStringValue(),
	}
	return values[fieldID].GetStringValue(), p
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(i int) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(i)}}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// sortKeywordHits orders keyword hits by score descending, then file path
// ascending for stable output.
func sortKeywordHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Payload.FilePath < hits[j].Payload.FilePath
	})
}

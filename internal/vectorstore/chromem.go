package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation of the embedded provider.
var chromemTracer = otel.Tracer("workspaced.vectorstore.chromem")

// keywordScanLimit caps how many documents a chromem keyword search pulls
// back for client-side scoring.
const keywordScanLimit = 4096

// ChromemConfig holds configuration for the embedded chromem-go provider.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/workspaced/vectorstore"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the workspace embedding dimension, used to synthesize
	// probe vectors for keyword scans. Default: 384
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/workspaced/vectorstore"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store using chromem-go, an embeddable vector
// database with no external service. It is the dev-mode default: data
// persists to gob files under the configured directory.
//
// All vectors are precomputed by the caller, so the chromem embedding hook
// is a stub that rejects any attempt to embed.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	log    *zap.Logger

	// dims remembers each collection's vector dimension for probe vectors
	// and upsert validation. Rebuilt lazily after a restart.
	dims sync.Map
}

// NewChromemStore creates a ChromemStore with persistence under cfg.Path.
func NewChromemStore(cfg ChromemConfig, log *zap.Logger) (*ChromemStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandHome(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db: %w", err)
	}

	store := &ChromemStore{
		db:     db,
		config: cfg,
		log:    log.Named("chromem"),
	}

	store.log.Info("chromem store initialized",
		zap.String("path", path),
		zap.Bool("compress", cfg.Compress),
		zap.Int("vector_size", cfg.VectorSize),
	)
	return store, nil
}

// expandHome expands a leading ~ to the user home directory.
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Close is a no-op: chromem persists on write.
func (s *ChromemStore) Close() error {
	return nil
}

// rejectEmbed is installed as the chromem embedding hook. The store is
// vector-in, so reaching it means a caller forgot to precompute.
func rejectEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectors must be precomputed, embedding hook disabled")
}

func (s *ChromemStore) collection(name string) *chromem.Collection {
	return s.db.GetCollection(name, rejectEmbed)
}

// Upsert writes items into a collection, creating it on first use.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, items []Item) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("item_count", len(items)),
	)

	start := time.Now()
	err := s.upsert(ctx, collection, items)
	observeOp("chromem", "upsert", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemStore) upsert(ctx context.Context, collection string, items []Item) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	for _, it := range items {
		if len(it.Vector) == 0 {
			return fmt.Errorf("item %s has no vector", it.ID)
		}
		if err := s.checkDim(collection, len(it.Vector)); err != nil {
			return err
		}
	}

	col, err := s.db.GetOrCreateCollection(collection, nil, rejectEmbed)
	if err != nil {
		return fmt.Errorf("opening collection %s: %w", collection, err)
	}

	docs := make([]chromem.Document, len(items))
	for i, it := range items {
		docs[i] = chromem.Document{
			ID:        it.ID,
			Metadata:  metaFromPayload(it.Payload),
			Embedding: it.Vector,
			Content:   it.Payload.Content,
		}
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("adding %d documents to %s: %w", len(docs), collection, err)
	}
	return nil
}

// checkDim records the first observed dimension per collection and rejects
// later conflicts.
func (s *ChromemStore) checkDim(collection string, dim int) error {
	prev, loaded := s.dims.LoadOrStore(collection, dim)
	if loaded && prev.(int) != dim {
		return fmt.Errorf("%w: collection %s has dimension %d, want %d", ErrDimensionMismatch, collection, prev.(int), dim)
	}
	return nil
}

// DeleteByPath removes every chunk of one file in one project.
func (s *ChromemStore) DeleteByPath(ctx context.Context, collection, projectID, path string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByPath")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("project_id", projectID),
		attribute.String("file_path", path),
	)

	start := time.Now()
	err := s.deleteByPath(ctx, collection, projectID, path)
	observeOp("chromem", "delete_by_path", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemStore) deleteByPath(ctx context.Context, collection, projectID, path string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	col := s.collection(collection)
	if col == nil {
		return nil
	}
	where := map[string]string{
		fieldProjectID: projectID,
		fieldFilePath:  path,
	}
	if err := col.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("deleting %s from %s: %w", path, collection, err)
	}
	return nil
}

// IDsByPath lists the stored chunk ids for one file in one project.
func (s *ChromemStore) IDsByPath(ctx context.Context, collection, projectID, path string) ([]string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.IDsByPath")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("project_id", projectID),
		attribute.String("file_path", path),
	)

	start := time.Now()
	ids, err := s.idsByPath(ctx, collection, projectID, path)
	observeOp("chromem", "ids_by_path", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("result_count", len(ids)))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

func (s *ChromemStore) idsByPath(ctx context.Context, collection, projectID, path string) ([]string, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	col := s.collection(collection)
	if col == nil {
		return nil, nil
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	// chromem has no enumeration API, so scan via a probe query the same
	// way keyword search does, restricted to the file's documents.
	probe := make([]float32, s.probeDim(collection))
	probe[0] = 1
	where := map[string]string{
		fieldProjectID: projectID,
		fieldFilePath:  path,
	}
	results, err := col.QueryEmbedding(ctx, probe, min(count, keywordScanLimit), where, nil)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", collection, err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// Search returns the k nearest documents to vector, best first.
func (s *ChromemStore) Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
	)

	start := time.Now()
	hits, err := s.search(ctx, collection, vector, k, filter)
	observeOp("chromem", "search", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("result_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func (s *ChromemStore) search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	col := s.collection(collection)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	where, pushedLanguages := chromemWhere(filter)
	residual := filter.residual(pushedLanguages)

	fetch := k
	if residual != nil {
		fetch = k * 4
	}
	// chromem rejects result counts above the document count.
	fetch = min(fetch, count)

	results, err := col.QueryEmbedding(ctx, vector, fetch, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		payload := payloadFromMeta(r.Metadata, r.Content)
		if !residual.Matches(payload) {
			continue
		}
		hits = append(hits, Hit{ID: r.ID, Score: r.Similarity, Payload: payload})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// KeywordSearch scans stored documents and scores them by term overlap. It
// backs degraded mode when embeddings are unavailable.
func (s *ChromemStore) KeywordSearch(ctx context.Context, collection, needle string, k int, filter *Filter) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.KeywordSearch")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
	)

	start := time.Now()
	hits, err := s.keywordSearch(ctx, collection, needle, k, filter)
	observeOp("chromem", "keyword_search", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("result_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func (s *ChromemStore) keywordSearch(ctx context.Context, collection, needle string, k int, filter *Filter) ([]Hit, error) {
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

	col := s.collection(collection)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	// chromem has no enumeration API, so scan via a probe query against a
	// basis vector and rescore by term overlap.
	probe := make([]float32, s.probeDim(collection))
	probe[0] = 1

	where, pushedLanguages := chromemWhere(filter)
	residual := filter.residual(pushedLanguages)

	results, err := col.QueryEmbedding(ctx, probe, min(count, keywordScanLimit), where, nil)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		payload := payloadFromMeta(r.Metadata, r.Content)
		if !residual.Matches(payload) {
			continue
		}
		score := keywordScore(payload.Content, terms)
		if score == 0 {
			continue
		}
		hits = append(hits, Hit{ID: r.ID, Score: score, Payload: payload})
	}
	sortKeywordHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// probeDim returns the known dimension for a collection, falling back to the
// configured workspace dimension after a restart.
func (s *ChromemStore) probeDim(collection string) int {
	if dim, ok := s.dims.Load(collection); ok {
		return dim.(int)
	}
	return s.config.VectorSize
}

// EnsureCollection creates a collection if missing. chromem stores vectors
// per document, so the dimension is recorded for probe synthesis and
// validated on upsert.
func (s *ChromemStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.EnsureCollection")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("dimension", dim),
	)

	start := time.Now()
	err := s.ensureCollection(name, dim)
	observeOp("chromem", "ensure_collection", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemStore) ensureCollection(name string, dim int) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dim)
	}
	if err := s.checkDim(name, dim); err != nil {
		return err
	}
	if _, err := s.db.GetOrCreateCollection(name, nil, rejectEmbed); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// DropCollection deletes a collection. Missing collections are not an error.
func (s *ChromemStore) DropCollection(ctx context.Context, name string) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.DropCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", name))

	start := time.Now()
	err := s.dropCollection(name)
	observeOp("chromem", "drop_collection", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemStore) dropCollection(name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if s.collection(name) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("dropping collection %s: %w", name, err)
	}
	s.dims.Delete(name)
	return nil
}

// CollectionExists reports whether a collection exists.
func (s *ChromemStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := ValidateCollectionName(name); err != nil {
		return false, err
	}
	return s.collection(name) != nil, nil
}

// Count returns the number of documents in a collection.
func (s *ChromemStore) Count(ctx context.Context, name string) (uint64, error) {
	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}
	col := s.collection(name)
	if col == nil {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return uint64(col.Count()), nil
}

// Health reports on the embedded database. It is always reachable; latency
// covers a collection listing.
func (s *ChromemStore) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	s.db.ListCollections()
	st := HealthStatus{State: HealthHealthy, Latency: time.Since(start)}
	observeHealth("chromem", st.State)
	return st
}

// chromemWhere translates the pushable part of a filter to a chromem where
// clause. chromem supports exact metadata equality only, so language
// membership pushes down only for a single language.
func chromemWhere(f *Filter) (map[string]string, bool) {
	if f == nil {
		return nil, true
	}
	where := make(map[string]string)
	if f.ProjectID != "" {
		where[fieldProjectID] = f.ProjectID
	}
	if f.FilePath != "" {
		where[fieldFilePath] = f.FilePath
	}
	pushedLanguages := true
	switch len(f.Languages) {
	case 0:
	case 1:
		where[fieldLanguage] = strings.ToLower(f.Languages[0])
	default:
		pushedLanguages = false
	}
	if len(where) == 0 {
		return nil, pushedLanguages
	}
	return where, pushedLanguages
}

func metaFromPayload(p Payload) map[string]string {
	return map[string]string{
		fieldProjectID:    p.ProjectID,
		fieldFilePath:     p.FilePath,
		fieldLanguage:     p.Language,
		fieldChunkIndex:   strconv.Itoa(p.ChunkIndex),
		fieldLineStart:    strconv.Itoa(p.LineStart),
		fieldLineEnd:      strconv.Itoa(p.LineEnd),
		fieldModifiedTime: formatTime(p.ModifiedTime),
		fieldCommitTime:   formatTime(p.CommitTime),
		fieldAuthor:       p.Author,
		fieldIndexedTime:  formatTime(p.IndexedTime),
		fieldContentHash:  p.ContentHash,
	}
}

func payloadFromMeta(meta map[string]string, content string) Payload {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	return Payload{
		ProjectID:    meta[fieldProjectID],
		FilePath:     meta[fieldFilePath],
		Language:     meta[fieldLanguage],
		ChunkIndex:   atoi(meta[fieldChunkIndex]),
		LineStart:    atoi(meta[fieldLineStart]),
		LineEnd:      atoi(meta[fieldLineEnd]),
		Content:      content,
		ModifiedTime: parseTime(meta[fieldModifiedTime]),
		IndexedTime:  parseTime(meta[fieldIndexedTime]),
		ContentHash:  meta[fieldContentHash],
	}
}

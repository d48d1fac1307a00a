package vectorstore

import "time"

// Payload field keys as stored in the ANN store. Both providers write the
// same flat schema so collections stay portable between them.
const (
	fieldID           = "id"
	fieldProjectID    = "project_id"
	fieldFilePath     = "file_path"
	fieldLanguage     = "language"
	fieldChunkIndex   = "chunk_index"
	fieldLineStart    = "line_start"
	fieldLineEnd      = "line_end"
	fieldContent      = "content"
	fieldModifiedTime = "modified_time"
	fieldCommitTime   = "commit_time"
	fieldAuthor       = "author"
	fieldIndexedTime  = "indexed_time"
	fieldContentHash  = "content_hash"
)

// Payload is the metadata stored alongside each chunk vector. CommitTime
// and Author come from git enrichment and stay zero for files outside a
// repository.
type Payload struct {
	ProjectID    string
	FilePath     string
	Language     string
	ChunkIndex   int
	LineStart    int
	LineEnd      int
	Content      string
	ModifiedTime time.Time
	CommitTime   time.Time
	Author       string
	IndexedTime  time.Time
	ContentHash  string
}

// Item is one point to upsert: a content-addressed id, its embedding and the
// chunk payload.
type Item struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is one search result from a provider.
type Hit struct {
	ID      string
	Score   float32
	Payload Payload
}

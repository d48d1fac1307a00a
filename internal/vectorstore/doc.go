// Package vectorstore provides typed adapters over the ANN stores that hold
// chunk embeddings: an external Qdrant server (gRPC) and the embedded
// chromem-go database used in dev mode.
//
// The Store interface is vector-in: callers embed query text themselves and
// hand the adapter precomputed vectors. Payloads follow the chunk schema
// (project id, file path, line span, content, hashes, timestamps) so results
// can be ranked and deduplicated without a second lookup.
package vectorstore

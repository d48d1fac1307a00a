// Package embeddings provides embedding generation via multiple providers.
//
// Supports TEI (external HTTP service), FastEmbed (local ONNX, CGO builds
// only), and any OpenAI-compatible endpoint via langchaingo. A caching
// decorator avoids re-embedding identical inputs and can store vectors
// bfloat16-compressed. Factory pattern selects the provider at runtime with
// automatic dimension detection for common models.
package embeddings

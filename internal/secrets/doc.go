// Package secrets provides secret detection and redaction using gitleaks.
//
// File content passes through scrubbing before chunking and embedding so
// credentials never reach the embedding service or the vector store.
// Detected values are replaced with [REDACTED:rule-id] markers; findings
// keep rule IDs, positions, and counts but never the secret itself.
package secrets

// Package workspace models the multi-project workspace: projects with
// dependencies and indexing policy, typed relationships between them, and
// the search defaults shared by all queries.
//
// The workspace is loaded from a YAML document, validated as a whole, and
// published as an immutable Snapshot. Readers take a snapshot reference and
// keep it for the duration of one request; Reload parses and validates a
// shadow model and swaps the published pointer atomically, so a reader sees
// either the old or the new workspace, never a partial state.
package workspace

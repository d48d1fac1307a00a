// Package query analyzes natural-language code queries: intent
// classification, entity extraction, expansion and budget estimation.
// The pipeline is deterministic for a given query and workspace snapshot,
// which is a test contract the orchestrator and cache rely on.
package query

import "github.com/fyrsmithlabs/workspaced/internal/faults"

// Intent is the closed set of query intents.
type Intent string

const (
	IntentSearch     Intent = "search"
	IntentUnderstand Intent = "understand"
	IntentRefactor   Intent = "refactor"
	IntentDebug      Intent = "debug"
	IntentOptimize   Intent = "optimize"
	IntentImplement  Intent = "implement"
	IntentDocument   Intent = "document"
	IntentExplain    Intent = "explain"
)

// intentOrder is the fixed tie-break order for equal rule scores.
var intentOrder = []Intent{
	IntentSearch,
	IntentUnderstand,
	IntentRefactor,
	IntentDebug,
	IntentOptimize,
	IntentImplement,
	IntentDocument,
	IntentExplain,
}

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityFilePath   EntityType = "file_path"
	EntityIdentifier EntityType = "identifier"
	EntityError      EntityType = "error"
	EntityQuoted     EntityType = "quoted"
)

// Entity is one extracted query entity. Validated means the entity
// resolved against the workspace snapshot (a file path that exists under a
// project root).
type Entity struct {
	Type      EntityType `json:"type"`
	Value     string     `json:"value"`
	Validated bool       `json:"validated,omitempty"`
}

// ParsedQuery is the analyzer's output.
type ParsedQuery struct {
	Original      string   `json:"original"`
	Normalized    string   `json:"normalized"`
	Intent        Intent   `json:"intent"`
	Confidence    float64  `json:"confidence"`
	Entities      []Entity `json:"entities,omitempty"`
	ExpandedTerms []string `json:"expanded_terms,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	TokenBudget   int      `json:"token_budget"`
}

// Validation sentinels as faults, returned before any pipeline stage runs.
var (
	errQueryEmpty   = faults.Request(faults.CodeQueryEmpty, "query is empty")
	errQueryTooLong = faults.Request(faults.CodeQueryTooLong, "query exceeds maximum length")
)

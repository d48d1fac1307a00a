// Package ranking scores merged search results. The ranker is pure: the
// same request, candidates and clock always produce the same ordering,
// which lets the orchestrator cache ranked lists and replay them.
package ranking

import "time"

// Result is one ranked search result. RawScore is the adapter's cosine
// similarity; FinalScore and ConfidenceScore are filled in by Rank.
type Result struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	FilePath     string    `json:"file_path"`
	Language     string    `json:"language,omitempty"`
	LineStart    int       `json:"line_start"`
	LineEnd      int       `json:"line_end"`
	Snippet      string    `json:"snippet"`
	RawScore     float64   `json:"raw_score"`
	FinalScore   float64   `json:"final_score"`
	Confidence   float64   `json:"confidence_score"`
	ModifiedTime time.Time `json:"modified_time,omitempty"`
	Author       string    `json:"author,omitempty"`

	// Signals holds the per-signal breakdown, attached only when the
	// request asks for explanations.
	Signals map[string]Signal `json:"signals,omitempty"`
}

// Signal is one scored component of a result's final score.
type Signal struct {
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Signal names used in explanations and metrics.
const (
	SignalVectorSimilarity  = "vector_similarity"
	SignalProjectPriority   = "project_priority"
	SignalRelationshipBoost = "relationship_boost"
	SignalRecency           = "recency"
	SignalExactMatch        = "exact_match"
	SignalProximity         = "proximity"
	SignalEntityMatch       = "entity_match"
)

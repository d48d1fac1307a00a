package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// budget bases per intent, in tokens. Scaled by entity count and capped.
var intentBudgets = map[Intent]int{
	IntentSearch:     2000,
	IntentUnderstand: 4000,
	IntentRefactor:   6000,
	IntentDebug:      5000,
	IntentOptimize:   4000,
	IntentImplement:  6000,
	IntentDocument:   3000,
	IntentExplain:    3000,
}

const maxTokenBudget = 8000

// Enricher optionally refines a parsed query with model output. The
// analyzer calls it after the regex stages and merges conservatively.
type Enricher interface {
	Enrich(ctx context.Context, parsed *ParsedQuery) (*Enrichment, error)
}

// Enrichment is a model's suggested refinement.
type Enrichment struct {
	Intent     Intent
	Confidence float64
	ExtraTerms []string
}

// Analyzer runs the classification pipeline. Safe for concurrent use.
type Analyzer struct {
	cfg  config.AnalyzerConfig
	log  *logging.Logger
	dict *dictionary

	enricher Enricher

	// memo caches parsed queries per (normalized query, snapshot
	// generation). Entries are immutable once stored.
	memo *lru.Cache[string, *ParsedQuery]
}

// New builds an analyzer. enricher may be nil.
func New(cfg config.AnalyzerConfig, enricher Enricher, log *logging.Logger) (*Analyzer, error) {
	memo, err := lru.New[string, *ParsedQuery](cfg.CacheEntries)
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		cfg:      cfg,
		log:      log.Named("analyzer"),
		dict:     defaultDictionary,
		enricher: enricher,
		memo:     memo,
	}, nil
}

// Normalize applies the pinned query normalization: Unicode NFC, lowercase,
// whitespace runs collapsed to one space, trimmed. The cache fingerprint
// uses the same function, so changing it invalidates precomputed entries.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// Analyze runs the full pipeline. Deterministic for a given raw query and
// snapshot generation unless an enricher is configured.
func (a *Analyzer) Analyze(ctx context.Context, raw string, snap *workspace.Snapshot) (*ParsedQuery, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errQueryEmpty
	}
	if len(raw) > a.cfg.MaxQueryLen {
		return nil, errQueryTooLong
	}

	normalized := Normalize(raw)
	var generation uint64
	if snap != nil {
		generation = snap.Generation()
	}
	memoKey := fmt.Sprintf("%d|%s", generation, normalized)
	if cached, ok := a.memo.Get(memoKey); ok {
		return cached, nil
	}

	parsed := &ParsedQuery{
		Original:   raw,
		Normalized: normalized,
	}
	parsed.Intent, parsed.Confidence = classify(raw)
	parsed.Entities = extractEntities(raw, snap)
	parsed.Keywords = keywords(normalized)
	parsed.ExpandedTerms = a.expandTerms(parsed.Keywords)
	parsed.TokenBudget = estimateBudget(parsed.Intent, len(parsed.Entities))

	if a.enricher != nil {
		a.applyEnrichment(ctx, parsed)
	}

	a.memo.Add(memoKey, parsed)
	return parsed, nil
}

// classify scores every rule against the raw query. Ties break by the
// fixed intent order; no match defaults to explain at 0.5.
func classify(raw string) (Intent, float64) {
	scores := map[Intent]float64{}
	for _, rule := range intentRules {
		if rule.pattern.MatchString(raw) {
			scores[rule.intent] += rule.weight
		}
	}
	if len(scores) == 0 {
		return IntentExplain, 0.5
	}

	best := Intent("")
	bestScore := 0.0
	for _, intent := range intentOrder {
		if s, ok := scores[intent]; ok && s > bestScore {
			best, bestScore = intent, s
		}
	}

	// Confidence grows with the winning score and shrinks when other
	// intents also matched.
	total := 0.0
	for _, s := range scores {
		total += s
	}
	confidence := 0.6 + 0.3*(bestScore/(bestScore+1))
	if total > bestScore {
		confidence *= bestScore / total * 1.5
		if confidence > 0.95 {
			confidence = 0.95
		}
	}
	if confidence < 0.5 {
		confidence = 0.5
	}
	return best, confidence
}

// extractEntities pulls file paths, identifiers, error fragments and
// quoted strings out of the raw query, in stable order.
func extractEntities(raw string, snap *workspace.Snapshot) []Entity {
	var entities []Entity
	seen := map[string]bool{}
	add := func(t EntityType, value string, validated bool) {
		key := string(t) + "|" + value
		if value == "" || seen[key] {
			return
		}
		seen[key] = true
		entities = append(entities, Entity{Type: t, Value: value, Validated: validated})
	}

	for _, m := range filePathPattern.FindAllString(raw, -1) {
		add(EntityFilePath, m, fileExists(m, snap))
	}
	for _, m := range tracebackPattern.FindAllString(raw, -1) {
		add(EntityError, strings.TrimSpace(m), false)
	}
	for _, m := range errorPattern.FindAllString(raw, -1) {
		add(EntityError, m, false)
	}
	for _, groups := range quotedPattern.FindAllStringSubmatch(raw, -1) {
		value := groups[1]
		if value == "" {
			value = groups[2]
		}
		add(EntityQuoted, value, false)
	}
	for _, pattern := range []interface{ FindAllString(string, int) []string }{
		camelCasePattern, pascalCasePattern, snakeCasePattern, screamingSnakePattern,
	} {
		for _, m := range pattern.FindAllString(raw, -1) {
			if !seen[string(EntityFilePath)+"|"+m] {
				add(EntityIdentifier, m, false)
			}
		}
	}
	return entities
}

// fileExists resolves a path entity against the workspace project roots.
func fileExists(path string, snap *workspace.Snapshot) bool {
	if snap == nil {
		return false
	}
	if filepath.IsAbs(path) {
		_, err := os.Stat(path)
		return err == nil
	}
	for _, p := range snap.Projects() {
		if _, err := os.Stat(filepath.Join(p.Path, path)); err == nil {
			return true
		}
	}
	return false
}

// keywords are the normalized tokens minus stopwords, deduplicated in
// order of first occurrence.
func keywords(normalized string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tok := range strings.Fields(normalized) {
		tok = strings.Trim(tok, `"'.,;:!?()[]{}`)
		if tok == "" || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// expandTerms collects dictionary expansions for every keyword, capped at
// MaxExpansions, sorted for determinism.
func (a *Analyzer) expandTerms(kws []string) []string {
	seen := map[string]bool{}
	for _, kw := range kws {
		seen[kw] = true
	}
	var out []string
	for _, kw := range kws {
		for _, term := range a.dict.expand(kw) {
			if seen[term] {
				continue
			}
			seen[term] = true
			out = append(out, term)
			if len(out) >= a.cfg.MaxExpansions {
				sort.Strings(out)
				return out
			}
		}
	}
	sort.Strings(out)
	return out
}

// estimateBudget scales the per-intent base by entity count, capped.
func estimateBudget(intent Intent, entityCount int) int {
	base := intentBudgets[intent]
	budget := int(float64(base) * (1 + float64(entityCount)/4))
	if budget > maxTokenBudget {
		return maxTokenBudget
	}
	return budget
}

// applyEnrichment merges a model suggestion conservatively: the intent
// flips only above the configured confidence, extra terms append under
// the same expansion cap. Failures degrade to the regex result.
func (a *Analyzer) applyEnrichment(ctx context.Context, parsed *ParsedQuery) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Enrichment.Timeout)
	defer cancel()

	enr, err := a.enricher.Enrich(ctx, parsed)
	if err != nil {
		a.log.Debug(ctx, "enrichment unavailable", zap.Error(err))
		return
	}
	if enr == nil {
		return
	}
	if enr.Intent != "" && enr.Confidence >= a.cfg.Enrichment.MinConfidence {
		parsed.Intent = enr.Intent
		parsed.Confidence = enr.Confidence
		parsed.TokenBudget = estimateBudget(parsed.Intent, len(parsed.Entities))
	}
	seen := map[string]bool{}
	for _, t := range parsed.ExpandedTerms {
		seen[t] = true
	}
	for _, t := range enr.ExtraTerms {
		t = Normalize(t)
		if t == "" || seen[t] || len(parsed.ExpandedTerms) >= a.cfg.MaxExpansions {
			continue
		}
		seen[t] = true
		parsed.ExpandedTerms = append(parsed.ExpandedTerms, t)
	}
}

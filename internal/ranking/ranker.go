package ranking

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/query"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// Request carries everything Rank needs beyond the candidates themselves.
// Now is injected so ranking stays a pure function of its inputs.
type Request struct {
	// TargetProjectID anchors the relationship boost. Empty for
	// workspace-wide requests.
	TargetProjectID string

	// Parsed supplies keywords for exact match and entities for entity
	// match. Nil disables both signals.
	Parsed *query.ParsedQuery

	// RecentFiles is the caller's working-set context for proximity.
	RecentFiles []string

	Explain bool
	Now     time.Time

	// Degraded restricts scoring to exact_match and recency, used when
	// results came from keyword search and carry no real similarity.
	Degraded bool
}

// Ranker computes final scores. Safe for concurrent use; it holds only
// immutable configuration.
type Ranker struct {
	weights  config.RankingWeights
	minScore float64

	proximityEnabled   bool
	entityMatchEnabled bool
	recencyWindow      float64 // days
}

// New builds a ranker from configuration.
func New(cfg config.RankingConfig) *Ranker {
	window := float64(cfg.RecencyWindowDays)
	if window <= 0 {
		window = 30
	}
	return &Ranker{
		weights:            cfg.Weights,
		minScore:           cfg.MinScore,
		proximityEnabled:   cfg.ProximityEnabled,
		entityMatchEnabled: cfg.EntityMatchEnabled,
		recencyWindow:      window,
	}
}

// Rank scores, filters and orders candidates in place and returns the
// surviving slice. snap may be nil, which zeroes the priority and
// relationship signals.
func (r *Ranker) Rank(req Request, snap *workspace.Snapshot, candidates []Result) []Result {
	w := r.effectiveWeights(req)
	queryTokens := r.queryTokens(req)
	maxScore := r.maxAchievable(req, w)

	out := candidates[:0]
	for i := range candidates {
		res := candidates[i]
		r.score(&res, req, snap, w, queryTokens)
		if maxScore > 0 {
			res.Confidence = clamp01(res.FinalScore / maxScore)
		}
		if res.FinalScore < r.minScore {
			continue
		}
		out = append(out, res)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.RawScore != b.RawScore {
			return a.RawScore > b.RawScore
		}
		if !a.ModifiedTime.Equal(b.ModifiedTime) {
			return a.ModifiedTime.After(b.ModifiedTime)
		}
		return a.FilePath < b.FilePath
	})
	return out
}

// effectiveWeights zeroes disabled signals. Degraded mode keeps only
// exact_match and recency.
func (r *Ranker) effectiveWeights(req Request) config.RankingWeights {
	w := r.weights
	if !r.proximityEnabled {
		w.Proximity = 0
	}
	if !r.entityMatchEnabled {
		w.EntityMatch = 0
	}
	if req.Degraded {
		w.VectorSimilarity = 0
		w.ProjectPriority = 0
		w.RelationshipBoost = 0
		w.Proximity = 0
		w.EntityMatch = 0
	}
	return w
}

func (r *Ranker) score(res *Result, req Request, snap *workspace.Snapshot, w config.RankingWeights, queryTokens map[string]bool) {
	var signals map[string]Signal
	if req.Explain {
		signals = make(map[string]Signal, 7)
	}
	total := 0.0
	add := func(name string, value, weight float64) {
		contribution := value * weight
		total += contribution
		if signals != nil {
			signals[name] = Signal{Value: value, Weight: weight, Contribution: contribution}
		}
	}

	add(SignalVectorSimilarity, res.RawScore, w.VectorSimilarity)
	add(SignalProjectPriority, priorityMultiplier(snap, res.ProjectID), w.ProjectPriority)
	add(SignalRelationshipBoost, relationshipBoost(snap, req.TargetProjectID, res.ProjectID), w.RelationshipBoost)
	add(SignalRecency, r.recency(req.Now, res.ModifiedTime), w.Recency)
	add(SignalExactMatch, jaccard(queryTokens, tokenize(res.Snippet)), w.ExactMatch)
	add(SignalProximity, proximity(req.RecentFiles, res.FilePath), w.Proximity)
	add(SignalEntityMatch, entityMatch(req.Parsed, res.Snippet), w.EntityMatch)

	res.FinalScore = total
	res.Signals = signals
}

// maxAchievable is the best score any result could reach for this request:
// perfect similarity, critical priority, target project, fresh, full token
// overlap, same file, entity present. Signals the request cannot trigger
// (no recent files, no entities) are excluded so confidence is not diluted.
func (r *Ranker) maxAchievable(req Request, w config.RankingWeights) float64 {
	max := w.VectorSimilarity*1.0 +
		w.ProjectPriority*workspace.PriorityCritical.Multiplier() +
		w.RelationshipBoost*1.0 +
		w.Recency*1.0 +
		w.ExactMatch*1.0
	if len(req.RecentFiles) > 0 {
		max += w.Proximity * 1.0
	}
	if req.Parsed != nil && len(req.Parsed.Entities) > 0 {
		max += w.EntityMatch * 1.0
	}
	return max
}

func (r *Ranker) queryTokens(req Request) map[string]bool {
	if req.Parsed == nil {
		return nil
	}
	return tokenize(req.Parsed.Normalized)
}

func (r *Ranker) recency(now, modified time.Time) float64 {
	if modified.IsZero() || now.IsZero() {
		return 0
	}
	ageDays := now.Sub(modified).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	v := 1 - ageDays/r.recencyWindow
	if v < 0 {
		return 0
	}
	return v
}

func priorityMultiplier(snap *workspace.Snapshot, projectID string) float64 {
	if snap == nil {
		return 0
	}
	p, ok := snap.Project(projectID)
	if !ok {
		return 0
	}
	return p.Indexing.Priority.Multiplier()
}

// relationshipBoost is 1 for the target project itself, 0.5 for a direct
// dependency of the target, otherwise the strongest edge weight between
// the two projects.
func relationshipBoost(snap *workspace.Snapshot, target, projectID string) float64 {
	if snap == nil || target == "" {
		return 0
	}
	if projectID == target {
		return 1.0
	}
	g := snap.Graph()
	if g.HasDirectDependency(target, projectID) {
		return 0.5
	}
	return g.MaxEdgeWeight(target, projectID)
}

// proximity takes the best relation between the result and any recent file.
func proximity(recentFiles []string, filePath string) float64 {
	if len(recentFiles) == 0 {
		return 0
	}
	best := 0.3
	dir := path.Dir(filePath)
	module := topLevel(filePath)
	for _, rf := range recentFiles {
		switch {
		case rf == filePath:
			return 1.0
		case path.Dir(rf) == dir:
			if best < 0.8 {
				best = 0.8
			}
		case topLevel(rf) == module:
			if best < 0.6 {
				best = 0.6
			}
		}
	}
	return best
}

// topLevel is the first path segment, the coarse module grouping used by
// the proximity signal.
func topLevel(p string) string {
	p = strings.TrimPrefix(p, "./")
	if i := strings.IndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return p
}

func entityMatch(parsed *query.ParsedQuery, snippet string) float64 {
	if parsed == nil {
		return 0
	}
	for _, e := range parsed.Entities {
		if strings.Contains(snippet, e.Value) {
			return 1
		}
	}
	return 0
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9_]+`)

// tokenize lowercases and splits on non-identifier characters.
func tokenize(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range tokenSplit.Split(strings.ToLower(s), -1) {
		if tok != "" {
			out[tok] = true
		}
	}
	return out
}

// jaccard is |A∩B| / |A∪B| over token sets, 0 when either side is empty.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

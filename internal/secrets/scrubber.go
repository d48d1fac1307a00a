package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result

	// ScrubBytes redacts secrets from byte content.
	ScrubBytes(content []byte) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

// scrubber is the default implementation backed by the gitleaks detector
// and its stock ruleset. Safe for concurrent use: the detector is built
// once and only read after construction.
type scrubber struct {
	config   *Config
	detector *detect.Detector
	mu       sync.RWMutex
}

// redaction tracks a position to redact.
type redaction struct {
	start, end int
	ruleID     string
	desc       string
}

// New creates a new Scrubber with the given configuration.
// If config is nil, DefaultConfig() is used.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &scrubber{config: cfg}
	if !cfg.Enabled {
		return s, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}

	patterns := append([]string(nil), cfg.AllowRegexes...)
	if cfg.AllowlistPath != "" {
		allow, err := LoadAllowlist(cfg.AllowlistPath)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, allow.Regexes...)
	}
	applyAllowlist(&detector.Config, patterns)

	s.detector = detector
	return s, nil
}

// MustNew creates a new Scrubber, panicking on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub redacts secrets from the content.
func (s *scrubber) Scrub(content string) *Result {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}

	if !s.config.Enabled || content == "" {
		result.Duration = time.Since(start)
		return result
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Redact by secret value rather than reported columns: every
	// occurrence of a detected value is replaced, multi-line matches
	// included. Repeated findings of the same value collapse to one scan.
	redactions := make([]redaction, 0)
	scanned := make(map[string]bool)

	for _, f := range s.detector.DetectString(content) {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" || scanned[secret] {
			continue
		}
		scanned[secret] = true

		offset := 0
		for {
			i := strings.Index(content[offset:], secret)
			if i < 0 {
				break
			}
			pos := offset + i
			redactions = append(redactions, redaction{
				start:  pos,
				end:    pos + len(secret),
				ruleID: f.RuleID,
				desc:   f.Description,
			})
			offset = pos + len(secret)
		}
	}

	for _, r := range redactions {
		line := strings.Count(content[:r.start], "\n") + 1

		result.Findings = append(result.Findings, Finding{
			RuleID:      r.ruleID,
			Description: r.desc,
			StartIndex:  r.start,
			EndIndex:    r.end,
			Line:        line,
		})
		result.ByRule[r.ruleID]++
	}

	result.TotalFindings = len(result.Findings)

	if len(redactions) > 0 {
		result.Scrubbed = applyRedactions(content, redactions)
	}

	result.Duration = time.Since(start)
	return result
}

// ScrubBytes redacts secrets from byte content.
func (s *scrubber) ScrubBytes(content []byte) *Result {
	return s.Scrub(string(content))
}

// Check detects secrets without redacting.
func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	// Restore original content (check-only mode)
	result.Scrubbed = result.Original
	return result
}

// IsEnabled returns whether scrubbing is enabled.
func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

// applyRedactions replaces each span with its rule marker. Overlapping or
// adjacent spans merge so splices never corrupt surrounding text.
func applyRedactions(content string, redactions []redaction) string {
	// Sort by start position ascending first
	sortRedactionsAsc(redactions)

	// Merge overlapping redactions
	merged := mergeRedactions(redactions)

	// Sort by start position descending for safe replacement
	sortRedactions(merged)

	scrubbed := content
	for _, r := range merged {
		if r.start >= 0 && r.end <= len(scrubbed) && r.start < r.end {
			scrubbed = scrubbed[:r.start] + "[REDACTED:" + r.ruleID + "]" + scrubbed[r.end:]
		}
	}
	return scrubbed
}

// sortRedactions sorts redactions by start position descending.
func sortRedactions(redactions []redaction) {
	sort.Slice(redactions, func(i, j int) bool {
		return redactions[i].start > redactions[j].start
	})
}

// sortRedactionsAsc sorts redactions by start position ascending.
func sortRedactionsAsc(redactions []redaction) {
	sort.Slice(redactions, func(i, j int) bool {
		return redactions[i].start < redactions[j].start
	})
}

// mergeRedactions merges overlapping or adjacent redactions. The earliest
// span's rule wins the marker.
func mergeRedactions(redactions []redaction) []redaction {
	if len(redactions) == 0 {
		return redactions
	}

	merged := []redaction{redactions[0]}

	for i := 1; i < len(redactions); i++ {
		last := &merged[len(merged)-1]
		curr := redactions[i]

		if curr.start <= last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
		} else {
			merged = append(merged, curr)
		}
	}

	return merged
}

// applyAllowlist appends the given content patterns to the detector config
// as a global allowlist. Patterns are pre-validated in Config.Validate and
// LoadAllowlist; a compile failure here is a programming error.
func applyAllowlist(cfg *gitleaksConfig.Config, patterns []string) {
	if len(patterns) == 0 {
		return
	}

	allow := &gitleaksConfig.Allowlist{
		Description: "workspaced allowlist",
	}

	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("BUG: pre-validated regex pattern failed to compile: " + pattern + ": " + err.Error())
		}
		allow.Regexes = append(allow.Regexes, (*gitleaksRegexp.Regexp)(re))
	}

	// Stopwords catch values the regexes describe literally
	allow.StopWords = append(allow.StopWords, patterns...)

	cfg.Allowlists = append(cfg.Allowlists, allow)
}

// NoopScrubber is a scrubber that does nothing (for testing or disabled mode).
type NoopScrubber struct{}

// Scrub returns content unchanged.
func (n *NoopScrubber) Scrub(content string) *Result {
	return &Result{
		Original:      content,
		Scrubbed:      content,
		Findings:      make([]Finding, 0),
		ByRule:        make(map[string]int),
		TotalFindings: 0,
	}
}

// ScrubBytes returns content unchanged.
func (n *NoopScrubber) ScrubBytes(content []byte) *Result {
	return n.Scrub(string(content))
}

// Check returns content unchanged.
func (n *NoopScrubber) Check(content string) *Result {
	return n.Scrub(content)
}

// IsEnabled returns false.
func (n *NoopScrubber) IsEnabled() bool {
	return false
}

// Compile-time check that scrubber implements Scrubber.
var _ Scrubber = (*scrubber)(nil)
var _ Scrubber = (*NoopScrubber)(nil)

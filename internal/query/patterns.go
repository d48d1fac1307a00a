package query

import "regexp"

// intentRule is one weighted classification rule. Scores across matching
// rules accumulate per intent; the highest total wins.
type intentRule struct {
	intent  Intent
	weight  float64
	pattern *regexp.Regexp
}

var intentRules = []intentRule{
	// search: locating something that exists
	{IntentSearch, 1.0, regexp.MustCompile(`(?i)\b(find|locate|search|where is|where are|look for|show me)\b`)},
	{IntentSearch, 0.5, regexp.MustCompile(`(?i)\b(which file|what file|list all)\b`)},

	// understand: how something works
	{IntentUnderstand, 1.0, regexp.MustCompile(`(?i)\b(how does|how do|how is|understand|walk me through|trace)\b`)},
	{IntentUnderstand, 0.5, regexp.MustCompile(`(?i)\b(flow|lifecycle|architecture|interact)\b`)},

	// refactor: restructuring existing code
	{IntentRefactor, 1.0, regexp.MustCompile(`(?i)\b(refactor|rename|extract|restructure|clean up|simplify|deduplicate)\b`)},
	{IntentRefactor, 0.5, regexp.MustCompile(`(?i)\b(split|merge|move)\b.*\b(function|method|class|module|file)\b`)},

	// debug: something is broken
	{IntentDebug, 1.0, regexp.MustCompile(`(?i)\b(debug|bug|fix|broken|fails?|failing|error|crash|panic|exception|traceback|stack trace)\b`)},
	{IntentDebug, 0.5, regexp.MustCompile(`(?i)\b(why (is|does|did)|not working|doesn'?t work|wrong)\b`)},

	// optimize: performance
	{IntentOptimize, 1.0, regexp.MustCompile(`(?i)\b(optimi[sz]e|performance|slow|faster|speed up|latency|memory usage|bottleneck|profil)\b`)},

	// implement: new code
	{IntentImplement, 1.0, regexp.MustCompile(`(?i)\b(implement|add|create|build|write|new feature|support for)\b`)},

	// document: docs and comments
	{IntentDocument, 1.0, regexp.MustCompile(`(?i)\b(document|docs?|comment|docstring|readme|changelog)\b`)},

	// explain: describe behavior
	{IntentExplain, 1.0, regexp.MustCompile(`(?i)\b(explain|describe|what is|what are|what does|meaning of|purpose of)\b`)},
}

// Entity extraction patterns.
var (
	// filePathPattern matches path-shaped tokens with a known source
	// extension, with or without directory components.
	filePathPattern = regexp.MustCompile(`(?i)\b[\w\-./\\]+\.(go|ts|tsx|js|jsx|py|rs|java|kt|c|cpp|h|hpp|cs|rb|php|swift|scala|sh|sql|proto|md|rst|txt|json|yaml|yml|toml|xml|html|css)\b`)

	// Identifier shapes. Single lowercase words are too ambiguous to count
	// as identifiers; multi-segment casing is a strong signal.
	camelCasePattern      = regexp.MustCompile(`\b[a-z]+(?:[A-Z][a-z0-9]*)+\b`)
	pascalCasePattern     = regexp.MustCompile(`\b(?:[A-Z][a-z0-9]+){2,}\b`)
	snakeCasePattern      = regexp.MustCompile(`\b[a-z]+(?:_[a-z0-9]+)+\b`)
	screamingSnakePattern = regexp.MustCompile(`\b[A-Z]+(?:_[A-Z0-9]+)+\b`)

	// errorPattern matches error codes and exception-style names.
	errorPattern = regexp.MustCompile(`\b(?:ERR_\w+|E\d{4,5}|[A-Z][a-zA-Z]*(?:Error|Exception|Fault|Panic))\b`)

	// tracebackPattern matches "at file:line" / "file.py, line N" fragments.
	tracebackPattern = regexp.MustCompile(`(?i)\b(?:at |line )[\w\-./\\]+(?::\d+|, line \d+)`)

	// quotedPattern captures double- or single-quoted substrings.
	quotedPattern = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
)

// stopwords excluded from keywords.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "can": true, "do": true, "does": true, "for": true,
	"from": true, "how": true, "i": true, "in": true, "is": true, "it": true,
	"me": true, "my": true, "of": true, "on": true, "or": true, "our": true,
	"show": true, "that": true, "the": true, "this": true, "to": true,
	"what": true, "where": true, "which": true, "why": true, "with": true,
}

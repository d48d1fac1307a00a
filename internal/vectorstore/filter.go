package vectorstore

import (
	"path/filepath"
	"strings"
)

// Filter narrows a search to matching payloads. Zero values mean "any".
// ProjectID and FilePath are pushed down to the provider; Languages is
// pushed down where the provider supports set membership. FileTypes is
// derived from the file path extension and always evaluated client side,
// as is Authors, which folds case so "alice" matches commits by "Alice".
type Filter struct {
	ProjectID string
	FilePath  string
	Languages []string
	FileTypes []string
	Authors   []string
}

// Matches reports whether a payload satisfies the filter. Providers use it
// for conditions they could not push down.
func (f *Filter) Matches(p Payload) bool {
	if f == nil {
		return true
	}
	if f.ProjectID != "" && p.ProjectID != f.ProjectID {
		return false
	}
	if f.FilePath != "" && p.FilePath != f.FilePath {
		return false
	}
	if len(f.Languages) > 0 && !containsFold(f.Languages, p.Language) {
		return false
	}
	if len(f.FileTypes) > 0 && !containsFold(f.FileTypes, fileTypeOf(p.FilePath)) {
		return false
	}
	if len(f.Authors) > 0 && !containsFold(f.Authors, p.Author) {
		return false
	}
	return true
}

// residual returns the part of the filter a provider must re-check client
// side after push-down, or nil when push-down covered everything.
func (f *Filter) residual(pushedLanguages bool) *Filter {
	if f == nil {
		return nil
	}
	res := &Filter{FileTypes: f.FileTypes, Authors: f.Authors}
	if !pushedLanguages {
		res.Languages = f.Languages
	}
	if len(res.Languages) == 0 && len(res.FileTypes) == 0 && len(res.Authors) == 0 {
		return nil
	}
	return res
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// fileTypeOf returns the lowercased extension of a path without the dot,
// e.g. "go" for "internal/server/http.go". Extensionless paths yield "".
func fileTypeOf(path string) string {
	ext := filepath.Ext(path)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// keywordTerms splits a keyword query into lowercased search terms, deduped,
// keeping letter/digit runs only.
func keywordTerms(needle string) []string {
	fields := strings.FieldsFunc(strings.ToLower(needle), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// keywordScore is the fraction of terms present in content, case folded.
func keywordScore(content string, terms []string) float32 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float32(matched) / float32(len(terms))
}

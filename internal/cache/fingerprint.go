package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key identifies one cacheable search request. Every field that changes
// the result set participates: scope parameters like Limit,
// IncludeDependencies and SimilarityThreshold alter which projects are
// searched or how many results survive, so they hash too.
type Key struct {
	Query     string
	Scope     string
	ProjectID string
	Filters   map[string]string

	Limit               int
	IncludeDependencies bool
	SimilarityThreshold float64

	// RecentFiles is the caller's working-set context. Only a short
	// prefix of the sorted list participates in the fingerprint so minor
	// context churn does not defeat the cache.
	RecentFiles []string

	WorkspaceVersion    string
	WorkspaceGeneration uint64
}

// normalizeQuery is the pinned canonical form: Unicode NFC, lowercase,
// whitespace runs collapsed to a single space, trimmed. Changing this
// function orphans every precomputed L3 entry, so treat it as frozen.
func normalizeQuery(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint hashes the canonical request string with SHA-256 and returns
// it hex-encoded. recentPrefix bounds how many sorted recent files are
// included; 0 means none.
func Fingerprint(k Key, recentPrefix int) string {
	var b strings.Builder
	b.WriteString(normalizeQuery(k.Query))
	b.WriteByte('\n')
	b.WriteString(k.Scope)
	b.WriteByte('\n')
	b.WriteString(k.ProjectID)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "%d|%t|%g\n", k.Limit, k.IncludeDependencies, k.SimilarityThreshold)

	filterKeys := make([]string, 0, len(k.Filters))
	for fk := range k.Filters {
		filterKeys = append(filterKeys, fk)
	}
	sort.Strings(filterKeys)
	for _, fk := range filterKeys {
		b.WriteString(fk)
		b.WriteByte('=')
		b.WriteString(k.Filters[fk])
		b.WriteByte(';')
	}
	b.WriteByte('\n')

	fmt.Fprintf(&b, "%s@%d\n", k.WorkspaceVersion, k.WorkspaceGeneration)

	if recentPrefix > 0 && len(k.RecentFiles) > 0 {
		recent := append([]string(nil), k.RecentFiles...)
		sort.Strings(recent)
		if len(recent) > recentPrefix {
			recent = recent[:recentPrefix]
		}
		b.WriteString(strings.Join(recent, ","))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

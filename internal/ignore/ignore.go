// Package ignore loads gitignore-style files and compiles them into a
// matcher the indexer consults alongside the workspace exclude globs.
// Negation patterns are not supported; a negated line is skipped.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultFiles are the ignore files read from a project root when the
// indexer config names none.
var DefaultFiles = []string{".gitignore", ".workspacedignore"}

// Set is a compiled ignore list for one project root. The zero value
// matches nothing.
type Set struct {
	globs []glob.Glob
}

// Load reads the named ignore files under root and compiles their
// patterns. Missing files are fine; a project without ignore files gets
// an empty set. Unparseable patterns are dropped with their position in
// the returned warnings.
func Load(root string, files []string) (*Set, []string, error) {
	if len(files) == 0 {
		files = DefaultFiles
	}

	var (
		set      Set
		warnings []string
	)
	for _, name := range files {
		path := filepath.Join(root, name)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, warnings, fmt.Errorf("ignore: %w", err)
		}

		scanner := bufio.NewScanner(f)
		for lineNo := 1; scanner.Scan(); lineNo++ {
			pattern := normalizeLine(scanner.Text())
			if pattern == "" {
				continue
			}
			g, err := glob.Compile(pattern, '/')
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s:%d: unusable pattern %q", path, lineNo, pattern))
				continue
			}
			set.globs = append(set.globs, g)
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, warnings, fmt.Errorf("ignore: reading %s: %w", path, err)
		}
	}
	return &set, warnings, nil
}

// Match reports whether the slash-separated path, relative to the project
// root, is ignored.
func (s *Set) Match(rel string) bool {
	if s == nil {
		return false
	}
	for _, g := range s.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.globs)
}

// normalizeLine turns one gitignore line into a glob over root-relative
// slash paths, or "" for blanks, comments and negations.
func normalizeLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}

	anchored := strings.HasPrefix(line, "/") || strings.Contains(strings.TrimSuffix(line, "/"), "/")
	pattern := strings.TrimPrefix(line, "/")

	// A name matches the entry itself and, as a directory, everything
	// under it. (The trailing-slash directory restriction is not kept:
	// matching the bare name too lets the walk skip the whole subtree.)
	pattern = strings.TrimSuffix(pattern, "/") + "{,/**}"

	// Unanchored patterns match at any depth.
	if !anchored {
		pattern = "{,**/}" + pattern
	}
	return pattern
}

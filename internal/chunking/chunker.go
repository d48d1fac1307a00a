// Package chunking splits source files into the bounded snippets that get
// embedded and stored. Code goes through overlapping line windows snapped
// to declaration boundaries; prose goes through a recursive-character
// splitter with line ranges recovered by offset mapping.
package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// maxChunkBytes caps chunk content. Windows that exceed it are cut early;
// single oversize lines are truncated.
const maxChunkBytes = 2048

// snapRange is how far past a nominal window start the chunker looks for a
// declaration line to snap to.
const snapRange = 5

// Chunk is one bounded slice of a file. Line numbers are 1-based and
// inclusive.
type Chunk struct {
	Index     int
	Content   string
	LineStart int
	LineEnd   int
	Hash      string
}

// HashContent returns the hex sha256 of content, the content_hash payload
// field.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ID derives the content-addressed chunk id. Re-indexing unchanged content
// reproduces the same id, which is what makes upserts idempotent and lets
// the indexer skip unchanged chunks.
func ID(projectID, path string, index int, contentHash string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", projectID, path, index, contentHash)))
	return hex.EncodeToString(sum[:])
}

// declPattern matches cheaply detectable symbol starts across the language
// families we index. One permissive pattern beats per-language tables here:
// a false snap just moves a window edge.
var declPattern = regexp.MustCompile(`^\s*(func |def |class |fn |public |private |protected |static |interface |type \w+ (struct|interface)|impl |module |package )`)

// Chunker splits files with configured window geometry.
type Chunker struct {
	windowLines  int
	overlapLines int
	prose        textsplitter.RecursiveCharacter
}

// New builds a chunker. Overlap must be smaller than the window; config
// validation enforces that before construction.
func New(windowLines, overlapLines int) *Chunker {
	return &Chunker{
		windowLines:  windowLines,
		overlapLines: overlapLines,
		prose: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(maxChunkBytes),
			textsplitter.WithChunkOverlap(200),
		),
	}
}

// Split chunks one file. Empty and whitespace-only content produces no
// chunks.
func (c *Chunker) Split(path, content string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if isProse(LanguageOf(path)) {
		return c.splitProse(content)
	}
	return c.splitCode(content)
}

// splitCode walks the file in overlapping line windows, snapping window
// starts forward to nearby declaration lines.
func (c *Chunker) splitCode(content string) []Chunk {
	lines := strings.Split(content, "\n")
	// A trailing newline yields one empty trailing element; drop it so
	// line counts match what editors show.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	var chunks []Chunk
	start := 0
	for start < len(lines) {
		start = snapStart(lines, start)
		if start >= len(lines) {
			break
		}

		end := start
		size := 0
		for end < len(lines) && end-start < c.windowLines {
			lineLen := len(lines[end]) + 1
			if size+lineLen > maxChunkBytes && end > start {
				break
			}
			size += lineLen
			end++
		}

		text := strings.Join(lines[start:end], "\n")
		if len(text) > maxChunkBytes {
			text = truncateRunes(text, maxChunkBytes)
		}
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				Index:     len(chunks),
				Content:   text,
				LineStart: start + 1,
				LineEnd:   end,
				Hash:      HashContent(text),
			})
		}

		if end >= len(lines) {
			break
		}
		next := end - c.overlapLines
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// snapStart moves a nominal window start forward to the nearest
// declaration line within snapRange, if any.
func snapStart(lines []string, start int) int {
	if start == 0 {
		return 0
	}
	limit := start + snapRange
	if limit > len(lines) {
		limit = len(lines)
	}
	for i := start; i < limit; i++ {
		if declPattern.MatchString(lines[i]) {
			return i
		}
	}
	return start
}

// splitProse runs the recursive-character splitter and maps each piece
// back to line numbers by scanning for its offset in the original text.
func (c *Chunker) splitProse(content string) []Chunk {
	pieces, err := c.prose.SplitText(content)
	if err != nil || len(pieces) == 0 {
		// The splitter only fails on invalid separators; fall back to one
		// bounded chunk so the file is still searchable.
		text := truncateRunes(content, maxChunkBytes)
		return []Chunk{{
			Index:     0,
			Content:   text,
			LineStart: 1,
			LineEnd:   strings.Count(text, "\n") + 1,
			Hash:      HashContent(text),
		}}
	}

	chunks := make([]Chunk, 0, len(pieces))
	searchFrom := 0
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		off := strings.Index(content[searchFrom:], piece)
		lineStart := 1
		lineEnd := strings.Count(piece, "\n") + 1
		if off >= 0 {
			abs := searchFrom + off
			lineStart = strings.Count(content[:abs], "\n") + 1
			lineEnd = lineStart + strings.Count(piece, "\n")
			// Overlapping pieces may rewind; only move the cursor forward.
			if next := abs + 1; next > searchFrom {
				searchFrom = next
			}
		}
		text := piece
		if len(text) > maxChunkBytes {
			text = truncateRunes(text, maxChunkBytes)
		}
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Content:   text,
			LineStart: lineStart,
			LineEnd:   lineEnd,
			Hash:      HashContent(text),
		})
	}
	return chunks
}

// truncateRunes cuts s to at most n bytes on a rune boundary.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

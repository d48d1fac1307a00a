package invalidator

import (
	"strings"

	"github.com/gobwas/glob"
)

// FileKey joins a project id and a project-relative path into the reverse
// index key used by Record and file invalidation.
func FileKey(projectID, path string) string {
	return projectID + "|" + path
}

// trieNode is one path segment in the per-project file trie. Fingerprints
// live on the node where a file's path terminates.
type trieNode struct {
	children map[string]*trieNode
	fps      map[string]bool
}

func newTrieNode() *trieNode {
	return &trieNode{children: map[string]*trieNode{}}
}

// reverseIndex maps files and projects to the fingerprints whose cached
// results they produced. Mutated only by the invalidator's worker, so no
// internal locking.
type reverseIndex struct {
	byFile    map[string]map[string]bool // FileKey -> fps
	byProject map[string]map[string]bool // projectID -> fps
	trees     map[string]*trieNode       // projectID -> path trie
}

func newReverseIndex() *reverseIndex {
	return &reverseIndex{
		byFile:    map[string]map[string]bool{},
		byProject: map[string]map[string]bool{},
		trees:     map[string]*trieNode{},
	}
}

func (ix *reverseIndex) record(fp string, projectIDs, fileKeys []string) {
	for _, pid := range projectIDs {
		set := ix.byProject[pid]
		if set == nil {
			set = map[string]bool{}
			ix.byProject[pid] = set
		}
		set[fp] = true
	}
	for _, key := range fileKeys {
		set := ix.byFile[key]
		if set == nil {
			set = map[string]bool{}
			ix.byFile[key] = set
		}
		set[fp] = true

		pid, path, ok := strings.Cut(key, "|")
		if !ok {
			continue
		}
		root := ix.trees[pid]
		if root == nil {
			root = newTrieNode()
			ix.trees[pid] = root
		}
		node := root
		for _, seg := range strings.Split(path, "/") {
			child := node.children[seg]
			if child == nil {
				child = newTrieNode()
				node.children[seg] = child
			}
			node = child
		}
		if node.fps == nil {
			node.fps = map[string]bool{}
		}
		node.fps[fp] = true
	}
}

// fingerprintsForFile returns the fps recorded against one file key.
func (ix *reverseIndex) fingerprintsForFile(key string) []string {
	return setToSlice(ix.byFile[key])
}

// fingerprintsForProject returns every fp tagged with the project.
func (ix *reverseIndex) fingerprintsForProject(projectID string) []string {
	return setToSlice(ix.byProject[projectID])
}

// fingerprintsForPattern walks every project trie and collects fps of
// files matching the glob. The literal segment prefix of the pattern
// prunes subtrees before the glob is evaluated.
func (ix *reverseIndex) fingerprintsForPattern(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	prefix := literalSegments(pattern)

	out := map[string]bool{}
	for _, root := range ix.trees {
		collectMatches(root, nil, prefix, g, out)
	}
	return setToSlice(out), nil
}

func collectMatches(n *trieNode, segs, prefix []string, g glob.Glob, out map[string]bool) {
	depth := len(segs)
	if len(n.fps) > 0 && g.Match(strings.Join(segs, "/")) {
		for fp := range n.fps {
			out[fp] = true
		}
	}
	for seg, child := range n.children {
		if depth < len(prefix) && prefix[depth] != seg {
			continue
		}
		collectMatches(child, append(segs, seg), prefix, g, out)
	}
}

// literalSegments returns the leading path segments of a pattern that
// contain no glob metacharacters.
func literalSegments(pattern string) []string {
	var out []string
	for _, seg := range strings.Split(pattern, "/") {
		if strings.ContainsAny(seg, `*?[]{}\!`) {
			break
		}
		out = append(out, seg)
	}
	return out
}

// drop removes fingerprints from every index structure after they have
// been invalidated.
func (ix *reverseIndex) drop(fps []string) {
	doomed := make(map[string]bool, len(fps))
	for _, fp := range fps {
		doomed[fp] = true
	}
	for key, set := range ix.byFile {
		removeFrom(set, doomed)
		if len(set) == 0 {
			delete(ix.byFile, key)
		}
	}
	for pid, set := range ix.byProject {
		removeFrom(set, doomed)
		if len(set) == 0 {
			delete(ix.byProject, pid)
		}
	}
	for pid, root := range ix.trees {
		if pruneTrie(root, doomed) {
			delete(ix.trees, pid)
		}
	}
}

func (ix *reverseIndex) clear() {
	ix.byFile = map[string]map[string]bool{}
	ix.byProject = map[string]map[string]bool{}
	ix.trees = map[string]*trieNode{}
}

// pruneTrie removes doomed fps and reports whether the node is now empty.
func pruneTrie(n *trieNode, doomed map[string]bool) bool {
	removeFrom(n.fps, doomed)
	for seg, child := range n.children {
		if pruneTrie(child, doomed) {
			delete(n.children, seg)
		}
	}
	return len(n.fps) == 0 && len(n.children) == 0
}

func removeFrom(set map[string]bool, doomed map[string]bool) {
	for fp := range set {
		if doomed[fp] {
			delete(set, fp)
		}
	}
}

func setToSlice(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for fp := range set {
		out = append(out, fp)
	}
	return out
}

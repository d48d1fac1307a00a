// Package gitmeta resolves git metadata for indexed files: the current
// branch of a project root and the last commit touching a path. Projects
// outside any git repository degrade to zero values, never errors, so
// indexing works the same on plain directories.
package gitmeta

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// cacheEntries bounds the per-resolver lookup memo. Log walks are the
// expensive part of enrichment; one entry per recently indexed file is
// plenty.
const cacheEntries = 2048

// Change describes the last commit that touched a path.
type Change struct {
	Author string
	Email  string
	Time   time.Time
}

// Resolver looks up git metadata for files under one project root.
//
// Lookups are memoized per repo-relative path. Cache hits are lock-free;
// log walks serialize on a mutex because go-git repositories are not
// reliably safe for concurrent history traversal.
type Resolver struct {
	repo *git.Repository
	root string // worktree root, absolute
	log  *zap.Logger

	mu    sync.Mutex
	cache *lru.Cache[string, Change]
}

// Open inspects the project root and returns a Resolver. The root may sit
// anywhere inside a repository working tree; discovery walks up to the
// enclosing .git. A root outside any repository still yields a usable
// Resolver whose lookups report nothing.
func Open(projectRoot string, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}

	r := &Resolver{log: log}
	r.cache, _ = lru.New[string, Change](cacheEntries)

	repo, err := git.PlainOpenWithOptions(projectRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		log.Debug("project not under git", zap.String("path", projectRoot))
		return r
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repository; nothing to resolve paths against
		log.Debug("repository has no worktree", zap.String("path", projectRoot))
		return r
	}

	r.repo = repo
	r.root = wt.Filesystem.Root()
	return r
}

// InRepo reports whether the project root is inside a git working tree.
func (r *Resolver) InRepo() bool {
	return r.repo != nil
}

// Branch returns the current branch name, or empty when the root is not a
// repository, HEAD is detached, or the repository has no commits.
func (r *Resolver) Branch() string {
	if r.repo == nil {
		return ""
	}

	head, err := r.repo.Head()
	if err != nil {
		return ""
	}

	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return ""
}

// LastChange returns the last commit touching the file at the given
// absolute path. The result is memoized; use Refresh when the file is
// known to have changed. The second return is false when the path is not
// under the repository, is untracked, or the walk fails.
func (r *Resolver) LastChange(ctx context.Context, path string) (Change, bool) {
	rel, ok := r.relPath(path)
	if !ok {
		return Change{}, false
	}

	if change, hit := r.cache.Get(rel); hit {
		return change, !change.Time.IsZero()
	}

	return r.lookup(ctx, rel)
}

// Refresh bypasses the memo and re-walks history for the path, storing the
// fresh result. The indexer calls this on change events so re-committed
// files do not serve stale authors.
func (r *Resolver) Refresh(ctx context.Context, path string) (Change, bool) {
	rel, ok := r.relPath(path)
	if !ok {
		return Change{}, false
	}

	return r.lookup(ctx, rel)
}

func (r *Resolver) relPath(path string) (string, bool) {
	if r.repo == nil {
		return "", false
	}

	rel, err := filepath.Rel(r.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// lookup walks history for the newest commit touching rel and memoizes the
// result. Misses are cached too (as zero Changes) so untracked files do
// not trigger a walk per index event.
func (r *Resolver) lookup(ctx context.Context, rel string) (Change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctx.Err() != nil {
		return Change{}, false
	}

	iter, err := r.repo.Log(&git.LogOptions{FileName: &rel})
	if err != nil {
		r.log.Debug("git log failed", zap.String("path", rel), zap.Error(err))
		r.cache.Add(rel, Change{})
		return Change{}, false
	}
	defer iter.Close()

	commit, err := iter.Next()
	if err != nil {
		// No commits touch this path
		r.cache.Add(rel, Change{})
		return Change{}, false
	}

	change := Change{
		Author: commit.Author.Name,
		Email:  commit.Author.Email,
		Time:   commit.Author.When.UTC(),
	}
	r.cache.Add(rel, change)
	return change, true
}

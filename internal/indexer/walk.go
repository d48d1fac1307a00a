package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/workspaced/internal/faults"
	"github.com/fyrsmithlabs/workspaced/internal/watcher"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// WalkReport summarizes a directory indexing pass. Errors carries per-file
// failures; a non-empty Errors with Enqueued > 0 is partial success, which
// maps to exit status 0 with errors[] on the tool surface.
type WalkReport struct {
	Enqueued int      `json:"enqueued"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// IndexDirectory walks a directory inside a project and enqueues an index
// event for every eligible file. With recursive false only the immediate
// files are considered. The walk applies the same skip rules as the live
// pipeline so both paths converge on the same index state.
func (ix *Indexer) IndexDirectory(ctx context.Context, projectID, dir string, recursive bool) (WalkReport, error) {
	snap := ix.deps.Snapshots()
	if snap == nil {
		return WalkReport{}, workspace.ErrNotLoaded
	}
	project, ok := snap.Project(projectID)
	if !ok {
		return WalkReport{}, faults.Request(faults.CodeUnknownProject, "unknown project %q", projectID)
	}
	if dir == "" {
		dir = project.Path
	}

	var report WalkReport
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !recursive {
				return filepath.SkipDir
			}
			if defaultSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			if rel, rerr := filepath.Rel(project.Path, path); rerr == nil &&
				(snap.Excluded(projectID, rel) || ix.ignored(project, rel)) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, rerr := filepath.Rel(project.Path, path)
		if rerr == nil && (snap.Excluded(projectID, rel) || ix.ignored(project, rel)) {
			report.Skipped++
			return nil
		}
		if info, ierr := d.Info(); ierr == nil && info.Size() > ix.cfg.MaxFileSize {
			report.Skipped++
			return nil
		}

		if qerr := ix.Enqueue(watcher.Event{
			ProjectID: projectID,
			Path:      path,
			Kind:      watcher.KindModified,
		}); qerr != nil {
			report.Errors = append(report.Errors, path+": "+qerr.Error())
			return nil
		}
		report.Enqueued++
		return nil
	})
	if err != nil {
		return report, faults.FromContextErr(err)
	}
	if _, serr := os.Stat(dir); serr != nil {
		return report, faults.Wrap(serr, faults.CategoryRequest, faults.CodeInvalidFilter, "directory %s", dir)
	}
	return report, nil
}

// IndexAll enqueues every enabled project's tree, priority order respected
// by the queue. Used at daemon start.
func (ix *Indexer) IndexAll(ctx context.Context) (WalkReport, error) {
	snap := ix.deps.Snapshots()
	if snap == nil {
		return WalkReport{}, workspace.ErrNotLoaded
	}

	var total WalkReport
	for _, p := range snap.EnabledProjects() {
		report, err := ix.IndexDirectory(ctx, p.ID, p.Path, true)
		total.Enqueued += report.Enqueued
		total.Skipped += report.Skipped
		total.Errors = append(total.Errors, report.Errors...)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

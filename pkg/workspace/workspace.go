// Package workspace implements the WorkspaceStore external collaborator:
// narrow, swappable snapshot-takers that fingerprint a workspace after an
// iteration so the loop strategies have something to compare against.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

// LocalDirWorkspace snapshots a plain local directory by hashing every
// tracked file's path and contents, generalizing the scheduler's single-key
// fnvHash (github.com/workbenchhq/controlplane's teacher used it to shard a
// node id) into a whole-tree content hash used as afterSha.
type LocalDirWorkspace struct {
	Root string
}

// NewLocalDirWorkspace constructs a LocalDirWorkspace rooted at dir.
func NewLocalDirWorkspace(dir string) *LocalDirWorkspace {
	return &LocalDirWorkspace{Root: dir}
}

// Snapshot walks the tree under Root (skipping .git and common build dirs)
// and returns a content-addressed fingerprint. FilesChanged/Insertions/
// Deletions are left at zero: a plain directory has no history to diff
// against, unlike GitWorkspace below.
func (w *LocalDirWorkspace) Snapshot(ctx context.Context, wo workorder.WorkOrder, iteration int) (workorder.Snapshot, error) {
	h := sha256.New()

	var paths []string
	err := filepath.WalkDir(w.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == ".cache" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(w.Root, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return workorder.Snapshot{}, fmt.Errorf("workspace: walk %s: %w", w.Root, err)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		select {
		case <-ctx.Done():
			return workorder.Snapshot{}, ctx.Err()
		default:
		}
		data, err := os.ReadFile(filepath.Join(w.Root, rel))
		if err != nil {
			return workorder.Snapshot{}, fmt.Errorf("workspace: read %s: %w", rel, err)
		}
		h.Write([]byte(rel))
		h.Write([]byte{0})
		h.Write(data)
	}

	return workorder.Snapshot{
		ID:         fmt.Sprintf("%s-%d", wo.ID, iteration),
		AfterSHA:   hex.EncodeToString(h.Sum(nil)),
		Iteration:  iteration,
		CapturedAt: time.Now(),
	}, nil
}

var _ interface {
	Snapshot(ctx context.Context, wo workorder.WorkOrder, iteration int) (workorder.Snapshot, error)
} = (*LocalDirWorkspace)(nil)

// GitWorkspace snapshots a git checkout by committing whatever changed this
// iteration and reading the resulting commit's stats, so afterSha is the
// real commit SHA the rest of the system (PR creation, CI polling) can act
// on rather than a synthetic content hash.
type GitWorkspace struct {
	Dir string
	// CommitMessage formats the commit message for a given iteration; a nil
	// func defaults to "controlplane: iteration N".
	CommitMessage func(iteration int) string
}

// NewGitWorkspace constructs a GitWorkspace rooted at a git checkout dir.
func NewGitWorkspace(dir string) *GitWorkspace {
	return &GitWorkspace{Dir: dir}
}

func (w *GitWorkspace) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.Dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (w *GitWorkspace) message(iteration int) string {
	if w.CommitMessage != nil {
		return w.CommitMessage(iteration)
	}
	return fmt.Sprintf("controlplane: iteration %d", iteration)
}

// Snapshot stages and commits any pending changes (a no-op commit is
// skipped, reusing HEAD as afterSha so "no changes" loop-detection criteria
// still see a stable fingerprint), then reads stat output for the
// files-changed/insertions/deletions triple.
func (w *GitWorkspace) Snapshot(ctx context.Context, wo workorder.WorkOrder, iteration int) (workorder.Snapshot, error) {
	if _, err := w.run(ctx, "add", "-A"); err != nil {
		return workorder.Snapshot{}, fmt.Errorf("workspace: git add: %w", err)
	}

	statOut, _ := w.run(ctx, "diff", "--cached", "--shortstat")
	changed := statOut != ""

	if changed {
		if _, err := w.run(ctx, "commit", "-m", w.message(iteration)); err != nil {
			return workorder.Snapshot{}, fmt.Errorf("workspace: git commit: %w", err)
		}
	}

	sha, err := w.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return workorder.Snapshot{}, fmt.Errorf("workspace: rev-parse HEAD: %w", err)
	}
	branch, _ := w.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	msg, _ := w.run(ctx, "log", "-1", "--format=%s")

	files, ins, del := 0, 0, 0
	if changed {
		files, ins, del = parseShortstat(statOut)
	}

	return workorder.Snapshot{
		ID:           sha,
		AfterSHA:     sha,
		FilesChanged: files,
		Insertions:   ins,
		Deletions:    del,
		Iteration:    iteration,
		Branch:       branch,
		CommitMsg:    msg,
		CapturedAt:   time.Now(),
	}, nil
}

// parseShortstat parses "N files changed, M insertions(+), K deletions(-)"
// style output from `git diff --shortstat`, tolerating any subset being
// absent (e.g. a commit with only insertions omits the deletions clause).
func parseShortstat(s string) (files, insertions, deletions int) {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		switch {
		case strings.Contains(part, "file"):
			files = n
		case strings.Contains(part, "insertion"):
			insertions = n
		case strings.Contains(part, "deletion"):
			deletions = n
		}
	}
	return files, insertions, deletions
}

var _ interface {
	Snapshot(ctx context.Context, wo workorder.WorkOrder, iteration int) (workorder.Snapshot, error)
} = (*GitWorkspace)(nil)

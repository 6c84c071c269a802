package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

func TestLocalDirWorkspace_SnapshotIsDeterministicAndChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write a.txt: %v", err)
	}

	w := NewLocalDirWorkspace(dir)
	wo := workorder.WorkOrder{ID: "wo-1"}

	first, err := w.Snapshot(context.Background(), wo, 1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if first.AfterSHA == "" {
		t.Fatal("expected a non-empty content hash")
	}

	again, err := w.Snapshot(context.Background(), wo, 1)
	if err != nil {
		t.Fatalf("Snapshot (repeat): %v", err)
	}
	if again.AfterSHA != first.AfterSHA {
		t.Fatal("expected identical tree contents to hash identically")
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("goodbye"), 0o644); err != nil {
		t.Fatalf("rewrite a.txt: %v", err)
	}
	changed, err := w.Snapshot(context.Background(), wo, 2)
	if err != nil {
		t.Fatalf("Snapshot (changed): %v", err)
	}
	if changed.AfterSHA == first.AfterSHA {
		t.Fatal("expected changed file contents to produce a different hash")
	}
	if changed.Iteration != 2 {
		t.Fatalf("expected Iteration 2, got %d", changed.Iteration)
	}
}

func TestLocalDirWorkspace_SkipsGitDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git", "objects"), 0o755); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".git", "objects", "x"), []byte("should be ignored"), 0o644); err != nil {
		t.Fatalf("write .git file: %v", err)
	}

	w := NewLocalDirWorkspace(dir)
	empty, err := w.Snapshot(context.Background(), workorder.WorkOrder{ID: "wo-2"}, 1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ".git", "objects", "y"), []byte("also ignored"), 0o644); err != nil {
		t.Fatalf("write second .git file: %v", err)
	}
	again, err := w.Snapshot(context.Background(), workorder.WorkOrder{ID: "wo-2"}, 1)
	if err != nil {
		t.Fatalf("Snapshot (again): %v", err)
	}
	if again.AfterSHA != empty.AfterSHA {
		t.Fatal("expected changes under .git to be excluded from the hash")
	}
}

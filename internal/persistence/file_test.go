package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

func TestFileBackend_WorkOrderRoundTrip(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	ctx := context.Background()

	wo := workorder.WorkOrder{ID: "wo-1", Status: workorder.StatusQueued, AgentType: "codegen"}
	if err := backend.SaveWorkOrder(ctx, wo); err != nil {
		t.Fatalf("SaveWorkOrder: %v", err)
	}

	got, err := backend.LoadWorkOrder(ctx, "wo-1")
	if err != nil {
		t.Fatalf("LoadWorkOrder: %v", err)
	}
	if got.ID != wo.ID || got.Status != wo.Status || got.AgentType != wo.AgentType {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, wo)
	}
}

func TestFileBackend_LoadMissingReturnsErrNotFound(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	if _, err := backend.LoadWorkOrder(context.Background(), "absent"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileBackend_ListWorkOrdersFiltersByStatus(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	ctx := context.Background()

	backend.SaveWorkOrder(ctx, workorder.WorkOrder{ID: "a", Status: workorder.StatusQueued})
	backend.SaveWorkOrder(ctx, workorder.WorkOrder{ID: "b", Status: workorder.StatusSucceeded})
	backend.SaveWorkOrder(ctx, workorder.WorkOrder{ID: "c", Status: workorder.StatusQueued})

	queued, err := backend.ListWorkOrders(ctx, workorder.StatusQueued, 0, 0)
	if err != nil {
		t.Fatalf("ListWorkOrders: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued work orders, got %d", len(queued))
	}
}

func TestFileBackend_ListIterationsByRun(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	ctx := context.Background()

	backend.SaveIteration(ctx, workorder.IterationData{RunID: "run-1", Iteration: 1})
	backend.SaveIteration(ctx, workorder.IterationData{RunID: "run-1", Iteration: 2})
	backend.SaveIteration(ctx, workorder.IterationData{RunID: "run-2", Iteration: 1})

	iters, err := backend.ListIterations(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListIterations: %v", err)
	}
	if len(iters) != 2 {
		t.Fatalf("expected 2 iterations for run-1, got %d", len(iters))
	}
}

func TestScanForCorruption_FlagsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	backend.SaveWorkOrder(context.Background(), workorder.WorkOrder{ID: "good", Status: workorder.StatusQueued})

	corruptPath := filepath.Join(dir, "work_orders", "bad.json")
	if err := os.WriteFile(corruptPath, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	result, err := ScanForCorruption(dir)
	if err != nil {
		t.Fatalf("ScanForCorruption: %v", err)
	}
	if result.TotalFiles != 2 || result.ValidCount != 1 || result.InvalidCount != 1 {
		t.Fatalf("unexpected scan result: %+v", result)
	}
	if len(result.CorruptedFiles) != 1 || result.CorruptedFiles[0] != corruptPath {
		t.Fatalf("expected corrupted file %s to be listed, got %v", corruptPath, result.CorruptedFiles)
	}
}

func TestQuarantine_RenamesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := Quarantine(path); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected original path to be gone, got err=%v", err)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("expected quarantined file to exist: %v", err)
	}
}

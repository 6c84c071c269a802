package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("persistence: record not found")

// FileBackend persists one JSON file per work order / run / iteration under
// a root directory, matching the "Persisted state" layout: no external
// service required, and always available as the default store.
type FileBackend struct {
	root string
	mu   sync.Mutex
}

// NewFileBackend constructs a FileBackend rooted at dir, creating the
// expected subdirectories if they do not already exist.
func NewFileBackend(dir string) (*FileBackend, error) {
	for _, sub := range []string{"work_orders", "runs", "iterations", "audit", "deadletter"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("persistence: create %s: %w", sub, err)
		}
	}
	return &FileBackend{root: dir}, nil
}

func (b *FileBackend) writeJSON(subdir, name string, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(b.root, subdir, name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (b *FileBackend) readJSON(subdir, name string, v any) error {
	path := filepath.Join(b.root, subdir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// deadLetter writes a record that failed retried persistence to a separate
// directory so the run can still fail cleanly instead of losing the record.
func (b *FileBackend) deadLetter(kind, name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(b.root, "deadletter", fmt.Sprintf("%s-%s-%d.json", kind, name, time.Now().UnixNano()))
	_ = os.WriteFile(path, data, 0o644)
}

// retryWrite attempts write up to 3 times with exponential backoff before
// dead-lettering, matching the persistence failure-handling design note.
func (b *FileBackend) retryWrite(kind, name string, v any, write func() error) error {
	var lastErr error
	delay := 50 * time.Millisecond
	for attempt := 1; attempt <= 3; attempt++ {
		if lastErr = write(); lastErr == nil {
			return nil
		}
		time.Sleep(delay)
		delay *= 2
	}
	b.deadLetter(kind, name, v)
	return fmt.Errorf("persistence: %s %s write failed after retries, dead-lettered: %w", kind, name, lastErr)
}

func (b *FileBackend) SaveWorkOrder(ctx context.Context, wo workorder.WorkOrder) error {
	return b.retryWrite("work_order", wo.ID, wo, func() error { return b.writeJSON("work_orders", wo.ID, wo) })
}

func (b *FileBackend) LoadWorkOrder(ctx context.Context, id string) (workorder.WorkOrder, error) {
	var wo workorder.WorkOrder
	err := b.readJSON("work_orders", id, &wo)
	return wo, err
}

func (b *FileBackend) ListWorkOrders(ctx context.Context, status workorder.WorkOrderStatus, limit, offset int) ([]workorder.WorkOrder, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, "work_orders"))
	if err != nil {
		return nil, err
	}
	var all []workorder.WorkOrder
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var wo workorder.WorkOrder
		if err := b.readJSON("work_orders", trimJSON(e.Name()), &wo); err != nil {
			continue
		}
		if status != "" && wo.Status != status {
			continue
		}
		all = append(all, wo)
	}
	if offset > len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (b *FileBackend) SaveRun(ctx context.Context, run workorder.Run) error {
	return b.retryWrite("run", run.ID, run, func() error { return b.writeJSON("runs", run.ID, run) })
}

func (b *FileBackend) LoadRun(ctx context.Context, id string) (workorder.Run, error) {
	var run workorder.Run
	err := b.readJSON("runs", id, &run)
	return run, err
}

func (b *FileBackend) ListRuns(ctx context.Context, workOrderID string) ([]workorder.Run, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, "runs"))
	if err != nil {
		return nil, err
	}
	var matches []workorder.Run
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var run workorder.Run
		if err := b.readJSON("runs", trimJSON(e.Name()), &run); err != nil {
			continue
		}
		if run.WorkOrderID == workOrderID {
			matches = append(matches, run)
		}
	}
	return matches, nil
}

func (b *FileBackend) SaveIteration(ctx context.Context, data workorder.IterationData) error {
	name := fmt.Sprintf("%s-%d", data.RunID, data.Iteration)
	return b.retryWrite("iteration", name, data, func() error { return b.writeJSON("iterations", name, data) })
}

func (b *FileBackend) ListIterations(ctx context.Context, runID string) ([]workorder.IterationData, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, "iterations"))
	if err != nil {
		return nil, err
	}
	var matches []workorder.IterationData
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var data workorder.IterationData
		if err := b.readJSON("iterations", trimJSON(e.Name()), &data); err != nil {
			continue
		}
		if data.RunID == runID {
			matches = append(matches, data)
		}
	}
	return matches, nil
}

func (b *FileBackend) SaveAudit(ctx context.Context, record AuditRecord) error {
	return b.retryWrite("audit", record.RunID, record, func() error { return b.writeJSON("audit", record.RunID, record) })
}

func trimJSON(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

var _ Store = (*FileBackend)(nil)

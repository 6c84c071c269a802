// Package persistence implements the load/save side of the Persistence
// external collaborator: one JSON record per work order, run, and
// iteration, plus a per-run audit trail.
package persistence

import (
	"context"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

// AuditRecord is the durable, append-only history of one run, used for
// post-hoc review and incident capture.
type AuditRecord struct {
	RunID          string          `json:"runId"`
	WorkOrderID    string          `json:"workOrderId"`
	InitialConfig  map[string]any  `json:"initialConfig"`
	FinalConfig    map[string]any  `json:"finalConfig"`
	IterationDiffs []IterationDiff `json:"iterationDiffs"`
}

// IterationDiff pairs a snapshot with a human-readable diff summary.
type IterationDiff struct {
	Snapshot workorder.Snapshot `json:"snapshot"`
	Diff     string             `json:"diff"`
}

// Store is the persistence interface the orchestrator, scheduler, and API
// layer consume. Concrete backends (file, redis, postgres) implement it.
type Store interface {
	SaveWorkOrder(ctx context.Context, wo workorder.WorkOrder) error
	LoadWorkOrder(ctx context.Context, id string) (workorder.WorkOrder, error)
	ListWorkOrders(ctx context.Context, status workorder.WorkOrderStatus, limit, offset int) ([]workorder.WorkOrder, error)

	SaveRun(ctx context.Context, run workorder.Run) error
	LoadRun(ctx context.Context, id string) (workorder.Run, error)
	ListRuns(ctx context.Context, workOrderID string) ([]workorder.Run, error)

	SaveIteration(ctx context.Context, data workorder.IterationData) error
	ListIterations(ctx context.Context, runID string) ([]workorder.IterationData, error)

	SaveAudit(ctx context.Context, record AuditRecord) error
}

// CorruptionScanResult is produced by a startup scan of persisted records.
type CorruptionScanResult struct {
	TotalFiles     int      `json:"totalFiles"`
	ValidCount     int      `json:"validCount"`
	InvalidCount   int      `json:"invalidCount"`
	CorruptedFiles []string `json:"corruptedFiles"`
	DurationMS     int64    `json:"durationMs"`
}

// Package orchestrator drives the per-run iteration loop: snapshot, agent
// execution, verification, then a strategy decision, until the strategy
// says stop or abort.
package orchestrator

import (
	"context"
	"time"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

// AgentResult is the opaque result an AgentRunner reports back.
type AgentResult struct {
	Success   bool
	SessionID string
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
	Model     string
	Output    string
	Signal    bool
	Err       error
}

// AgentRunner is the external collaborator that actually drives the coding
// agent. The orchestrator only ever calls Execute.
type AgentRunner interface {
	Execute(ctx context.Context, wo workorder.WorkOrder, iteration int) (AgentResult, error)
}

// VerificationRunner is the external collaborator that runs the verification
// levels against a snapshot.
type VerificationRunner interface {
	Verify(ctx context.Context, snapshot workorder.Snapshot) (workorder.VerificationReport, error)
}

// WorkspaceStore takes snapshots of the workspace and reports a content hash.
type WorkspaceStore interface {
	Snapshot(ctx context.Context, wo workorder.WorkOrder, iteration int) (workorder.Snapshot, error)
}

// Persistence loads and saves the durable records the orchestrator produces.
type Persistence interface {
	SaveWorkOrder(ctx context.Context, wo workorder.WorkOrder) error
	SaveRun(ctx context.Context, run workorder.Run) error
	SaveIteration(ctx context.Context, data workorder.IterationData) error
}

// Publisher is the narrow slice of the event broadcaster the orchestrator
// needs; kept as an interface so orchestrator tests don't need a real
// broadcaster.
type Publisher interface {
	PublishRunEvent(workOrderID, runID, eventType string, payload map[string]any)
}

// clock is overridable in tests; production uses time.Now/time.Since.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

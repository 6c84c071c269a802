// Package workorder holds the data model shared by every component of the
// control plane: work orders, runs, iterations, snapshots and the small
// value types that travel between them.
package workorder

import "time"

// WorkOrderStatus is the canonical lifecycle status of a work order.
type WorkOrderStatus string

const (
	StatusQueued               WorkOrderStatus = "queued"
	StatusRunning              WorkOrderStatus = "running"
	StatusWaitingForChildren   WorkOrderStatus = "waiting_for_children"
	StatusIntegrating          WorkOrderStatus = "integrating"
	StatusSucceeded            WorkOrderStatus = "succeeded"
	StatusFailed               WorkOrderStatus = "failed"
	StatusCanceled             WorkOrderStatus = "canceled"
)

// RunState is the canonical lifecycle state of a single run.
type RunState string

const (
	RunQueued       RunState = "queued"
	RunLeased       RunState = "leased"
	RunBuilding     RunState = "building"
	RunSnapshotting RunState = "snapshotting"
	RunVerifying    RunState = "verifying"
	RunFeedback     RunState = "feedback"
	RunPRCreated    RunState = "pr_created"
	RunCIPolling    RunState = "ci_polling"
	RunSucceeded    RunState = "succeeded"
	RunFailed       RunState = "failed"
	RunCanceled     RunState = "canceled"
)

// RunResult is the terminal outcome recorded against a run.
type RunResult string

const (
	ResultPassed    RunResult = "passed"
	ResultFailed    RunResult = "failed"
	ResultCancelled RunResult = "cancelled"
	ResultError     RunResult = "error"
)

// WorkspaceSourceKind tags the variant carried by WorkspaceSource.
type WorkspaceSourceKind string

const (
	WorkspaceLocal     WorkspaceSourceKind = "local"
	WorkspaceGitHub    WorkspaceSourceKind = "github"
	WorkspaceGitHubNew WorkspaceSourceKind = "github_new"
)

// WorkspaceSource is a tagged variant describing where the workspace for a
// work order comes from. Only the fields matching Kind are meaningful.
type WorkspaceSource struct {
	Kind WorkspaceSourceKind `json:"kind"`

	// local
	Path string `json:"path,omitempty"`

	// github / github_new
	Owner    string `json:"owner,omitempty"`
	Repo     string `json:"repo,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Name     string `json:"name,omitempty"`
	Template string `json:"template,omitempty"`
}

// WorkOrder is a user request to perform a task on a workspace.
type WorkOrder struct {
	ID                   string          `json:"id" db:"id"`
	Prompt               string          `json:"prompt" db:"prompt"`
	Workspace            WorkspaceSource `json:"workspace" db:"-"`
	AgentType            string          `json:"agentType" db:"agent_type"`
	MaxIterations        int             `json:"maxIterations" db:"max_iterations"`
	MaxWallClockSeconds  int             `json:"maxWallClockSeconds" db:"max_wall_clock_seconds"`
	HarnessProfile       string          `json:"harnessProfile,omitempty" db:"harness_profile"`
	Status               WorkOrderStatus `json:"status" db:"status"`
	ParentID             *string         `json:"parentId,omitempty" db:"parent_id"`
	Depth                int             `json:"depth" db:"depth"`
	CreatedAt            time.Time       `json:"createdAt" db:"created_at"`
	CompletedAt          *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// IsTerminal reports whether the status cannot transition further.
func (s WorkOrderStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the run state cannot transition further.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// Run is one end-to-end attempt to satisfy a work order.
type Run struct {
	ID          string     `json:"id" db:"id"`
	WorkOrderID string     `json:"workOrderId" db:"work_order_id"`
	Iteration   int        `json:"iteration" db:"iteration"`
	State       RunState   `json:"state" db:"state"`
	StartedAt   time.Time  `json:"startedAt" db:"started_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	SessionID   string     `json:"sessionId,omitempty" db:"session_id"`
	Result      RunResult  `json:"result,omitempty" db:"result"`
}

// ErrorType is the iteration-level error taxonomy from the design's error
// handling section.
type ErrorType string

const (
	ErrorNone               ErrorType = "none"
	ErrorAgentCrash         ErrorType = "agent_crash"
	ErrorAgentFailure       ErrorType = "agent_failure"
	ErrorVerificationFailed ErrorType = "verification_failed"
	ErrorTimeout            ErrorType = "timeout"
	ErrorSystem             ErrorType = "system_error"
)

// IterationData is the durable record of one agent+verify cycle inside a run.
type IterationData struct {
	Iteration     int        `json:"iteration" db:"iteration"`
	RunID         string     `json:"runId" db:"run_id"`
	State         RunState   `json:"state" db:"state"`
	StartedAt     time.Time  `json:"startedAt" db:"started_at"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	DurationMS    int64      `json:"durationMs" db:"duration_ms"`
	SnapshotID    string     `json:"snapshotId,omitempty" db:"snapshot_id"`

	// Agent fields.
	SessionID    string `json:"sessionId,omitempty" db:"session_id"`
	Model        string `json:"model,omitempty" db:"model"`
	TokensIn     int64  `json:"tokensIn" db:"tokens_in"`
	TokensOut    int64  `json:"tokensOut" db:"tokens_out"`
	CostUSD      float64 `json:"costUsd" db:"cost_usd"`
	AgentSuccess bool   `json:"agentSuccess" db:"agent_success"`

	// Verification fields.
	VerificationLevelsRun []string `json:"verificationLevelsRun,omitempty" db:"-"`
	VerificationPassed    bool     `json:"verificationPassed" db:"verification_passed"`
	VerificationDuration  int64    `json:"verificationDurationMs" db:"verification_duration_ms"`

	// Error fields.
	ErrorType    ErrorType `json:"errorType" db:"error_type"`
	ErrorMessage string    `json:"errorMessage,omitempty" db:"error_message"`
}

// Validate enforces the recorded invariant: a successful agent run plus a
// passing verification implies no error was recorded.
func (d IterationData) Validate() error {
	if d.AgentSuccess && d.VerificationPassed && d.ErrorType != ErrorNone {
		return &InvariantError{
			Invariant: "agentSuccess-verificationPassed-implies-no-error",
			Detail:    "agentSuccess and verificationPassed were true but errorType was not none",
		}
	}
	return nil
}

// Snapshot is a captured, content-addressed state of the workspace after an
// iteration, used as the fingerprint for loop detection.
type Snapshot struct {
	ID          string    `json:"id" db:"id"`
	AfterSHA    string    `json:"afterSha" db:"after_sha"`
	FilesChanged int      `json:"filesChanged" db:"files_changed"`
	Insertions  int       `json:"insertions" db:"insertions"`
	Deletions   int       `json:"deletions" db:"deletions"`
	Iteration   int       `json:"iteration" db:"iteration"`
	Branch      string    `json:"branch,omitempty" db:"branch"`
	CommitMsg   string    `json:"commitMessage,omitempty" db:"commit_message"`
	CapturedAt  time.Time `json:"capturedAt" db:"captured_at"`
}

// VerificationLevelResult is the outcome of a single verification level.
type VerificationLevelResult struct {
	Level    string        `json:"level"`
	Passed   bool          `json:"passed"`
	Checks   []string      `json:"checks,omitempty"`
	Duration time.Duration `json:"duration"`
}

// VerificationReport aggregates per-level results L0-L3.
type VerificationReport struct {
	Levels      []VerificationLevelResult `json:"levels"`
	Passed      bool                      `json:"passed"`
	Diagnostics []string                  `json:"diagnostics,omitempty"`
	Duration    time.Duration             `json:"duration"`
}

// HighestLevelPassed returns the index of the highest verification level
// that passed, or -1 if none passed. Levels are assumed ordered L0..L3 in
// the slice.
func (r VerificationReport) HighestLevelPassed() int {
	highest := -1
	for i, lvl := range r.Levels {
		if lvl.Passed {
			highest = i
		}
	}
	return highest
}

// QueuedWorkOrder is an enqueued work order awaiting dispatch.
type QueuedWorkOrder struct {
	ID          string    `json:"id"`
	Priority    int       `json:"priority"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// QueuePositionState is the coarse state exposed alongside a queue position.
type QueuePositionState string

const (
	QueuePositionWaiting QueuePositionState = "waiting"
	QueuePositionRunning QueuePositionState = "running"
)

// QueuePosition is the externally-exposed view of where a work order sits.
type QueuePosition struct {
	Position       int                `json:"position"`
	Ahead          int                `json:"ahead"`
	State          QueuePositionState `json:"state"`
	EnqueuedAt     time.Time          `json:"enqueuedAt"`
	EstimatedWaitMS *int64            `json:"estimatedWaitMs,omitempty"`
}

// RetryAttempt tracks one scheduled retry for a work order.
type RetryAttempt struct {
	WorkOrderID   string        `json:"workOrderId"`
	AttemptNumber int           `json:"attemptNumber"`
	ScheduledDelay time.Duration `json:"scheduledDelay"`
}

// EventFilter narrows the events a subscriber receives.
type EventFilter struct {
	Types     []string `json:"types,omitempty"`
	Verbosity string   `json:"verbosity,omitempty"`
}

// Subscription records one client's interest in a work order's events.
type Subscription struct {
	ClientID    string       `json:"clientId"`
	WorkOrderID string       `json:"workOrderId"`
	Filter      *EventFilter `json:"filter,omitempty"`
}

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/workbenchhq/controlplane/internal/strategy"
	"github.com/workbenchhq/controlplane/internal/workorder"
)

type fakeAgent struct {
	result AgentResult
	err    error
}

func (f *fakeAgent) Execute(ctx context.Context, wo workorder.WorkOrder, iteration int) (AgentResult, error) {
	return f.result, f.err
}

type fakeVerifier struct {
	report workorder.VerificationReport
	err    error
}

func (f *fakeVerifier) Verify(ctx context.Context, snapshot workorder.Snapshot) (workorder.VerificationReport, error) {
	return f.report, f.err
}

type fakeWorkspace struct{}

func (fakeWorkspace) Snapshot(ctx context.Context, wo workorder.WorkOrder, iteration int) (workorder.Snapshot, error) {
	return workorder.Snapshot{ID: "snap", AfterSHA: "sha"}, nil
}

type fakePersistence struct {
	runs       []workorder.Run
	iterations []workorder.IterationData
}

func (f *fakePersistence) SaveWorkOrder(ctx context.Context, wo workorder.WorkOrder) error { return nil }
func (f *fakePersistence) SaveRun(ctx context.Context, run workorder.Run) error {
	f.runs = append(f.runs, run)
	return nil
}
func (f *fakePersistence) SaveIteration(ctx context.Context, data workorder.IterationData) error {
	f.iterations = append(f.iterations, data)
	return nil
}

type fakePublisher struct{ events []string }

func (f *fakePublisher) PublishRunEvent(workOrderID, runID, eventType string, payload map[string]any) {
	f.events = append(f.events, eventType)
}

func TestOrchestrator_SucceedsOnVerificationPass(t *testing.T) {
	agent := &fakeAgent{result: AgentResult{Success: true}}
	verifier := &fakeVerifier{report: workorder.VerificationReport{Passed: true}}
	persist := &fakePersistence{}
	pub := &fakePublisher{}

	o := New(agent, verifier, fakeWorkspace{}, persist, pub)

	strat := strategy.NewFixed()
	strat.Initialize(map[string]any{"maxIterations": 10, "criteria": []string{"verification_pass"}})

	wo := workorder.WorkOrder{ID: "wo-1", MaxIterations: 10}
	run := workorder.Run{ID: "run-1", WorkOrderID: "wo-1", State: workorder.RunLeased}

	handle := o.Drive(context.Background(), wo, run, strat)
	handle.Wait()

	require.NotEmpty(t, persist.runs, "expected a run to be persisted")
	last := persist.runs[len(persist.runs)-1]
	require.Equal(t, workorder.RunSucceeded, last.State)
	require.Len(t, persist.iterations, 1)
}

func TestOrchestrator_CancellationStopsRun(t *testing.T) {
	agent := &fakeAgent{result: AgentResult{Success: true}}
	verifier := &fakeVerifier{report: workorder.VerificationReport{Passed: false}}
	persist := &fakePersistence{}
	pub := &fakePublisher{}

	o := New(agent, verifier, fakeWorkspace{}, persist, pub)
	strat := strategy.NewFixed()
	strat.Initialize(map[string]any{"maxIterations": 1000, "criteria": []string{}})

	wo := workorder.WorkOrder{ID: "wo-1", MaxIterations: 1000}
	run := workorder.Run{ID: "run-1", WorkOrderID: "wo-1", State: workorder.RunLeased}

	handle := o.Drive(context.Background(), wo, run, strat)
	time.Sleep(5 * time.Millisecond)
	handle.Cancel()
	handle.Wait()

	require.NotEmpty(t, persist.runs)
	last := persist.runs[len(persist.runs)-1]
	require.Equal(t, workorder.RunCanceled, last.State)
}

func TestOrchestrator_TimeoutRecordsErrorIteration(t *testing.T) {
	agent := &fakeAgent{result: AgentResult{Success: true}}
	verifier := &fakeVerifier{report: workorder.VerificationReport{Passed: false}}
	persist := &fakePersistence{}
	pub := &fakePublisher{}

	o := New(agent, verifier, fakeWorkspace{}, persist, pub)
	o.clock = fixedAdvancingClock{}

	strat := strategy.NewFixed()
	strat.Initialize(map[string]any{"maxIterations": 1000, "criteria": []string{}})

	wo := workorder.WorkOrder{ID: "wo-1", MaxIterations: 1000, MaxWallClockSeconds: 1}
	run := workorder.Run{ID: "run-1", WorkOrderID: "wo-1", State: workorder.RunLeased}

	handle := o.Drive(context.Background(), wo, run, strat)
	handle.Wait()

	require.NotEmpty(t, persist.runs)
	last := persist.runs[len(persist.runs)-1]
	require.Equal(t, workorder.RunFailed, last.State)
}

// fixedAdvancingClock reports a time far enough in the future on every call
// after the first so the deadline check always trips immediately.
type fixedAdvancingClock struct{}

func (fixedAdvancingClock) Now() time.Time {
	return time.Now().Add(time.Hour)
}

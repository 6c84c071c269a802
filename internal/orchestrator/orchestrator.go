package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/workbenchhq/controlplane/internal/statemachine"
	"github.com/workbenchhq/controlplane/internal/strategy"
	"github.com/workbenchhq/controlplane/internal/workorder"
)

// Orchestrator drives one run's iteration loop end to end.
type Orchestrator struct {
	agent    AgentRunner
	verifier VerificationRunner
	wsStore  WorkspaceStore
	persist  Persistence
	pub      Publisher
	clock    clock
}

// New constructs an Orchestrator wired to its external collaborators.
func New(agent AgentRunner, verifier VerificationRunner, wsStore WorkspaceStore, persist Persistence, pub Publisher) *Orchestrator {
	return &Orchestrator{agent: agent, verifier: verifier, wsStore: wsStore, persist: persist, pub: pub, clock: realClock{}}
}

// cancelToken is shared between the run and anything that wants to cancel
// it; tripping it signals downstream to the agent/verifier via ctx
// cancellation and is observed between loop stages.
type cancelToken struct {
	mu        sync.Mutex
	cancelled bool
	timedOut  bool
}

func (t *cancelToken) trip(timeout bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	t.timedOut = timeout
}

func (t *cancelToken) isCancelled() (cancelled, timedOut bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled, t.timedOut
}

// RunHandle lets a caller cancel an in-flight run.
type RunHandle struct {
	token *cancelToken
	done  chan struct{}
}

// Cancel flips the run's cancel token. Safe to call multiple times.
func (h *RunHandle) Cancel() { h.token.trip(false) }

// Wait blocks until the run reaches a terminal state.
func (h *RunHandle) Wait() { <-h.done }

// Drive runs the iteration loop for wo using strat as the termination
// policy, until the strategy decides to stop/abort, the wall-clock deadline
// elapses, or the run is cancelled. It returns a handle the caller can use
// to cancel the run or wait for completion.
func (o *Orchestrator) Drive(ctx context.Context, wo workorder.WorkOrder, run workorder.Run, strat strategy.Strategy) *RunHandle {
	token := &cancelToken{}
	done := make(chan struct{})

	go func() {
		defer close(done)
		o.driveLoop(ctx, wo, run, strat, token)
	}()

	return &RunHandle{token: token, done: done}
}

func (o *Orchestrator) driveLoop(ctx context.Context, wo workorder.WorkOrder, run workorder.Run, strat strategy.Strategy, token *cancelToken) {
	runMachine := statemachine.NewRunMachine(run.State)
	var deadline time.Time
	if wo.MaxWallClockSeconds > 0 {
		deadline = o.clock.Now().Add(time.Duration(wo.MaxWallClockSeconds) * time.Second)
	}

	strat.OnLoopStart()
	var history []strategy.IterationRecord
	var finalDecision strategy.Decision
	var lastVerificationPassed bool

	for iteration := 1; ; iteration++ {
		if cancelled, _ := token.isCancelled(); cancelled {
			o.finishRun(ctx, &run, runMachine, workorder.RunCanceled, workorder.ResultCancelled)
			strat.OnLoopEnd(strategy.Decision{Action: strategy.ActionAbort, Reason: "cancelled"})
			return
		}
		if !deadline.IsZero() && o.clock.Now().After(deadline) {
			o.recordTimeoutIteration(ctx, run.ID, iteration)
			o.finishRun(ctx, &run, runMachine, workorder.RunFailed, workorder.ResultError)
			strat.OnLoopEnd(strategy.Decision{Action: strategy.ActionAbort, Reason: "wall clock deadline exceeded"})
			return
		}

		strat.OnIterationStart(iteration)
		iterStart := o.clock.Now()

		if iteration > 1 {
			_ = runMachine.TransitionTo(workorder.RunFeedback)
		}
		if err := runMachine.TransitionTo(workorder.RunBuilding); err != nil {
			log.Printf("orchestrator: %v", err)
		}
		data := o.runIteration(ctx, wo, run, iteration, token)
		if err := runMachine.TransitionTo(workorder.RunSnapshotting); err != nil {
			log.Printf("orchestrator: %v", err)
		}
		if err := runMachine.TransitionTo(workorder.RunVerifying); err != nil {
			log.Printf("orchestrator: %v", err)
		}
		history = append(history, strategy.IterationRecord{
			Iteration:    iteration,
			AgentOutput:  data.agentOutput,
			AgentSignal:  data.agentSignal,
			Snapshot:     data.snapshot,
			Verification: data.verification,
		})

		iterData := workorder.IterationData{
			Iteration:    iteration,
			RunID:        run.ID,
			State:        runMachine.State(),
			StartedAt:    iterStart,
			DurationMS:   o.clock.Now().Sub(iterStart).Milliseconds(),
			SnapshotID:   data.snapshot.ID,
			SessionID:    data.agentResult.SessionID,
			Model:        data.agentResult.Model,
			TokensIn:     data.agentResult.TokensIn,
			TokensOut:    data.agentResult.TokensOut,
			CostUSD:      data.agentResult.CostUSD,
			AgentSuccess: data.agentResult.Success,
			VerificationPassed: data.verification.Passed,
			ErrorType:    data.errorType,
			ErrorMessage: data.errorMessage,
		}
		completedAt := o.clock.Now()
		iterData.CompletedAt = &completedAt

		if err := o.persist.SaveIteration(ctx, iterData); err != nil {
			log.Printf("orchestrator: failed to persist iteration %d for run %s: %v", iteration, run.ID, err)
		}
		o.pub.PublishRunEvent(wo.ID, run.ID, "progress_update", map[string]any{"iteration": iteration})

		decision := strat.ShouldContinue(strategy.IterationContext{
			Iteration:    iteration,
			Snapshot:     data.snapshot,
			Verification: data.verification,
			AgentOutput:  data.agentOutput,
			History:      history,
		})
		strat.OnIterationEnd(decision)
		finalDecision = decision
		lastVerificationPassed = data.verification.Passed

		if !decision.ShouldContinue {
			break
		}
	}

	strat.OnLoopEnd(finalDecision)
	o.finalizeRun(ctx, &run, runMachine, finalDecision, lastVerificationPassed)
}

type iterationOutcome struct {
	snapshot     workorder.Snapshot
	agentResult  AgentResult
	agentOutput  string
	agentSignal  bool
	verification workorder.VerificationReport
	errorType    workorder.ErrorType
	errorMessage string
}

// runIteration executes exactly one snapshot -> agent -> verify cycle. Every
// iteration produces an IterationData even when a stage fails; error fields
// capture what went wrong rather than the iteration being skipped silently.
func (o *Orchestrator) runIteration(ctx context.Context, wo workorder.WorkOrder, run workorder.Run, iteration int, token *cancelToken) iterationOutcome {
	out := iterationOutcome{errorType: workorder.ErrorNone}

	snapshot, err := o.wsStore.Snapshot(ctx, wo, iteration)
	if err != nil {
		out.errorType = workorder.ErrorSystem
		out.errorMessage = err.Error()
		return out
	}
	out.snapshot = snapshot

	agentResult, err := o.agent.Execute(ctx, wo, iteration)
	out.agentResult = agentResult
	out.agentOutput = agentResult.Output
	out.agentSignal = agentResult.Signal
	if err != nil {
		if ctx.Err() != nil {
			out.errorType = workorder.ErrorTimeout
		} else {
			out.errorType = workorder.ErrorAgentCrash
		}
		out.errorMessage = err.Error()
		return out
	}
	if !agentResult.Success {
		out.errorType = workorder.ErrorAgentFailure
		if agentResult.Err != nil {
			out.errorMessage = agentResult.Err.Error()
		}
		return out
	}

	report, err := o.verifier.Verify(ctx, snapshot)
	if err != nil {
		out.errorType = workorder.ErrorVerificationFailed
		out.errorMessage = err.Error()
		return out
	}
	out.verification = report
	if !report.Passed {
		out.errorType = workorder.ErrorVerificationFailed
	}
	return out
}

func (o *Orchestrator) recordTimeoutIteration(ctx context.Context, runID string, iteration int) {
	now := o.clock.Now()
	data := workorder.IterationData{
		Iteration:    iteration,
		RunID:        runID,
		StartedAt:    now,
		CompletedAt:  &now,
		ErrorType:    workorder.ErrorTimeout,
		ErrorMessage: "wall clock deadline exceeded",
	}
	if err := o.persist.SaveIteration(ctx, data); err != nil {
		log.Printf("orchestrator: failed to persist timeout iteration for run %s: %v", runID, err)
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, run *workorder.Run, m *statemachine.RunMachine, state workorder.RunState, result workorder.RunResult) {
	if err := m.TransitionTo(state); err != nil {
		log.Printf("orchestrator: %v", err)
	}
	run.State = m.State()
	run.Result = result
	completedAt := o.clock.Now()
	run.CompletedAt = &completedAt
	if err := o.persist.SaveRun(ctx, *run); err != nil {
		log.Printf("orchestrator: failed to persist run %s: %v", run.ID, err)
	}
}

// finalizeRun maps a strategy decision to the run's terminal state: abort
// fails the run, stop-with-partial-accept succeeds it, and a plain stop
// defers to whether verification passed.
func (o *Orchestrator) finalizeRun(ctx context.Context, run *workorder.Run, m *statemachine.RunMachine, decision strategy.Decision, verificationPassed bool) {
	switch {
	case decision.Action == strategy.ActionAbort:
		o.finishRun(ctx, run, m, workorder.RunFailed, workorder.ResultFailed)
	case decision.PartialAccept:
		o.finishRun(ctx, run, m, workorder.RunSucceeded, workorder.ResultPassed)
	case verificationPassed:
		o.finishRun(ctx, run, m, workorder.RunSucceeded, workorder.ResultPassed)
	default:
		o.finishRun(ctx, run, m, workorder.RunFailed, workorder.ResultFailed)
	}
}

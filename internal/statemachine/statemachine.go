// Package statemachine centralises the lifecycle transition tables for work
// orders and runs so no other component writes a status field directly.
package statemachine

import (
	"sync"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

// WorkOrderTransitions is the allowed-edge table for work-order status.
// Cancellation from any non-terminal state is handled separately in
// TransitionTo rather than listed here for every source state.
var WorkOrderTransitions = map[workorder.WorkOrderStatus][]workorder.WorkOrderStatus{
	workorder.StatusQueued:             {workorder.StatusRunning, workorder.StatusCanceled},
	workorder.StatusRunning:            {workorder.StatusWaitingForChildren, workorder.StatusIntegrating, workorder.StatusSucceeded, workorder.StatusFailed, workorder.StatusCanceled},
	workorder.StatusWaitingForChildren: {workorder.StatusIntegrating, workorder.StatusFailed, workorder.StatusCanceled},
	workorder.StatusIntegrating:        {workorder.StatusSucceeded, workorder.StatusFailed, workorder.StatusCanceled},
	workorder.StatusSucceeded:          {},
	workorder.StatusFailed:             {workorder.StatusQueued}, // retry re-enqueues a failed work order
	workorder.StatusCanceled:           {},
}

// RunTransitions is the allowed-edge table for run state.
var RunTransitions = map[workorder.RunState][]workorder.RunState{
	workorder.RunQueued:       {workorder.RunLeased, workorder.RunCanceled},
	workorder.RunLeased:       {workorder.RunBuilding, workorder.RunCanceled, workorder.RunFailed},
	workorder.RunBuilding:     {workorder.RunSnapshotting, workorder.RunFailed, workorder.RunCanceled},
	workorder.RunSnapshotting: {workorder.RunVerifying, workorder.RunFailed, workorder.RunCanceled},
	workorder.RunVerifying:    {workorder.RunFeedback, workorder.RunPRCreated, workorder.RunSucceeded, workorder.RunFailed, workorder.RunCanceled},
	workorder.RunFeedback:     {workorder.RunBuilding, workorder.RunFailed, workorder.RunCanceled},
	workorder.RunPRCreated:    {workorder.RunCIPolling, workorder.RunFailed, workorder.RunCanceled},
	workorder.RunCIPolling:    {workorder.RunSucceeded, workorder.RunFailed, workorder.RunCanceled},
	workorder.RunSucceeded:    {},
	workorder.RunFailed:       {},
	workorder.RunCanceled:     {},
}

// WorkOrderMachine guards a single work order's status under a lock so
// queue, orchestrator and API handlers never race on the same field.
type WorkOrderMachine struct {
	mu     sync.Mutex
	status workorder.WorkOrderStatus
}

// NewWorkOrderMachine starts a machine in the given status.
func NewWorkOrderMachine(initial workorder.WorkOrderStatus) *WorkOrderMachine {
	return &WorkOrderMachine{status: initial}
}

// Status returns the current status.
func (m *WorkOrderMachine) Status() workorder.WorkOrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsTerminal reports whether the current status is terminal.
func (m *WorkOrderMachine) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.IsTerminal()
}

// TransitionTo attempts to move to target, honoring the transition table and
// the always-legal cancellation rule from any non-terminal state.
func (m *WorkOrderMachine) TransitionTo(target workorder.WorkOrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.IsTerminal() {
		return &workorder.IllegalTransitionError{Entity: "work_order", From: string(m.status), To: string(target)}
	}

	if target == workorder.StatusCanceled {
		m.status = target
		return nil
	}

	for _, allowed := range WorkOrderTransitions[m.status] {
		if allowed == target {
			m.status = target
			return nil
		}
	}
	return &workorder.IllegalTransitionError{Entity: "work_order", From: string(m.status), To: string(target)}
}

// RunMachine is the run-state equivalent of WorkOrderMachine.
type RunMachine struct {
	mu    sync.Mutex
	state workorder.RunState
}

// NewRunMachine starts a machine in the given state.
func NewRunMachine(initial workorder.RunState) *RunMachine {
	return &RunMachine{state: initial}
}

// State returns the current run state.
func (m *RunMachine) State() workorder.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsTerminal reports whether the current state is terminal.
func (m *RunMachine) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsTerminal()
}

// TransitionTo attempts to move to target, honoring the transition table and
// the always-legal cancellation rule from any non-terminal state.
func (m *RunMachine) TransitionTo(target workorder.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.IsTerminal() {
		return &workorder.IllegalTransitionError{Entity: "run", From: string(m.state), To: string(target)}
	}

	if target == workorder.RunCanceled {
		m.state = target
		return nil
	}

	for _, allowed := range RunTransitions[m.state] {
		if allowed == target {
			m.state = target
			return nil
		}
	}
	return &workorder.IllegalTransitionError{Entity: "run", From: string(m.state), To: string(target)}
}

package statemachine

import (
	"testing"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

func TestWorkOrderMachine_AllowedTransition(t *testing.T) {
	m := NewWorkOrderMachine(workorder.StatusQueued)
	if err := m.TransitionTo(workorder.StatusRunning); err != nil {
		t.Fatalf("expected allowed transition, got error: %v", err)
	}
	if got := m.Status(); got != workorder.StatusRunning {
		t.Fatalf("expected status running, got %s", got)
	}
}

func TestWorkOrderMachine_IllegalTransition(t *testing.T) {
	m := NewWorkOrderMachine(workorder.StatusQueued)
	err := m.TransitionTo(workorder.StatusSucceeded)
	if err == nil {
		t.Fatal("expected illegal-transition error, got nil")
	}
}

func TestWorkOrderMachine_TerminalCannotTransitionOut(t *testing.T) {
	m := NewWorkOrderMachine(workorder.StatusSucceeded)
	if err := m.TransitionTo(workorder.StatusRunning); err == nil {
		t.Fatal("expected terminal status to reject every transition")
	}
}

func TestWorkOrderMachine_CancelAlwaysLegal(t *testing.T) {
	for _, start := range []workorder.WorkOrderStatus{
		workorder.StatusQueued, workorder.StatusRunning, workorder.StatusWaitingForChildren, workorder.StatusIntegrating,
	} {
		m := NewWorkOrderMachine(start)
		if err := m.TransitionTo(workorder.StatusCanceled); err != nil {
			t.Fatalf("cancel from %s should be legal, got %v", start, err)
		}
	}
}

func TestRunMachine_Lifecycle(t *testing.T) {
	m := NewRunMachine(workorder.RunQueued)
	steps := []workorder.RunState{
		workorder.RunLeased, workorder.RunBuilding, workorder.RunSnapshotting, workorder.RunVerifying, workorder.RunSucceeded,
	}
	for _, s := range steps {
		if err := m.TransitionTo(s); err != nil {
			t.Fatalf("unexpected error transitioning to %s: %v", s, err)
		}
	}
	if !m.IsTerminal() {
		t.Fatal("expected succeeded to be terminal")
	}
}

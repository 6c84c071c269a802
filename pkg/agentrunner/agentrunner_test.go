package agentrunner

import (
	"context"
	"testing"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

func TestNoopRunner_AlwaysSucceeds(t *testing.T) {
	r := &NoopRunner{}
	result, err := r.Execute(context.Background(), workorder.WorkOrder{ID: "wo-1"}, 1)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatal("expected NoopRunner to always succeed")
	}
	if result.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	if result.Model != "noop" {
		t.Fatalf("expected default model 'noop', got %q", result.Model)
	}
}

func TestNoopRunner_GeneratesDistinctSessionIDs(t *testing.T) {
	r := &NoopRunner{}
	first, _ := r.Execute(context.Background(), workorder.WorkOrder{ID: "wo-1"}, 1)
	second, _ := r.Execute(context.Background(), workorder.WorkOrder{ID: "wo-1"}, 2)
	if first.SessionID == second.SessionID {
		t.Fatal("expected each Execute call to mint a fresh session id")
	}
}

func TestCommandRunner_SuccessDetectsCompletionSignal(t *testing.T) {
	r := &CommandRunner{Command: "sh", Args: []string{"-c", "echo TASK_COMPLETE"}}
	result, err := r.Execute(context.Background(), workorder.WorkOrder{ID: "wo-1", Prompt: "do the thing"}, 1)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got failure: %v", result.Err)
	}
	if !result.Signal {
		t.Fatal("expected TASK_COMPLETE output to set Signal=true")
	}
}

func TestCommandRunner_NonZeroExitIsRecordedNotReturned(t *testing.T) {
	r := &CommandRunner{Command: "sh", Args: []string{"-c", "exit 1"}}
	result, err := r.Execute(context.Background(), workorder.WorkOrder{ID: "wo-1"}, 1)
	if err != nil {
		t.Fatalf("expected Execute itself to return nil error, got %v", err)
	}
	if result.Success {
		t.Fatal("expected a non-zero exit to report Success=false")
	}
	if result.Err == nil {
		t.Fatal("expected Err to be set on command failure")
	}
}

package verification

import (
	"context"
	"testing"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

func TestNoopRunner_AlwaysPasses(t *testing.T) {
	report, err := NoopRunner{}.Verify(context.Background(), workorder.Snapshot{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.Passed {
		t.Fatal("expected NoopRunner to always pass")
	}
	if len(report.Levels) != 1 || report.Levels[0].Level != "L0" {
		t.Fatalf("expected a single L0 level, got %+v", report.Levels)
	}
}

func TestCommandRunner_AllLevelsPass(t *testing.T) {
	r := &CommandRunner{
		Levels: []Level{
			{Name: "L0", Command: "true"},
			{Name: "L1", Command: "true"},
		},
	}
	report, err := r.Verify(context.Background(), workorder.Snapshot{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.Passed {
		t.Fatal("expected all-passing levels to yield an overall pass")
	}
	if len(report.Levels) != 2 {
		t.Fatalf("expected 2 level results, got %d", len(report.Levels))
	}
}

func TestCommandRunner_StopsAtFirstFailure(t *testing.T) {
	r := &CommandRunner{
		Levels: []Level{
			{Name: "L0", Command: "false"},
			{Name: "L1", Command: "true"},
		},
	}
	report, err := r.Verify(context.Background(), workorder.Snapshot{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.Passed {
		t.Fatal("expected overall failure when the first level fails")
	}
	if len(report.Levels) != 1 {
		t.Fatalf("expected verification to stop after the first failing level, got %d results", len(report.Levels))
	}
	if len(report.Diagnostics) != 1 {
		t.Fatalf("expected one diagnostic for the failed level, got %d", len(report.Diagnostics))
	}
}

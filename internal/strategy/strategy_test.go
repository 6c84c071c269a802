package strategy

import (
	"errors"
	"testing"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

func TestJaccardSimilarity_SymmetricAndBounded(t *testing.T) {
	cases := []struct{ a, b string }{
		{"the quick brown fox", "the quick brown fox"},
		{"the quick brown fox", "a slow green turtle"},
		{"", ""},
		{"hello world", ""},
	}
	for _, c := range cases {
		ab := jaccardSimilarity(c.a, c.b)
		ba := jaccardSimilarity(c.b, c.a)
		if ab != ba {
			t.Fatalf("expected symmetric similarity for %q/%q, got %v vs %v", c.a, c.b, ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Fatalf("similarity out of bounds: %v", ab)
		}
	}
}

func TestFixed_StopsAtMaxIterations(t *testing.T) {
	f := NewFixed()
	if err := f.Initialize(map[string]any{"maxIterations": 3, "criteria": []string{}}); err != nil {
		t.Fatal(err)
	}

	iterations := 0
	for i := 1; i <= 10; i++ {
		iterations = i
		d := f.ShouldContinue(IterationContext{Iteration: i, Snapshot: workorder.Snapshot{AfterSHA: "sha-x"}})
		if !d.ShouldContinue {
			break
		}
	}
	if iterations != 3 {
		t.Fatalf("expected exactly 3 iterations for maxIterations=3, got %d", iterations)
	}
}

func TestFixed_ExactLoopDetection(t *testing.T) {
	f := NewFixed()
	f.Initialize(map[string]any{"maxIterations": 100, "criteria": []string{"loop_detection"}})

	var last Decision
	for i := 1; i <= 3; i++ {
		last = f.ShouldContinue(IterationContext{Iteration: i, Snapshot: workorder.Snapshot{AfterSHA: "same-sha"}})
	}
	if last.ShouldContinue {
		t.Fatal("expected loop detection to stop the run on the third identical sha")
	}
	ld := f.DetectLoop(IterationContext{})
	if len(ld.RepeatPatterns) == 0 || ld.RepeatPatterns[0].PatternType != "exact" {
		t.Fatalf("expected an exact repeat pattern, got %+v", ld.RepeatPatterns)
	}
}

func TestHybrid_PartialAcceptOnProgress(t *testing.T) {
	h := NewHybrid()
	h.Initialize(map[string]any{"baseIterations": 2, "maxBonusIterations": 1, "criteria": []string{}})

	h.ShouldContinue(IterationContext{Iteration: 1, Snapshot: workorder.Snapshot{AfterSHA: "a"}, Verification: workorder.VerificationReport{Levels: []workorder.VerificationLevelResult{{Level: "L0", Passed: false}}}})
	h.ShouldContinue(IterationContext{Iteration: 2, Snapshot: workorder.Snapshot{AfterSHA: "b"}, Verification: workorder.VerificationReport{Levels: []workorder.VerificationLevelResult{{Level: "L0", Passed: false}}}})
	d := h.ShouldContinue(IterationContext{Iteration: 3, Snapshot: workorder.Snapshot{AfterSHA: "c"}, Verification: workorder.VerificationReport{Levels: []workorder.VerificationLevelResult{{Level: "L0", Passed: true}, {Level: "L1", Passed: true}}}})

	if d.ShouldContinue {
		t.Fatal("expected hybrid to stop at iteration 3 (base+bonus)")
	}
	if !d.PartialAccept {
		t.Fatal("expected partialAccept given strictly increasing verification level")
	}
	if d.Reason != "Max iterations reached with progress" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

// TestHybrid_PartialAcceptOnEarlyProgressThenPlateau covers a run that rises
// from L0 to L1 on iteration 2 and then plateaus at L1 through the cap: the
// run as a whole made progress even though the final iteration's level
// matches the one before it.
func TestHybrid_PartialAcceptOnEarlyProgressThenPlateau(t *testing.T) {
	h := NewHybrid()
	h.Initialize(map[string]any{"baseIterations": 2, "maxBonusIterations": 1, "criteria": []string{}})

	l0 := workorder.VerificationReport{Levels: []workorder.VerificationLevelResult{{Level: "L0", Passed: true}}}
	l1 := workorder.VerificationReport{Levels: []workorder.VerificationLevelResult{{Level: "L0", Passed: true}, {Level: "L1", Passed: true}}}

	h.ShouldContinue(IterationContext{Iteration: 1, Snapshot: workorder.Snapshot{AfterSHA: "a"}, Verification: l0})
	h.ShouldContinue(IterationContext{Iteration: 2, Snapshot: workorder.Snapshot{AfterSHA: "b"}, Verification: l1})
	d := h.ShouldContinue(IterationContext{Iteration: 3, Snapshot: workorder.Snapshot{AfterSHA: "c"}, Verification: l1})

	if d.ShouldContinue {
		t.Fatal("expected hybrid to stop at iteration 3 (base+bonus)")
	}
	if !d.PartialAccept {
		t.Fatal("expected partialAccept: the run rose from L0 to L1 even though it plateaued at the cap")
	}
	if d.Reason != "Max iterations reached with progress" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

// TestHybrid_NoPartialAcceptWithoutProgress covers a run that never rises
// above its starting level: no partialAccept should be granted.
func TestHybrid_NoPartialAcceptWithoutProgress(t *testing.T) {
	h := NewHybrid()
	h.Initialize(map[string]any{"baseIterations": 2, "maxBonusIterations": 1, "criteria": []string{}})

	l0 := workorder.VerificationReport{Levels: []workorder.VerificationLevelResult{{Level: "L0", Passed: true}}}

	h.ShouldContinue(IterationContext{Iteration: 1, Snapshot: workorder.Snapshot{AfterSHA: "a"}, Verification: l0})
	h.ShouldContinue(IterationContext{Iteration: 2, Snapshot: workorder.Snapshot{AfterSHA: "b"}, Verification: l0})
	d := h.ShouldContinue(IterationContext{Iteration: 3, Snapshot: workorder.Snapshot{AfterSHA: "c"}, Verification: l0})

	if d.ShouldContinue {
		t.Fatal("expected hybrid to stop at iteration 3 (base+bonus)")
	}
	if d.PartialAccept {
		t.Fatal("expected no partialAccept when the level never rises")
	}
	if d.Reason != "Max iterations reached" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

func TestRalph_SignalStopsAfterMinIterations(t *testing.T) {
	r := NewRalph()
	r.Initialize(map[string]any{"minIterations": 1, "maxIterations": 20, "windowSize": 5, "convergenceThreshold": 0.15})

	d := r.ShouldContinue(IterationContext{Iteration: 1, AgentOutput: "refactored the thing... done. TASK_COMPLETE"})
	if d.ShouldContinue {
		t.Fatal("expected stop on completion signal past minIterations")
	}
	if d.Reason != "Agent signaled completion" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

func TestRalph_MaxIterPrecedesSignal(t *testing.T) {
	r := NewRalph()
	r.Initialize(map[string]any{"minIterations": 1, "maxIterations": 2, "windowSize": 5, "convergenceThreshold": 0.15})

	d := r.ShouldContinue(IterationContext{Iteration: 2, AgentOutput: "TASK_COMPLETE"})
	if d.Reason != "Max iterations reached" {
		t.Fatalf("expected max-iter check to precede signal check, got reason %q", d.Reason)
	}
}

func TestRegistry_UnknownModeListsAvailable(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.New(Mode("nonexistent"), nil)
	var notFound *StrategyNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected StrategyNotFoundError, got %v", err)
	}
	if len(notFound.Available) == 0 {
		t.Fatal("expected available modes to be listed")
	}
}

func TestRegistry_DuplicateRegistrationRejectedUnlessOverwrite(t *testing.T) {
	reg := NewRegistry(nil)
	err := reg.Register(ModeFixed, func() Strategy { return NewFixed() }, false)
	var dup *DuplicateStrategyError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateStrategyError, got %v", err)
	}
	if err := reg.Register(ModeFixed, func() Strategy { return NewFixed() }, true); err != nil {
		t.Fatalf("expected overwrite to succeed, got %v", err)
	}
}

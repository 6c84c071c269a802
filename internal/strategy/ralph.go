package strategy

import (
	"fmt"
	"strings"
)

// completionSignals are the case-insensitive markers an agent can emit in
// its output or commit message to declare it is done.
var completionSignals = []string{"TASK_COMPLETE", "TASK_COMPLETED", "DONE", "[COMPLETE]"}

// Ralph gates on a minimum iteration count, then looks for an explicit
// completion signal or output-similarity convergence before stopping.
type Ralph struct {
	minIterations        int
	maxIterations        int
	windowSize           int
	convergenceThreshold float64

	outputWindow []string
}

// NewRalph constructs an unconfigured Ralph strategy; call Initialize.
func NewRalph() *Ralph {
	return &Ralph{}
}

func (r *Ralph) Initialize(config map[string]any) error {
	r.minIterations = intOr(config, "minIterations", 1)
	r.maxIterations = intOr(config, "maxIterations", 20)
	r.windowSize = intOr(config, "windowSize", 5)
	if v, ok := config["convergenceThreshold"].(float64); ok {
		r.convergenceThreshold = v
	} else {
		r.convergenceThreshold = 0.15
	}
	r.outputWindow = nil
	return nil
}

func intOr(config map[string]any, key string, def int) int {
	if v, ok := config[key].(int); ok {
		return v
	}
	return def
}

func (r *Ralph) OnLoopStart()            {}
func (r *Ralph) OnIterationStart(int)    {}
func (r *Ralph) OnIterationEnd(Decision) {}
func (r *Ralph) OnLoopEnd(Decision)      {}

func (r *Ralph) Reset() {
	r.outputWindow = nil
}

func detectCompletionSignal(output string) bool {
	upper := strings.ToUpper(output)
	for _, sig := range completionSignals {
		if strings.Contains(upper, sig) {
			return true
		}
	}
	return false
}

// ShouldContinue checks, per call, in order: max-iter, then min-iter gate,
// then verification pass, then completion signal, then similarity loop,
// else continue.
func (r *Ralph) ShouldContinue(ctx IterationContext) Decision {
	if ctx.Iteration >= r.maxIterations {
		// Max-iter is checked before the completion signal, so a signal
		// arriving exactly at the cap is reported as a cap-out, not a clean
		// completion.
		return Decision{ShouldContinue: false, Action: ActionStop, Reason: "Max iterations reached"}
	}

	r.outputWindow = append(r.outputWindow, ctx.AgentOutput)
	if len(r.outputWindow) > r.windowSize {
		r.outputWindow = r.outputWindow[len(r.outputWindow)-r.windowSize:]
	}

	if ctx.Iteration < r.minIterations {
		return Decision{ShouldContinue: true, Action: ActionContinue, Reason: fmt.Sprintf("below minIterations (%d)", r.minIterations)}
	}

	if ctx.Verification.Passed {
		return Decision{ShouldContinue: false, Action: ActionStop, Reason: "Verification passed"}
	}

	if detectCompletionSignal(ctx.AgentOutput) {
		return Decision{ShouldContinue: false, Action: ActionStop, Reason: "Agent signaled completion"}
	}

	if ld := r.DetectLoop(ctx); len(ld.RepeatPatterns) > 0 {
		return Decision{ShouldContinue: false, Action: ActionStop, Reason: "Loop detected via output similarity", Metadata: map[string]any{"patterns": ld.RepeatPatterns}}
	}

	return Decision{ShouldContinue: true, Action: ActionContinue, Reason: fmt.Sprintf("iteration %d", ctx.Iteration)}
}

// DetectLoop computes the Jaccard similarity of the current output against
// every entry in the sliding window; any pairwise similarity at or above
// 1-convergenceThreshold signals a loop.
func (r *Ralph) DetectLoop(ctx IterationContext) LoopDetection {
	threshold := 1 - r.convergenceThreshold
	var patterns []RepeatPattern
	for _, prior := range r.outputWindow[:max(0, len(r.outputWindow)-1)] {
		sim := jaccardSimilarity(ctx.AgentOutput, prior)
		if sim >= threshold {
			patterns = append(patterns, RepeatPattern{PatternType: "similarity", Occurrences: 1, Detail: fmt.Sprintf("similarity=%.3f", sim)})
		}
	}
	return LoopDetection{RepeatPatterns: patterns}
}

func (r *Ralph) GetProgress(ctx IterationContext) Progress {
	return Progress{
		Iteration:       ctx.Iteration,
		HighestLevel:    ctx.Verification.HighestLevelPassed(),
		PercentComplete: float64(ctx.Iteration) / float64(r.maxIterations) * 100,
	}
}

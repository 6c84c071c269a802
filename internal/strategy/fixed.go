package strategy

import "fmt"

// fixedCriterion is one of the completion-detection criteria Fixed supports.
type fixedCriterion string

const (
	criterionVerificationPass fixedCriterion = "verification_pass"
	criterionNoChanges        fixedCriterion = "no_changes"
	criterionLoopDetection    fixedCriterion = "loop_detection"
	criterionAgentSignal      fixedCriterion = "agent_signal"
	criterionCIPass           fixedCriterion = "ci_pass"
)

// exactRepeatThreshold is how many times the same afterSha must appear in
// recent history before DetectLoop reports an exact repeat.
const exactRepeatThreshold = 3

// Fixed stops at maxIterations or on the first configured completion
// criterion, tracking exact snapshot-hash repeats for loop detection.
type Fixed struct {
	maxIterations int
	criteria      map[fixedCriterion]bool
	shaHistory    []string
}

// NewFixed constructs an unconfigured Fixed strategy; call Initialize.
func NewFixed() *Fixed {
	return &Fixed{criteria: make(map[fixedCriterion]bool)}
}

// Initialize reads maxIterations and criteria from config.
func (f *Fixed) Initialize(config map[string]any) error {
	if v, ok := config["maxIterations"].(int); ok {
		f.maxIterations = v
	} else {
		f.maxIterations = 10
	}
	f.criteria = make(map[fixedCriterion]bool)
	if raw, ok := config["criteria"].([]string); ok {
		for _, c := range raw {
			f.criteria[fixedCriterion(c)] = true
		}
	} else {
		f.criteria[criterionVerificationPass] = true
	}
	return nil
}

func (f *Fixed) OnLoopStart()                  {}
func (f *Fixed) OnIterationStart(int)          {}
func (f *Fixed) OnIterationEnd(Decision)       {}
func (f *Fixed) OnLoopEnd(Decision)            {}

// Reset clears fingerprint history so a strategy instance can be reused.
func (f *Fixed) Reset() {
	f.shaHistory = nil
}

// ShouldContinue evaluates max-iteration and each configured criterion in
// turn, recording the snapshot fingerprint for loop detection as it goes.
func (f *Fixed) ShouldContinue(ctx IterationContext) Decision {
	f.shaHistory = append(f.shaHistory, ctx.Snapshot.AfterSHA)

	if ctx.Iteration >= f.maxIterations {
		return Decision{ShouldContinue: false, Action: ActionStop, Reason: "Max iterations reached"}
	}

	if f.criteria[criterionVerificationPass] && ctx.Verification.Passed {
		return Decision{ShouldContinue: false, Action: ActionStop, Reason: "Verification passed"}
	}

	if f.criteria[criterionNoChanges] && ctx.Snapshot.FilesChanged == 0 {
		return Decision{ShouldContinue: false, Action: ActionStop, Reason: "No changes produced"}
	}

	if f.criteria[criterionLoopDetection] {
		if ld := f.DetectLoop(ctx); len(ld.RepeatPatterns) > 0 {
			return Decision{ShouldContinue: false, Action: ActionStop, Reason: "Loop detected", Metadata: map[string]any{"patterns": ld.RepeatPatterns}}
		}
	}

	if f.criteria[criterionAgentSignal] {
		for _, rec := range ctx.History {
			if rec.AgentSignal {
				return Decision{ShouldContinue: false, Action: ActionStop, Reason: "Agent signaled completion"}
			}
		}
	}

	if f.criteria[criterionCIPass] {
		for _, lvl := range ctx.Verification.Levels {
			if lvl.Level == "ci" && lvl.Passed {
				return Decision{ShouldContinue: false, Action: ActionStop, Reason: "CI passed"}
			}
		}
	}

	return Decision{ShouldContinue: true, Action: ActionContinue, Reason: fmt.Sprintf("iteration %d of %d", ctx.Iteration, f.maxIterations)}
}

// DetectLoop flags an "exact" repeat when the same afterSha appears at
// least exactRepeatThreshold times in recorded history.
func (f *Fixed) DetectLoop(ctx IterationContext) LoopDetection {
	counts := make(map[string]int)
	for _, sha := range f.shaHistory {
		if sha == "" {
			continue
		}
		counts[sha]++
	}

	var patterns []RepeatPattern
	for sha, n := range counts {
		if n >= exactRepeatThreshold {
			patterns = append(patterns, RepeatPattern{PatternType: "exact", Occurrences: n, Detail: sha})
		}
	}
	return LoopDetection{RepeatPatterns: patterns}
}

// GetProgress reports iteration count and the highest verification level
// observed so far this call.
func (f *Fixed) GetProgress(ctx IterationContext) Progress {
	return Progress{
		Iteration:       ctx.Iteration,
		HighestLevel:    ctx.Verification.HighestLevelPassed(),
		PercentComplete: float64(ctx.Iteration) / float64(f.maxIterations) * 100,
	}
}

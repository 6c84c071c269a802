package strategy

import (
	"fmt"
	"sort"
	"strings"
)

const compositeRepeatThreshold = 3

// compositeFingerprint combines the snapshot sha with the sorted diagnostic
// messages, so two iterations that reproduce the same sha but differ in
// verification diagnostics are not conflated as the same loop state.
func compositeFingerprint(sha string, diagnostics []string) string {
	sorted := append([]string(nil), diagnostics...)
	sort.Strings(sorted)
	return sha + "|" + strings.Join(sorted, ",")
}

// Hybrid runs baseIterations, with up to maxBonusIterations more if there is
// evidence of progress, before giving up.
type Hybrid struct {
	baseIterations     int
	maxBonusIterations int
	criteria           map[fixedCriterion]bool

	fingerprintHistory []string
	highestLevelSeen   int
	firstLevelSeen     int
	haveFirstLevel     bool
}

// NewHybrid constructs an unconfigured Hybrid strategy; call Initialize.
func NewHybrid() *Hybrid {
	return &Hybrid{criteria: make(map[fixedCriterion]bool), highestLevelSeen: -1}
}

func (h *Hybrid) Initialize(config map[string]any) error {
	if v, ok := config["baseIterations"].(int); ok {
		h.baseIterations = v
	} else {
		h.baseIterations = 5
	}
	if v, ok := config["maxBonusIterations"].(int); ok {
		h.maxBonusIterations = v
	} else {
		h.maxBonusIterations = 2
	}
	h.criteria = make(map[fixedCriterion]bool)
	if raw, ok := config["criteria"].([]string); ok {
		for _, c := range raw {
			h.criteria[fixedCriterion(c)] = true
		}
	} else {
		h.criteria[criterionVerificationPass] = true
	}
	h.highestLevelSeen = -1
	h.haveFirstLevel = false
	return nil
}

func (h *Hybrid) OnLoopStart()            {}
func (h *Hybrid) OnIterationStart(int)    {}
func (h *Hybrid) OnIterationEnd(Decision) {}
func (h *Hybrid) OnLoopEnd(Decision)      {}

func (h *Hybrid) Reset() {
	h.fingerprintHistory = nil
	h.highestLevelSeen = -1
	h.haveFirstLevel = false
}

func (h *Hybrid) maxIterations() int {
	return h.baseIterations + h.maxBonusIterations
}

func (h *Hybrid) ShouldContinue(ctx IterationContext) Decision {
	h.fingerprintHistory = append(h.fingerprintHistory, compositeFingerprint(ctx.Snapshot.AfterSHA, ctx.Verification.Diagnostics))

	highest := ctx.Verification.HighestLevelPassed()
	if !h.haveFirstLevel {
		h.firstLevelSeen = highest
		h.haveFirstLevel = true
	}
	if highest > h.highestLevelSeen {
		h.highestLevelSeen = highest
	}
	// Progress is judged against the level observed at the start of the run,
	// not iteration-to-iteration, so a run that rises early and plateaus
	// before the cap still counts as having made progress.
	progressedOverRun := h.highestLevelSeen > h.firstLevelSeen

	if h.criteria[criterionVerificationPass] && ctx.Verification.Passed {
		return Decision{ShouldContinue: false, Action: ActionStop, Reason: "Verification passed"}
	}
	if h.criteria[criterionNoChanges] && ctx.Snapshot.FilesChanged == 0 {
		return Decision{ShouldContinue: false, Action: ActionStop, Reason: "No changes produced"}
	}

	if ld := h.DetectLoop(ctx); len(ld.RepeatPatterns) > 0 {
		return Decision{ShouldContinue: false, Action: ActionStop, Reason: "Loop detected", Metadata: map[string]any{"patterns": ld.RepeatPatterns}}
	}

	if ctx.Iteration >= h.maxIterations() {
		if progressedOverRun {
			return Decision{
				ShouldContinue: false,
				Action:         ActionStop,
				Reason:         "Max iterations reached with progress",
				PartialAccept:  true,
			}
		}
		return Decision{ShouldContinue: false, Action: ActionStop, Reason: "Max iterations reached"}
	}

	return Decision{ShouldContinue: true, Action: ActionContinue, Reason: fmt.Sprintf("iteration %d of %d", ctx.Iteration, h.maxIterations())}
}

// DetectLoop flags a "composite" repeat when the same (sha, diagnostics)
// fingerprint appears at least compositeRepeatThreshold times.
func (h *Hybrid) DetectLoop(ctx IterationContext) LoopDetection {
	counts := make(map[string]int)
	for _, fp := range h.fingerprintHistory {
		counts[fp]++
	}
	var patterns []RepeatPattern
	for fp, n := range counts {
		if n >= compositeRepeatThreshold {
			patterns = append(patterns, RepeatPattern{PatternType: "composite", Occurrences: n, Detail: fp})
		}
	}
	return LoopDetection{RepeatPatterns: patterns}
}

func (h *Hybrid) GetProgress(ctx IterationContext) Progress {
	return Progress{
		Iteration:       ctx.Iteration,
		HighestLevel:    h.highestLevelSeen,
		PercentComplete: float64(ctx.Iteration) / float64(h.maxIterations()) * 100,
	}
}

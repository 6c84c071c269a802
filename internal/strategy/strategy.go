// Package strategy implements the pluggable iteration-loop termination
// policies (Fixed, Hybrid, Ralph, Custom) the orchestrator consults after
// every iteration to decide whether an agent has converged.
package strategy

import (
	"github.com/workbenchhq/controlplane/internal/workorder"
)

// Action is the terminal instruction a Decision carries back to the
// orchestrator.
type Action string

const (
	ActionContinue Action = "continue"
	ActionStop     Action = "stop"
	ActionAbort    Action = "abort"
)

// Decision is the result of a single ShouldContinue call.
type Decision struct {
	ShouldContinue bool           `json:"shouldContinue"`
	Action         Action         `json:"action"`
	Reason         string         `json:"reason"`
	PartialAccept  bool           `json:"partialAccept,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// IterationRecord is one entry in the history a strategy can inspect.
type IterationRecord struct {
	Iteration    int
	Snapshot     workorder.Snapshot
	Verification workorder.VerificationReport
	AgentOutput  string
	AgentSignal  bool
}

// IterationContext is what the orchestrator hands a strategy after each
// iteration.
type IterationContext struct {
	Iteration    int
	Snapshot     workorder.Snapshot
	Verification workorder.VerificationReport
	AgentOutput  string
	History      []IterationRecord
}

// RepeatPattern is one loop-detection finding.
type RepeatPattern struct {
	PatternType string `json:"patternType"` // "exact", "composite", "similarity"
	Occurrences int    `json:"occurrences"`
	Detail      string `json:"detail,omitempty"`
}

// LoopDetection is the result of DetectLoop.
type LoopDetection struct {
	RepeatPatterns []RepeatPattern
}

// Progress is a strategy's self-reported view of how far along the run is.
type Progress struct {
	Iteration      int     `json:"iteration"`
	HighestLevel   int     `json:"highestLevel"`
	PercentComplete float64 `json:"percentComplete"`
}

// Strategy is the capability set every loop-termination policy implements.
// A registry maps a config-selected mode to a factory producing one of
// these instead of a class hierarchy, per the tagged-variant design this
// codebase uses elsewhere for pluggable behavior.
type Strategy interface {
	Initialize(config map[string]any) error
	ShouldContinue(ctx IterationContext) Decision
	OnLoopStart()
	OnIterationStart(iteration int)
	OnIterationEnd(decision Decision)
	OnLoopEnd(decision Decision)
	GetProgress(ctx IterationContext) Progress
	DetectLoop(ctx IterationContext) LoopDetection
	Reset()
}

// Errors returned by the registry and custom-loader.
type (
	// StrategyNotFoundError is returned for an unregistered mode.
	StrategyNotFoundError struct {
		Mode      string
		Available []string
	}
	// DuplicateStrategyError is returned registering an existing mode without AllowOverwrite.
	DuplicateStrategyError struct {
		Mode string
	}
	// CustomStrategyLoadError wraps a failure loading a custom strategy module.
	CustomStrategyLoadError struct {
		Path string
		Err  error
	}
	// CustomStrategyNotFoundError is returned when a custom module path resolves to nothing.
	CustomStrategyNotFoundError struct {
		Path string
	}
	// CustomStrategyInvalidError is returned when a custom module doesn't implement Strategy.
	CustomStrategyInvalidError struct {
		Path   string
		Detail string
	}
)

func (e *StrategyNotFoundError) Error() string {
	return "strategy-not-found: " + e.Mode
}

func (e *DuplicateStrategyError) Error() string {
	return "duplicate-strategy: " + e.Mode
}

func (e *CustomStrategyLoadError) Error() string {
	return "custom-strategy-load: " + e.Path + ": " + e.Err.Error()
}

func (e *CustomStrategyNotFoundError) Error() string {
	return "custom-strategy-not-found: " + e.Path
}

func (e *CustomStrategyInvalidError) Error() string {
	return "custom-strategy-invalid: " + e.Path + ": " + e.Detail
}

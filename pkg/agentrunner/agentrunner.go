// Package agentrunner implements the AgentRunner external collaborator:
// narrow adapters the orchestrator calls once per iteration to actually
// drive the coding agent. Out of scope for correctness depth per the
// purpose statement, but real enough to exercise the orchestrator
// end-to-end.
package agentrunner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/workbenchhq/controlplane/internal/orchestrator"
	"github.com/workbenchhq/controlplane/internal/workorder"
)

// completionMarkers mirrors the Ralph strategy's case-insensitive signal
// set, checked here too so a CommandRunner's Output carries Signal=true
// without the strategy needing to re-parse raw agent output itself.
var completionMarkers = []string{"TASK_COMPLETE", "TASK_COMPLETED", "DONE", "[COMPLETE]"}

func detectSignal(output string) bool {
	upper := strings.ToUpper(output)
	for _, marker := range completionMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// NoopRunner reports a fixed, successful result without touching the
// workspace. Useful for exercising the scheduler/orchestrator/strategy
// wiring in tests and demos without a real agent process.
type NoopRunner struct {
	Model string
}

// Execute always succeeds, generating a fresh session id per call.
func (r *NoopRunner) Execute(ctx context.Context, wo workorder.WorkOrder, iteration int) (orchestrator.AgentResult, error) {
	model := r.Model
	if model == "" {
		model = "noop"
	}
	return orchestrator.AgentResult{
		Success:   true,
		SessionID: uuid.NewString(),
		Model:     model,
		Output:    "noop agent: nothing to do",
	}, nil
}

// CommandRunner shells out to a configured command once per iteration and
// reports its exit code and stdout, generalized from the teacher's
// Reconciler.executeJob/waitForJob dispatch-then-poll shape: that code
// dispatched a job to a remote agent process and polled its Job row for
// completion; here there is no remote agent process plane, so "dispatch"
// and "poll" collapse into one blocking subprocess invocation.
type CommandRunner struct {
	// Command and Args are passed to exec.CommandContext. WORK_ORDER_ID,
	// WORK_ORDER_PROMPT and CONTROLPLANE_ITERATION are set as extra
	// environment variables for the subprocess.
	Command string
	Args     []string
	Dir      string
	Model    string
	Timeout  time.Duration
}

// Execute runs the configured command, treating a non-zero exit as an
// agent_crash-worthy failure (Success=false, Err set) rather than an error
// return, so the orchestrator still records an IterationData instead of
// aborting the loop outright.
func (r *CommandRunner) Execute(ctx context.Context, wo workorder.WorkOrder, iteration int) (orchestrator.AgentResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.Command, r.Args...)
	cmd.Dir = r.Dir
	cmd.Env = append(cmd.Environ(),
		"WORK_ORDER_ID="+wo.ID,
		"WORK_ORDER_PROMPT="+wo.Prompt,
		fmt.Sprintf("CONTROLPLANE_ITERATION=%d", iteration),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	sessionID := uuid.NewString()
	model := r.Model
	if model == "" {
		model = "command"
	}

	err := cmd.Run()
	output := stdout.String()

	result := orchestrator.AgentResult{
		SessionID: sessionID,
		Model:     model,
		Output:    output,
		Signal:    detectSignal(output),
	}

	if err != nil {
		result.Success = false
		result.Err = fmt.Errorf("agentrunner: command failed: %w (stderr: %s)", err, stderr.String())
		return result, nil
	}

	result.Success = true
	return result, nil
}

var _ orchestrator.AgentRunner = (*NoopRunner)(nil)
var _ orchestrator.AgentRunner = (*CommandRunner)(nil)

package runtime

import "github.com/pithecene-io/unlockbench/types"

// Process exit codes for the CLI.
const (
	ExitCodeCompleted = 0 // at least one instance succeeded
	ExitCodeFailure   = 1 // no instance succeeded
	ExitCodeConfig    = 2 // invalid configuration or usage
)

// Outcome is the run-level verdict used in reports.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

// DetermineOutcome classifies a run result. A run with no successful
// instance is failed regardless of whether it was stopped.
func DetermineOutcome(result *types.RunResult) Outcome {
	switch {
	case result == nil || !result.Success:
		return OutcomeFailed
	case result.Stopped:
		return OutcomeStopped
	default:
		return OutcomeCompleted
	}
}

// ExitCode maps a run result to a process exit code.
func ExitCode(result *types.RunResult) int {
	if DetermineOutcome(result) == OutcomeFailed {
		return ExitCodeFailure
	}
	return ExitCodeCompleted
}

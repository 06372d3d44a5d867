package sandbox

import (
	"crucible/model"
)

// Classify maps a raw run result onto a verdict outcome. Precedence, first
// match wins: memory ceiling breach, then wall-clock timeout, then non-zero
// exit, then output mismatch. Output comparison is an exact byte match,
// trailing newline included.
//
// Compile failures are classified upstream: a failed shared compile step
// yields compile_error for every test case without any run attempt.
func Classify(res *RunResult, expectedOutput string) model.Outcome {
	switch {
	case res.OOMKilled:
		return model.OutcomeMemoryLimitExceeded
	case res.TimedOut:
		return model.OutcomeTimeLimitExceeded
	case res.ExitCode != 0:
		return model.OutcomeRuntimeError
	case res.Stdout != expectedOutput:
		return model.OutcomeWrongAnswer
	default:
		return model.OutcomeAccepted
	}
}

// Verdict builds the immutable per-test-case record for a classified run.
func VerdictFor(testCaseID string, res *RunResult, expectedOutput string) model.Verdict {
	return model.Verdict{
		TestCaseID:   testCaseID,
		Outcome:      Classify(res, expectedOutput),
		ActualOutput: res.Stdout,
		Stderr:       res.Stderr,
		ExitCode:     res.ExitCode,
		DurationMS:   res.DurationMS,
		PeakMemoryMB: res.PeakMemoryMB,
	}
}

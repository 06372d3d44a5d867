package sandbox

import (
	"testing"

	"crucible/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		res      RunResult
		expected string
		want     model.Outcome
	}{
		{
			name:     "exact match is accepted",
			res:      RunResult{Stdout: "42\n", ExitCode: 0},
			expected: "42\n",
			want:     model.OutcomeAccepted,
		},
		{
			name:     "output mismatch is wrong answer",
			res:      RunResult{Stdout: "41\n", ExitCode: 0},
			expected: "42\n",
			want:     model.OutcomeWrongAnswer,
		},
		{
			name:     "missing trailing newline is wrong answer",
			res:      RunResult{Stdout: "42", ExitCode: 0},
			expected: "42\n",
			want:     model.OutcomeWrongAnswer,
		},
		{
			name:     "non-zero exit is runtime error",
			res:      RunResult{Stdout: "42\n", ExitCode: 1},
			expected: "42\n",
			want:     model.OutcomeRuntimeError,
		},
		{
			name:     "timeout beats non-zero exit",
			res:      RunResult{ExitCode: 137, TimedOut: true},
			expected: "42\n",
			want:     model.OutcomeTimeLimitExceeded,
		},
		{
			name:     "oom beats timeout",
			res:      RunResult{ExitCode: 137, TimedOut: true, OOMKilled: true},
			expected: "42\n",
			want:     model.OutcomeMemoryLimitExceeded,
		},
		{
			name:     "oom with correct output is still memory limit exceeded",
			res:      RunResult{Stdout: "42\n", OOMKilled: true},
			expected: "42\n",
			want:     model.OutcomeMemoryLimitExceeded,
		},
		{
			name:     "empty expected and empty actual is accepted",
			res:      RunResult{},
			expected: "",
			want:     model.OutcomeAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(&tt.res, tt.expected)
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVerdictFor(t *testing.T) {
	res := &RunResult{
		Stdout:       "7\n",
		Stderr:       "warning\n",
		ExitCode:     0,
		DurationMS:   120,
		PeakMemoryMB: 18,
	}

	v := VerdictFor("tc-1", res, "7\n")

	if v.TestCaseID != "tc-1" {
		t.Fatalf("test case id: got %q", v.TestCaseID)
	}
	if v.Outcome != model.OutcomeAccepted {
		t.Fatalf("outcome: got %q", v.Outcome)
	}
	if v.ActualOutput != "7\n" || v.Stderr != "warning\n" {
		t.Fatalf("output fields not carried over: %+v", v)
	}
	if v.DurationMS != 120 || v.PeakMemoryMB != 18 {
		t.Fatalf("resource fields not carried over: %+v", v)
	}
}

// Package sandbox defines the contract for one isolated, resource-bounded
// compile or run attempt, and the classification of its result.
package sandbox

import (
	"context"

	"crucible/internal/language"
)

// CompileSpec describes the single shared compile step of a job.
type CompileSpec struct {
	Profile       language.Profile
	SourceCode    string
	TimeLimitMS   int
	MemoryLimitMB int
}

// CompileResult is the outcome of one compile attempt. Artifact is a tar
// stream of the profile's ArtifactPath, ready to be copied into run sandboxes.
type CompileResult struct {
	OK         bool
	Output     string
	Artifact   []byte
	DurationMS int64
}

// RunSpec describes one test case execution. Exactly one of SourceCode or
// Artifact is used, depending on whether the language compiles.
type RunSpec struct {
	Profile       language.Profile
	SourceCode    string
	Artifact      []byte
	Stdin         string
	TimeLimitMS   int
	MemoryLimitMB int
}

// RunResult is the raw, unclassified outcome of one run attempt.
type RunResult struct {
	Stdout       string
	Stderr       string
	ExitCode     int
	DurationMS   int64
	PeakMemoryMB int64
	TimedOut     bool
	OOMKilled    bool
}

// Runner executes one command inside a freshly created, disposable sandbox
// with hard resource ceilings. Implementations guarantee teardown on every
// exit path, including timeout and crash.
//
// A returned error means the sandbox could not even be started or torn down
// cleanly (missing image, exhausted host resources). That is an
// infrastructure failure, never a program-level result.
type Runner interface {
	Compile(ctx context.Context, spec CompileSpec) (*CompileResult, error)
	Run(ctx context.Context, spec RunSpec) (*RunResult, error)
}

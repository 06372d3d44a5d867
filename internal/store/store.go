// Package store holds job records and their per-test-case verdicts.
package store

import (
	"context"
	"errors"

	"crucible/model"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

// Store is the job/result record keeper. Verdict writes are keyed by
// (job id, test case id) with write-once semantics, so concurrent and
// retried reports are idempotent and no recorded verdict is ever revised.
type Store interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	Verdicts(ctx context.Context, jobID string) ([]model.Verdict, error)

	// AppendVerdict records v exactly once per test case. Returns false
	// when a verdict for that test case already exists. Flips the job to
	// completed once every test case has one.
	AppendVerdict(ctx context.Context, jobID string, v model.Verdict) (bool, error)

	// Assign moves a pending job to assigned on the given worker.
	Assign(ctx context.Context, jobID, workerID string) error

	// SetPhase advances a dispatched job to compiling or running.
	SetPhase(ctx context.Context, jobID string, status model.JobStatus) error

	// Requeue returns a non-terminal job to pending for another attempt
	// and reports the new attempt count.
	Requeue(ctx context.Context, jobID string) (int, error)

	// Fail marks a job as infrastructure-failed. Terminal.
	Fail(ctx context.Context, jobID, reason string) error

	SetCompilerOutput(ctx context.Context, jobID, output string) error

	ShutDown(ctx context.Context)
}

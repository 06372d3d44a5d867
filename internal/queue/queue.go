// Package queue holds job ids awaiting scheduling, FIFO by submission.
package queue

import "context"

type Queue interface {
	// Enqueue appends a newly submitted job id.
	Enqueue(ctx context.Context, jobID string) error

	// Dequeue blocks until a job id is available or ctx is done.
	Dequeue(ctx context.Context) (string, error)

	// Requeue returns a reclaimed job for another scheduling attempt,
	// ahead of newer submissions where the backend supports it.
	Requeue(ctx context.Context, jobID string) error

	// Depth is the number of ids currently waiting.
	Depth() int

	ShutDown(ctx context.Context)
}

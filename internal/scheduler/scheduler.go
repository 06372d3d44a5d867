package scheduler

import (
	"context"
	"errors"
	"time"

	"crucible/internal/logger"
	"crucible/internal/metrics"
	"crucible/internal/queue"
	"crucible/internal/store"
	"crucible/model"
)

const reapPeriod = 1 * time.Second

// Scheduler moves jobs from the pending queue onto workers and reclaims
// jobs from workers that never acknowledged a dispatch or stopped
// heartbeating. One instance runs inside the master process.
type Scheduler struct {
	store    store.Store
	queue    queue.Queue
	registry *Registry

	maxAttempts    int
	ackTimeout     time.Duration
	heartbeatGrace time.Duration
}

func NewScheduler(st store.Store, q queue.Queue, reg *Registry, maxAttempts int, ackTimeout, heartbeatGrace time.Duration) *Scheduler {
	return &Scheduler{
		store:          st,
		queue:          q,
		registry:       reg,
		maxAttempts:    maxAttempts,
		ackTimeout:     ackTimeout,
		heartbeatGrace: heartbeatGrace,
	}
}

// Run blocks until ctx is cancelled, dispatching queued jobs as capacity
// allows. The reaper runs alongside it.
func (s *Scheduler) Run(ctx context.Context) {
	go s.reap(ctx)

	for {
		jobID, err := s.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			logger.Log.Error().Err(err).Msg("dequeue failed")
			continue
		}
		metrics.QueueDepth.Set(float64(s.queue.Depth()))
		s.dispatch(ctx, jobID)
	}
}

// dispatch reserves a slot for the job, waiting for capacity when the
// fleet is saturated, then marks the job assigned in the store.
func (s *Scheduler) dispatch(ctx context.Context, jobID string) {
	for {
		workerID, ok := s.registry.Reserve(jobID)
		if !ok {
			select {
			case <-s.registry.Changed():
				continue
			case <-ctx.Done():
				return
			}
		}

		if err := s.store.Assign(ctx, jobID, workerID); err != nil {
			s.registry.Release(workerID, jobID)
			// A job that is no longer pending was failed or reclaimed in a
			// race with this dispatch. Dropping it here is safe: the reclaim
			// path re-enqueues anything that still needs a worker.
			logger.Log.Warn().Err(err).Str("job_id", jobID).Msg("dropping undispatched job")
			return
		}

		logger.Log.Info().Str("job_id", jobID).Str("worker_id", workerID).Msg("job assigned")
		return
	}
}

// reap periodically takes back jobs from unresponsive workers.
func (s *Scheduler) reap(ctx context.Context) {
	ticker := time.NewTicker(reapPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, rc := range s.registry.ExpireAssignments(s.ackTimeout) {
			logger.Log.Warn().Str("job_id", rc.JobID).Str("worker_id", rc.WorkerID).Msg("dispatch not acknowledged, reclaiming")
			s.Reclaim(ctx, rc.JobID)
		}
		for _, rc := range s.registry.EvictStale(s.heartbeatGrace) {
			logger.Log.Warn().Str("job_id", rc.JobID).Str("worker_id", rc.WorkerID).Msg("worker lost, reclaiming")
			s.Reclaim(ctx, rc.JobID)
		}
	}
}

// Reclaim returns a job to the pending queue for another attempt, or fails
// it when the retry budget is spent. Callers must have already released
// the worker slot.
func (s *Scheduler) Reclaim(ctx context.Context, jobID string) {
	attempts, err := s.store.Requeue(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return
		}
		logger.Log.Error().Err(err).Str("job_id", jobID).Msg("requeue in store failed")
		return
	}

	if attempts >= s.maxAttempts {
		reason := "exhausted retry attempts after repeated worker failures"
		if err := s.store.Fail(ctx, jobID, reason); err != nil {
			logger.Log.Error().Err(err).Str("job_id", jobID).Msg("fail after retry exhaustion failed")
			return
		}
		metrics.JobsCompleted.WithLabelValues(string(model.JobFailed)).Inc()
		logger.Log.Error().Str("job_id", jobID).Int("attempts", attempts).Msg("job failed, retry budget exhausted")
		return
	}

	metrics.SchedulerRetries.Inc()
	if err := s.queue.Requeue(ctx, jobID); err != nil {
		logger.Log.Error().Err(err).Str("job_id", jobID).Msg("requeue in queue failed")
		return
	}
	logger.Log.Info().Str("job_id", jobID).Int("attempts", attempts).Msg("job requeued")
}

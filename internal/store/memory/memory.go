// Package memory is the default in-process store. Jobs are guarded by
// per-job locks so concurrent verdict appends from in-flight test cases of
// the same job never lose updates.
package memory

import (
	"context"
	"fmt"
	"sync"

	"crucible/internal/store"
	"crucible/model"
)

type jobRecord struct {
	mu       sync.Mutex
	job      model.Job
	verdicts map[string]model.Verdict
	order    []string
}

type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*jobRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*jobRecord),
	}
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrJobExists
	}
	s.jobs[job.ID] = &jobRecord{
		job:      *job,
		verdicts: make(map[string]model.Verdict),
	}
	return nil
}

func (s *MemoryStore) record(id string) (*jobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return rec, nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	job := rec.job
	job.TestCases = append([]model.TestCase(nil), rec.job.TestCases...)
	return &job, nil
}

func (s *MemoryStore) Verdicts(ctx context.Context, jobID string) ([]model.Verdict, error) {
	rec, err := s.record(jobID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	verdicts := make([]model.Verdict, 0, len(rec.order))
	for _, id := range rec.order {
		verdicts = append(verdicts, rec.verdicts[id])
	}
	return verdicts, nil
}

func (s *MemoryStore) AppendVerdict(ctx context.Context, jobID string, v model.Verdict) (bool, error) {
	rec, err := s.record(jobID)
	if err != nil {
		return false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	// A failed job keeps whatever verdicts it already has; late reports
	// from a dead attempt are dropped.
	if rec.job.Status == model.JobFailed {
		return false, nil
	}
	if _, ok := rec.verdicts[v.TestCaseID]; ok {
		return false, nil
	}

	rec.verdicts[v.TestCaseID] = v
	rec.order = append(rec.order, v.TestCaseID)

	if len(rec.verdicts) == len(rec.job.TestCases) {
		rec.job.Status = model.JobCompleted
	}
	return true, nil
}

func (s *MemoryStore) Assign(ctx context.Context, jobID, workerID string) error {
	rec, err := s.record(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.Status != model.JobPending {
		return fmt.Errorf("job %s is %s, not pending", jobID, rec.job.Status)
	}
	rec.job.Status = model.JobAssigned
	rec.job.WorkerID = workerID
	return nil
}

func (s *MemoryStore) SetPhase(ctx context.Context, jobID string, status model.JobStatus) error {
	if status != model.JobCompiling && status != model.JobRunning {
		return fmt.Errorf("invalid phase %s", status)
	}
	rec, err := s.record(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.Status.Terminal() || rec.job.Status == model.JobPending {
		return fmt.Errorf("job %s is %s, cannot move to %s", jobID, rec.job.Status, status)
	}
	rec.job.Status = status
	return nil
}

func (s *MemoryStore) Requeue(ctx context.Context, jobID string) (int, error) {
	rec, err := s.record(jobID)
	if err != nil {
		return 0, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.Status.Terminal() {
		return rec.job.Attempts, nil
	}
	rec.job.Status = model.JobPending
	rec.job.WorkerID = ""
	rec.job.Attempts++
	return rec.job.Attempts, nil
}

func (s *MemoryStore) Fail(ctx context.Context, jobID, reason string) error {
	rec, err := s.record(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.Status.Terminal() {
		return nil
	}
	rec.job.Status = model.JobFailed
	rec.job.FailureReason = reason
	rec.job.WorkerID = ""
	return nil
}

func (s *MemoryStore) SetCompilerOutput(ctx context.Context, jobID, output string) error {
	rec, err := s.record(jobID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.job.CompilerOutput = output
	return nil
}

func (s *MemoryStore) ShutDown(ctx context.Context) {}

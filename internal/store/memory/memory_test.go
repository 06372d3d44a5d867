package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"crucible/internal/store"
	"crucible/model"
)

func testJob(id string, testCases int) *model.Job {
	tcs := make([]model.TestCase, 0, testCases)
	for i := 0; i < testCases; i++ {
		tcs = append(tcs, model.TestCase{
			ID:             string(rune('a' + i)),
			Input:          "1 2\n",
			ExpectedOutput: "3\n",
		})
	}
	return &model.Job{
		ID:            id,
		Language:      "python",
		TestCases:     tcs,
		TimeLimitMS:   2000,
		MemoryLimitMB: 128,
		Status:        model.JobPending,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateJob(ctx, testJob("j1", 2)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateJob(ctx, testJob("j1", 2)); !errors.Is(err, store.ErrJobExists) {
		t.Fatalf("duplicate create: got %v, want ErrJobExists", err)
	}

	job, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != model.JobPending || len(job.TestCases) != 2 {
		t.Fatalf("unexpected job: %+v", job)
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("missing get: got %v, want ErrJobNotFound", err)
	}
}

func TestAssignAndPhase(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateJob(ctx, testJob("j1", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.SetPhase(ctx, "j1", model.JobCompiling); err == nil {
		t.Fatal("phase on pending job should fail")
	}

	if err := s.Assign(ctx, "j1", "w1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := s.Assign(ctx, "j1", "w2"); err == nil {
		t.Fatal("double assign should fail")
	}

	job, _ := s.GetJob(ctx, "j1")
	if job.Status != model.JobAssigned || job.WorkerID != "w1" {
		t.Fatalf("unexpected job after assign: %+v", job)
	}

	if err := s.SetPhase(ctx, "j1", model.JobCompiling); err != nil {
		t.Fatalf("phase compiling: %v", err)
	}
	if err := s.SetPhase(ctx, "j1", model.JobRunning); err != nil {
		t.Fatalf("phase running: %v", err)
	}
	if err := s.SetPhase(ctx, "j1", model.JobCompleted); err == nil {
		t.Fatal("completed is not a phase")
	}
}

func TestAppendVerdictCompletesJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateJob(ctx, testJob("j1", 2)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Assign(ctx, "j1", "w1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	added, err := s.AppendVerdict(ctx, "j1", model.Verdict{TestCaseID: "a", Outcome: model.OutcomeAccepted})
	if err != nil || !added {
		t.Fatalf("first append: added=%v err=%v", added, err)
	}

	// A duplicate report must not overwrite the recorded verdict.
	added, err = s.AppendVerdict(ctx, "j1", model.Verdict{TestCaseID: "a", Outcome: model.OutcomeWrongAnswer})
	if err != nil || added {
		t.Fatalf("duplicate append: added=%v err=%v", added, err)
	}

	job, _ := s.GetJob(ctx, "j1")
	if job.Status.Terminal() {
		t.Fatalf("job terminal with verdicts missing: %+v", job)
	}

	added, err = s.AppendVerdict(ctx, "j1", model.Verdict{TestCaseID: "b", Outcome: model.OutcomeWrongAnswer})
	if err != nil || !added {
		t.Fatalf("second append: added=%v err=%v", added, err)
	}

	job, _ = s.GetJob(ctx, "j1")
	if job.Status != model.JobCompleted {
		t.Fatalf("job not completed: %+v", job)
	}

	verdicts, err := s.Verdicts(ctx, "j1")
	if err != nil {
		t.Fatalf("verdicts: %v", err)
	}
	if len(verdicts) != 2 || verdicts[0].Outcome != model.OutcomeAccepted || verdicts[1].Outcome != model.OutcomeWrongAnswer {
		t.Fatalf("unexpected verdicts: %+v", verdicts)
	}
}

func TestAppendVerdictConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := testJob("j1", 8)
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Assign(ctx, "j1", "w1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	var wg sync.WaitGroup
	for _, tc := range job.TestCases {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := s.AppendVerdict(ctx, "j1", model.Verdict{TestCaseID: id, Outcome: model.OutcomeAccepted}); err != nil {
				t.Errorf("append %s: %v", id, err)
			}
		}(tc.ID)
	}
	wg.Wait()

	got, _ := s.GetJob(ctx, "j1")
	if got.Status != model.JobCompleted {
		t.Fatalf("job not completed after concurrent appends: %+v", got)
	}
	verdicts, _ := s.Verdicts(ctx, "j1")
	if len(verdicts) != 8 {
		t.Fatalf("got %d verdicts, want 8", len(verdicts))
	}
}

func TestRequeueAndFail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateJob(ctx, testJob("j1", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Assign(ctx, "j1", "w1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	attempts, err := s.Requeue(ctx, "j1")
	if err != nil || attempts != 1 {
		t.Fatalf("requeue: attempts=%d err=%v", attempts, err)
	}
	job, _ := s.GetJob(ctx, "j1")
	if job.Status != model.JobPending || job.WorkerID != "" {
		t.Fatalf("unexpected job after requeue: %+v", job)
	}

	if err := s.Fail(ctx, "j1", "exhausted retry attempts"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	job, _ = s.GetJob(ctx, "j1")
	if job.Status != model.JobFailed || job.FailureReason == "" {
		t.Fatalf("unexpected job after fail: %+v", job)
	}

	// Terminal jobs do not change on further requeues.
	attempts, err = s.Requeue(ctx, "j1")
	if err != nil || attempts != 1 {
		t.Fatalf("requeue after fail: attempts=%d err=%v", attempts, err)
	}
	job, _ = s.GetJob(ctx, "j1")
	if job.Status != model.JobFailed {
		t.Fatalf("terminal status changed: %+v", job)
	}
}

func TestLateVerdictsDroppedAfterFail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateJob(ctx, testJob("j1", 2)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Fail(ctx, "j1", "worker lost"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	added, err := s.AppendVerdict(ctx, "j1", model.Verdict{TestCaseID: "a", Outcome: model.OutcomeAccepted})
	if err != nil || added {
		t.Fatalf("late append on failed job: added=%v err=%v", added, err)
	}
	job, _ := s.GetJob(ctx, "j1")
	if job.Status != model.JobFailed {
		t.Fatalf("failed job changed status: %+v", job)
	}
}

func TestSetCompilerOutput(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateJob(ctx, testJob("j1", 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetCompilerOutput(ctx, "j1", "main.c:3: error"); err != nil {
		t.Fatalf("set compiler output: %v", err)
	}
	job, _ := s.GetJob(ctx, "j1")
	if job.CompilerOutput != "main.c:3: error" {
		t.Fatalf("compiler output not recorded: %+v", job)
	}
}

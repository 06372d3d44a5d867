// Package agent is the worker process: it registers with the master,
// heartbeats, leases assigned jobs and executes them in sandboxes.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"crucible/internal/config"
	"crucible/internal/language"
	"crucible/internal/logger"
	"crucible/internal/sandbox"
	"crucible/model"
)

// Agent executes leased jobs with bounded concurrency. Each job occupies
// one slot from lease to final report, mirroring the master's accounting.
type Agent struct {
	id     string
	cfg    *config.WorkerConfig
	runner sandbox.Runner
	langs  *language.Registry
	client *http.Client
	slots  chan struct{}
	wg     sync.WaitGroup
}

func NewAgent(cfg *config.WorkerConfig, runner sandbox.Runner, langs *language.Registry) *Agent {
	return &Agent{
		id:     uuid.NewString(),
		cfg:    cfg,
		runner: runner,
		langs:  langs,
		client: &http.Client{
			Timeout: time.Duration(cfg.LEASE_WAIT_MS)*time.Millisecond + 10*time.Second,
		},
		slots: make(chan struct{}, cfg.CAPACITY),
	}
}

func (a *Agent) ID() string {
	return a.id
}

// Run registers with the master and blocks in the lease loop until ctx is
// cancelled, then waits for inflight jobs to finish reporting.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return fmt.Errorf("initial registration: %w", err)
	}
	logger.Log.Info().Str("worker_id", a.id).Int("capacity", a.cfg.CAPACITY).Msg("worker registered")

	go a.heartbeatLoop(ctx)
	a.leaseLoop(ctx)
	a.wg.Wait()
	return nil
}

func (a *Agent) register(ctx context.Context) error {
	body := map[string]interface{}{
		"worker_id": a.id,
		"capacity":  a.cfg.CAPACITY,
	}
	return a.post(ctx, "/internal/workers/register", body, nil)
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.HEARTBEAT_INTERVAL_MS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		url := fmt.Sprintf("%s/internal/workers/%s/heartbeat", a.cfg.MASTER_URL, a.id)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			continue
		}
		resp, err := a.client.Do(req)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("heartbeat failed")
			continue
		}
		code := resp.StatusCode
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		// 404 means the master evicted us (or restarted). Re-register and
		// carry on; inflight work keeps running and reports normally.
		if code == http.StatusNotFound {
			logger.Log.Warn().Str("worker_id", a.id).Msg("evicted by master, re-registering")
			if err := a.register(ctx); err != nil {
				logger.Log.Error().Err(err).Msg("re-registration failed")
			}
		}
	}
}

func (a *Agent) leaseLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a.slots <- struct{}{}:
		}

		leased, err := a.lease(ctx)
		if err != nil {
			<-a.slots
			if ctx.Err() != nil {
				return
			}
			logger.Log.Warn().Err(err).Msg("lease poll failed")
			time.Sleep(time.Second)
			continue
		}
		if leased == nil {
			<-a.slots
			continue
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer func() { <-a.slots }()
			a.execute(ctx, leased)
		}()
	}
}

func (a *Agent) lease(ctx context.Context) (*model.LeasedJob, error) {
	url := fmt.Sprintf("%s/internal/workers/%s/lease?wait_ms=%d", a.cfg.MASTER_URL, a.id, a.cfg.LEASE_WAIT_MS)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var leased model.LeasedJob
		if err := json.NewDecoder(resp.Body).Decode(&leased); err != nil {
			return nil, err
		}
		return &leased, nil
	case http.StatusNoContent:
		return nil, nil
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("lease: unexpected status %d", resp.StatusCode)
	}
}

// execute runs one job end to end: optional shared compile, then every
// test case in order, then one verdict report. Reporting uses a fresh
// context so a shutdown mid-job still delivers results.
func (a *Agent) execute(ctx context.Context, leased *model.LeasedJob) {
	job := leased.Job
	log := logger.Log.With().Str("job_id", job.ID).Str("language", job.Language).Logger()
	log.Info().Int("test_cases", len(job.TestCases)).Msg("job leased")

	reportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	profile, err := a.langs.Get(job.Language)
	if err != nil {
		a.reportError(reportCtx, job.ID, fmt.Sprintf("no profile for language %q", job.Language))
		return
	}

	var artifact []byte
	var compilerOutput string
	if profile.Compiles() {
		a.reportPhase(ctx, job.ID, model.JobCompiling)

		res, err := a.runner.Compile(ctx, sandbox.CompileSpec{
			Profile:       profile,
			SourceCode:    leased.SourceCode,
			TimeLimitMS:   a.cfg.COMPILE_TIMEOUT_MS,
			MemoryLimitMB: a.cfg.COMPILE_MEMORY_MB,
		})
		if err != nil {
			log.Error().Err(err).Msg("compile sandbox failed")
			a.reportError(reportCtx, job.ID, fmt.Sprintf("compile sandbox: %v", err))
			return
		}
		if !res.OK {
			// One failed compile settles every test case. No runs happen.
			log.Info().Msg("compile failed")
			verdicts := make([]model.Verdict, 0, len(job.TestCases))
			for _, tc := range job.TestCases {
				verdicts = append(verdicts, model.Verdict{
					TestCaseID: tc.ID,
					Outcome:    model.OutcomeCompileError,
				})
			}
			a.reportVerdicts(reportCtx, job.ID, verdicts, res.Output)
			return
		}
		artifact = res.Artifact
		compilerOutput = res.Output
	}

	a.reportPhase(ctx, job.ID, model.JobRunning)

	verdicts := make([]model.Verdict, 0, len(job.TestCases))
	for _, tc := range job.TestCases {
		res, err := a.runner.Run(ctx, sandbox.RunSpec{
			Profile:       profile,
			SourceCode:    leased.SourceCode,
			Artifact:      artifact,
			Stdin:         tc.Input,
			TimeLimitMS:   job.TimeLimitMS,
			MemoryLimitMB: job.MemoryLimitMB,
		})
		if err != nil {
			log.Error().Err(err).Str("test_case_id", tc.ID).Msg("run sandbox failed")
			a.reportError(reportCtx, job.ID, fmt.Sprintf("run sandbox: %v", err))
			return
		}
		verdicts = append(verdicts, sandbox.VerdictFor(tc.ID, res, tc.ExpectedOutput))
	}

	a.reportVerdicts(reportCtx, job.ID, verdicts, compilerOutput)
	log.Info().Int("verdicts", len(verdicts)).Msg("job finished")
}

func (a *Agent) reportPhase(ctx context.Context, jobID string, status model.JobStatus) {
	body := map[string]interface{}{"status": status}
	if err := a.post(ctx, fmt.Sprintf("/internal/jobs/%s/phase", jobID), body, nil); err != nil {
		logger.Log.Warn().Err(err).Str("job_id", jobID).Msg("phase report failed")
	}
}

func (a *Agent) reportVerdicts(ctx context.Context, jobID string, verdicts []model.Verdict, compilerOutput string) {
	body := map[string]interface{}{
		"worker_id":       a.id,
		"verdicts":        verdicts,
		"compiler_output": compilerOutput,
	}
	// Retried a few times: the master dedupes verdicts by test case, so a
	// duplicate delivery is harmless, but a dropped one would strand the job
	// until the reaper reclaims it.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = a.post(ctx, fmt.Sprintf("/internal/jobs/%s/verdicts", jobID), body, nil); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
	}
	logger.Log.Error().Err(err).Str("job_id", jobID).Msg("verdict report failed")
}

func (a *Agent) reportError(ctx context.Context, jobID, reason string) {
	body := map[string]interface{}{
		"worker_id": a.id,
		"reason":    reason,
	}
	if err := a.post(ctx, fmt.Sprintf("/internal/jobs/%s/error", jobID), body, nil); err != nil {
		logger.Log.Error().Err(err).Str("job_id", jobID).Msg("error report failed")
	}
}

func (a *Agent) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.MASTER_URL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(b))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

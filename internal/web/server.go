// Package web is the master's HTTP surface: the public submission API and
// the internal endpoints worker agents talk to.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"crucible/internal/cache"
	"crucible/internal/language"
	"crucible/internal/logger"
	"crucible/internal/metrics"
	"crucible/internal/queue"
	"crucible/internal/scheduler"
	"crucible/internal/storage"
	"crucible/internal/store"
	"crucible/internal/tracing"
	"crucible/internal/util"
	"crucible/model"
)

const (
	defaultTimeLimitMS   = 2000
	minTimeLimitMS       = 100
	maxTimeLimitMS       = 30000
	defaultMemoryLimitMB = 128
	minMemoryLimitMB     = 16
	maxMemoryLimitMB     = 1024

	maxSubmitBody   = 10 << 20
	leasePollPeriod = 100 * time.Millisecond
	maxLeaseWait    = 30 * time.Second
)

type Server struct {
	store     store.Store
	queue     queue.Queue
	storage   storage.Storage
	cache     cache.Cache
	registry  *scheduler.Registry
	scheduler *scheduler.Scheduler
	languages *language.Registry
	limiter   *rate.Limiter
}

func NewServer(st store.Store, q queue.Queue, blob storage.Storage, c cache.Cache,
	reg *scheduler.Registry, sched *scheduler.Scheduler, langs *language.Registry,
	submitRate, submitBurst int) *Server {
	return &Server{
		store:     st,
		queue:     q,
		storage:   blob,
		cache:     c,
		registry:  reg,
		scheduler: sched,
		languages: langs,
		limiter:   rate.NewLimiter(rate.Limit(submitRate), submitBurst),
	}
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.submitLimit).Post("/submit", s.handleSubmit)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/workers", s.handleWorkers)

	r.Route("/internal", func(r chi.Router) {
		r.Post("/workers/register", s.handleRegister)
		r.Post("/workers/{id}/heartbeat", s.handleHeartbeat)
		r.Post("/workers/{id}/lease", s.handleLease)
		r.Post("/jobs/{id}/phase", s.handlePhase)
		r.Post("/jobs/{id}/verdicts", s.handleVerdicts)
		r.Post("/jobs/{id}/error", s.handleJobError)
	})

	return r
}

func (s *Server) submitLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

type submitRequest struct {
	Language      string           `json:"language"`
	SourceCode    string           `json:"source_code"`
	TestCases     []model.TestCase `json:"test_cases"`
	TimeLimitMS   int              `json:"time_limit_ms"`
	MemoryLimitMB int              `json:"memory_limit_mb"`
}

type submitResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GetTracer().Start(r.Context(), "Web/Submit")
	defer span.End()

	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if _, err := s.languages.Get(req.Language); err != nil {
		writeError(w, http.StatusBadRequest, "unknown_language")
		return
	}
	if req.SourceCode == "" {
		writeError(w, http.StatusBadRequest, "empty_source_code")
		return
	}
	if len(req.TestCases) == 0 {
		writeError(w, http.StatusBadRequest, "no_test_cases")
		return
	}
	// Verdicts are keyed by test case id, so a duplicate id could never
	// collect a full verdict set. Generated ids count too: a caller-supplied
	// "tc-2" can collide with the id filled in for an unnamed case.
	seen := make(map[string]struct{}, len(req.TestCases))
	for i := range req.TestCases {
		if req.TestCases[i].ID == "" {
			req.TestCases[i].ID = fmt.Sprintf("tc-%d", i+1)
		}
		if _, ok := seen[req.TestCases[i].ID]; ok {
			writeError(w, http.StatusBadRequest, "duplicate_test_case_id")
			return
		}
		seen[req.TestCases[i].ID] = struct{}{}
	}

	timeLimit := req.TimeLimitMS
	if timeLimit == 0 {
		timeLimit = defaultTimeLimitMS
	}
	memoryLimit := req.MemoryLimitMB
	if memoryLimit == 0 {
		memoryLimit = defaultMemoryLimitMB
	}

	job := &model.Job{
		ID:            uuid.NewString(),
		Language:      req.Language,
		TestCases:     req.TestCases,
		TimeLimitMS:   util.Clamp(timeLimit, minTimeLimitMS, maxTimeLimitMS),
		MemoryLimitMB: util.Clamp(memoryLimit, minMemoryLimitMB, maxMemoryLimitMB),
		Status:        model.JobPending,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.storage.Upload(ctx, util.GetSourcePath(job.ID), []byte(req.SourceCode)); err != nil {
		util.RecordSpanError(span, err)
		logger.Log.Error().Err(err).Msg("source upload failed")
		writeError(w, http.StatusInternalServerError, "storage_unavailable")
		return
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		util.RecordSpanError(span, err)
		logger.Log.Error().Err(err).Msg("job create failed")
		writeError(w, http.StatusInternalServerError, "store_unavailable")
		return
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		util.RecordSpanError(span, err)
		logger.Log.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "queue_unavailable")
		return
	}

	metrics.JobsSubmitted.WithLabelValues(job.Language).Inc()
	metrics.QueueDepth.Set(float64(s.queue.Depth()))
	logger.Log.Info().Str("job_id", job.ID).Str("language", job.Language).Int("test_cases", len(job.TestCases)).Msg("job submitted")

	writeJSON(w, http.StatusOK, submitResponse{JobID: job.ID, Status: job.Status})
}

type statusResponse struct {
	JobID          string          `json:"job_id"`
	Language       string          `json:"language"`
	Status         model.JobStatus `json:"status"`
	Attempts       int             `json:"attempts"`
	TimeLimitMS    int             `json:"time_limit_ms"`
	MemoryLimitMB  int             `json:"memory_limit_mb"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	CompilerOutput string          `json:"compiler_output,omitempty"`
	Verdicts       []model.Verdict `json:"verdicts"`
	CreatedAt      time.Time       `json:"created_at"`
}

func statusCacheKey(jobID string) string {
	return "status:" + jobID
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GetTracer().Start(r.Context(), "Web/Status")
	defer span.End()

	jobID := chi.URLParam(r, "id")

	// Terminal statuses never change, so they are safe to serve cached.
	var cached statusResponse
	if err := s.cache.Get(ctx, statusCacheKey(jobID), &cached); err == nil {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job_not_found")
			return
		}
		util.RecordSpanError(span, err)
		writeError(w, http.StatusInternalServerError, "store_unavailable")
		return
	}
	verdicts, err := s.store.Verdicts(ctx, jobID)
	if err != nil {
		util.RecordSpanError(span, err)
		writeError(w, http.StatusInternalServerError, "store_unavailable")
		return
	}

	resp := statusResponse{
		JobID:          job.ID,
		Language:       job.Language,
		Status:         job.Status,
		Attempts:       job.Attempts,
		TimeLimitMS:    job.TimeLimitMS,
		MemoryLimitMB:  job.MemoryLimitMB,
		FailureReason:  job.FailureReason,
		CompilerOutput: job.CompilerOutput,
		Verdicts:       verdicts,
		CreatedAt:      job.CreatedAt,
	}
	if job.Status.Terminal() {
		if err := s.cache.Put(ctx, statusCacheKey(jobID), resp, s.cache.GetDefaultTTL()); err != nil {
			logger.Log.Warn().Err(err).Str("job_id", jobID).Msg("status cache put failed")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type workersResponse struct {
	Workers []model.WorkerInfo `json:"workers"`
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, workersResponse{Workers: s.registry.Snapshot()})
}

type registerRequest struct {
	WorkerID string `json:"worker_id"`
	Capacity int    `json:"capacity"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.WorkerID == "" || req.Capacity < 1 {
		writeError(w, http.StatusBadRequest, "invalid_registration")
		return
	}
	s.registry.Register(req.WorkerID, req.Capacity)
	logger.Log.Info().Str("worker_id", req.WorkerID).Int("capacity", req.Capacity).Msg("worker registered")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "id")
	if err := s.registry.Heartbeat(workerID); err != nil {
		// Unknown worker: it was evicted or the master restarted. The
		// 404 tells the agent to re-register.
		writeError(w, http.StatusNotFound, "worker_not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLease long-polls for an assignment. Handing the job out is the
// dispatch acknowledgment; an assignment nobody leases in time is
// reclaimed by the scheduler's reaper.
func (s *Server) handleLease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workerID := chi.URLParam(r, "id")

	wait := leasePollPeriod
	if ms := r.URL.Query().Get("wait_ms"); ms != "" {
		if d, err := time.ParseDuration(ms + "ms"); err == nil && d > 0 {
			wait = d
		}
	}
	if wait > maxLeaseWait {
		wait = maxLeaseWait
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	poll := time.NewTicker(leasePollPeriod)
	defer poll.Stop()

	for {
		jobID, ok := s.registry.Lease(workerID)
		if ok {
			leased, err := s.buildLease(r, jobID)
			if err != nil {
				logger.Log.Error().Err(err).Str("job_id", jobID).Msg("lease build failed")
				s.registry.Release(workerID, jobID)
				s.scheduler.Reclaim(ctx, jobID)
				writeError(w, http.StatusInternalServerError, "lease_failed")
				return
			}
			logger.Log.Info().Str("job_id", jobID).Str("worker_id", workerID).Msg("job leased")
			writeJSON(w, http.StatusOK, leased)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			w.WriteHeader(http.StatusNoContent)
			return
		case <-poll.C:
		}
	}
}

func (s *Server) buildLease(r *http.Request, jobID string) (*model.LeasedJob, error) {
	ctx := r.Context()
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	source, err := s.storage.Download(ctx, util.GetSourcePath(jobID))
	if err != nil {
		return nil, err
	}
	return &model.LeasedJob{Job: *job, SourceCode: string(source)}, nil
}

type phaseRequest struct {
	Status model.JobStatus `json:"status"`
}

func (s *Server) handlePhase(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	var req phaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Status != model.JobCompiling && req.Status != model.JobRunning {
		writeError(w, http.StatusBadRequest, "invalid_phase")
		return
	}
	if err := s.store.SetPhase(r.Context(), jobID, req.Status); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job_not_found")
			return
		}
		// A phase report for a reclaimed job is stale, not an error worth
		// failing the worker over.
		logger.Log.Warn().Err(err).Str("job_id", jobID).Msg("stale phase report")
	}
	w.WriteHeader(http.StatusNoContent)
}

type verdictsRequest struct {
	WorkerID       string          `json:"worker_id"`
	Verdicts       []model.Verdict `json:"verdicts"`
	CompilerOutput string          `json:"compiler_output,omitempty"`
}

func (s *Server) handleVerdicts(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GetTracer().Start(r.Context(), "Web/Verdicts")
	defer span.End()

	jobID := chi.URLParam(r, "id")
	var req verdictsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job_not_found")
			return
		}
		util.RecordSpanError(span, err)
		writeError(w, http.StatusInternalServerError, "store_unavailable")
		return
	}

	if req.CompilerOutput != "" {
		if err := s.store.SetCompilerOutput(ctx, jobID, req.CompilerOutput); err != nil {
			logger.Log.Warn().Err(err).Str("job_id", jobID).Msg("compiler output not recorded")
		}
	}

	for _, v := range req.Verdicts {
		added, err := s.store.AppendVerdict(ctx, jobID, v)
		if err != nil {
			util.RecordSpanError(span, err)
			writeError(w, http.StatusInternalServerError, "store_unavailable")
			return
		}
		if added {
			metrics.Verdicts.WithLabelValues(string(v.Outcome)).Inc()
			metrics.TestCaseDuration.WithLabelValues(job.Language).Observe(float64(v.DurationMS))
		}
	}

	job, err = s.store.GetJob(ctx, jobID)
	if err == nil && job.Status == model.JobCompleted {
		s.registry.Release(req.WorkerID, jobID)
		metrics.JobsCompleted.WithLabelValues(string(model.JobCompleted)).Inc()
		logger.Log.Info().Str("job_id", jobID).Msg("job completed")
	}
	w.WriteHeader(http.StatusNoContent)
}

type jobErrorRequest struct {
	WorkerID string `json:"worker_id"`
	Reason   string `json:"reason"`
}

// handleJobError takes a worker's infrastructure failure report. The job
// slot is released and the job goes back through the retry path.
func (s *Server) handleJobError(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	var req jobErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	logger.Log.Warn().Str("job_id", jobID).Str("worker_id", req.WorkerID).Str("reason", req.Reason).Msg("worker reported job error")
	s.registry.Release(req.WorkerID, jobID)
	s.scheduler.Reclaim(r.Context(), jobID)
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error().Err(err).Msg("response encode failed")
	}
}

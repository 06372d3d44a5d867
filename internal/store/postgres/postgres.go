// Package postgres is the durable store backend. Verdict write-once
// semantics come from the (job_id, test_case_id) primary key with
// ON CONFLICT DO NOTHING.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crucible/internal/config"
	"crucible/internal/store"
	"crucible/internal/tracing"
	"crucible/internal/util"
	"crucible/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id              UUID PRIMARY KEY,
	language        TEXT NOT NULL,
	time_limit_ms   INT NOT NULL,
	memory_limit_mb INT NOT NULL,
	status          TEXT NOT NULL,
	worker_id       TEXT NOT NULL DEFAULT '',
	attempts        INT NOT NULL DEFAULT 0,
	failure_reason  TEXT NOT NULL DEFAULT '',
	compiler_output TEXT NOT NULL DEFAULT '',
	test_case_count INT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS test_cases (
	job_id          UUID NOT NULL REFERENCES jobs(id),
	test_case_id    TEXT NOT NULL,
	ord             INT NOT NULL,
	input           TEXT NOT NULL,
	expected_output TEXT NOT NULL,
	PRIMARY KEY (job_id, test_case_id)
);

CREATE TABLE IF NOT EXISTS verdicts (
	job_id         UUID NOT NULL REFERENCES jobs(id),
	test_case_id   TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	actual_output  TEXT NOT NULL,
	stderr         TEXT NOT NULL,
	exit_code      INT NOT NULL,
	duration_ms    BIGINT NOT NULL,
	peak_memory_mb BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, test_case_id)
);
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context) (*PostgresStore, error) {
	pgCfg, err := config.GetPostgresConfig()
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(pgCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pg config: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateJob(pctx context.Context, job *model.Job) error {
	tracer := tracing.GetTracer()
	ctx, span := tracer.Start(pctx, "Postgres/CreateJob")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (
			id, language, time_limit_ms, memory_limit_mb,
			status, attempts, test_case_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Language, job.TimeLimitMS, job.MemoryLimitMB,
		job.Status, job.Attempts, len(job.TestCases), job.CreatedAt,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}

	for i, tc := range job.TestCases {
		_, err = tx.Exec(ctx, `
			INSERT INTO test_cases (job_id, test_case_id, ord, input, expected_output)
			VALUES ($1, $2, $3, $4, $5)`,
			job.ID, tc.ID, i, tc.Input, tc.ExpectedOutput,
		)
		if err != nil {
			util.RecordSpanError(span, err)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (s *PostgresStore) GetJob(pctx context.Context, id string) (*model.Job, error) {
	tracer := tracing.GetTracer()
	ctx, span := tracer.Start(pctx, "Postgres/GetJob")
	defer span.End()

	var job model.Job
	row := s.pool.QueryRow(ctx, `
		SELECT id, language, time_limit_ms, memory_limit_mb, status,
		       worker_id, attempts, failure_reason, compiler_output, created_at
		FROM jobs WHERE id = $1`, id)
	err := row.Scan(&job.ID, &job.Language, &job.TimeLimitMS, &job.MemoryLimitMB,
		&job.Status, &job.WorkerID, &job.Attempts, &job.FailureReason,
		&job.CompilerOutput, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT test_case_id, input, expected_output
		FROM test_cases WHERE job_id = $1 ORDER BY ord`, id)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.Input, &tc.ExpectedOutput); err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		job.TestCases = append(job.TestCases, tc)
	}
	if err := rows.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	return &job, nil
}

func (s *PostgresStore) Verdicts(pctx context.Context, jobID string) ([]model.Verdict, error) {
	tracer := tracing.GetTracer()
	ctx, span := tracer.Start(pctx, "Postgres/Verdicts")
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT test_case_id, outcome, actual_output, stderr,
		       exit_code, duration_ms, peak_memory_mb
		FROM verdicts WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	defer rows.Close()

	var verdicts []model.Verdict
	for rows.Next() {
		var v model.Verdict
		if err := rows.Scan(&v.TestCaseID, &v.Outcome, &v.ActualOutput,
			&v.Stderr, &v.ExitCode, &v.DurationMS, &v.PeakMemoryMB); err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		verdicts = append(verdicts, v)
	}
	if err := rows.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return verdicts, nil
}

func (s *PostgresStore) AppendVerdict(pctx context.Context, jobID string, v model.Verdict) (bool, error) {
	tracer := tracing.GetTracer()
	ctx, span := tracer.Start(pctx, "Postgres/AppendVerdict")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		util.RecordSpanError(span, err)
		return false, err
	}
	defer tx.Rollback(ctx)

	// A failed job keeps whatever verdicts it already has; late reports
	// from a dead attempt are dropped.
	var status model.JobStatus
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, store.ErrJobNotFound
	}
	if err != nil {
		util.RecordSpanError(span, err)
		return false, err
	}
	if status == model.JobFailed {
		return false, nil
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO verdicts (
			job_id, test_case_id, outcome, actual_output, stderr,
			exit_code, duration_ms, peak_memory_mb
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id, test_case_id) DO NOTHING`,
		jobID, v.TestCaseID, v.Outcome, v.ActualOutput, v.Stderr,
		v.ExitCode, v.DurationMS, v.PeakMemoryMB,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return false, err
	}
	added := tag.RowsAffected() == 1

	if added {
		_, err = tx.Exec(ctx, `
			UPDATE jobs SET status = $2
			WHERE id = $1
			  AND status NOT IN ($2, $3)
			  AND test_case_count = (SELECT count(*) FROM verdicts WHERE job_id = $1)`,
			jobID, model.JobCompleted, model.JobFailed,
		)
		if err != nil {
			util.RecordSpanError(span, err)
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		util.RecordSpanError(span, err)
		return false, err
	}
	return added, nil
}

func (s *PostgresStore) Assign(pctx context.Context, jobID, workerID string) error {
	tracer := tracing.GetTracer()
	ctx, span := tracer.Start(pctx, "Postgres/Assign")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $3, worker_id = $2
		WHERE id = $1 AND status = $4`,
		jobID, workerID, model.JobAssigned, model.JobPending,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not pending", jobID)
	}
	return nil
}

func (s *PostgresStore) SetPhase(pctx context.Context, jobID string, status model.JobStatus) error {
	if status != model.JobCompiling && status != model.JobRunning {
		return fmt.Errorf("invalid phase %s", status)
	}

	tracer := tracing.GetTracer()
	ctx, span := tracer.Start(pctx, "Postgres/SetPhase")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2
		WHERE id = $1 AND status IN ($3, $4, $5)`,
		jobID, status, model.JobAssigned, model.JobCompiling, model.JobRunning,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s cannot move to %s", jobID, status)
	}
	return nil
}

func (s *PostgresStore) Requeue(pctx context.Context, jobID string) (int, error) {
	tracer := tracing.GetTracer()
	ctx, span := tracer.Start(pctx, "Postgres/Requeue")
	defer span.End()

	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = $2, worker_id = '', attempts = attempts + 1
		WHERE id = $1 AND status NOT IN ($3, $4)
		RETURNING attempts`,
		jobID, model.JobPending, model.JobCompleted, model.JobFailed,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already terminal; report the stored attempt count unchanged.
		err = s.pool.QueryRow(ctx, `SELECT attempts FROM jobs WHERE id = $1`, jobID).Scan(&attempts)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrJobNotFound
		}
	}
	if err != nil {
		util.RecordSpanError(span, err)
		return 0, err
	}
	return attempts, nil
}

func (s *PostgresStore) Fail(pctx context.Context, jobID, reason string) error {
	tracer := tracing.GetTracer()
	ctx, span := tracer.Start(pctx, "Postgres/Fail")
	defer span.End()

	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, failure_reason = $3, worker_id = ''
		WHERE id = $1 AND status NOT IN ($2, $4)`,
		jobID, model.JobFailed, reason, model.JobCompleted,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (s *PostgresStore) SetCompilerOutput(pctx context.Context, jobID, output string) error {
	tracer := tracing.GetTracer()
	ctx, span := tracer.Start(pctx, "Postgres/SetCompilerOutput")
	defer span.End()

	_, err := s.pool.Exec(ctx, `UPDATE jobs SET compiler_output = $2 WHERE id = $1`, jobID, output)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (s *PostgresStore) ShutDown(ctx context.Context) {
	s.pool.Close()
}

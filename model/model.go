package model

import (
	"time"
)

// JobStatus is the lifecycle state of a submitted job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobAssigned  JobStatus = "assigned"
	JobCompiling JobStatus = "compiling"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	// JobFailed marks infrastructure failure only. Program failures
	// (compile errors, crashes, limit breaches) complete normally with
	// failing verdicts.
	JobFailed JobStatus = "failed"
)

// Terminal reports whether a job in this status will never change again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Outcome classifies the result of one test case execution.
type Outcome string

const (
	OutcomeAccepted            Outcome = "accepted"
	OutcomeWrongAnswer         Outcome = "wrong_answer"
	OutcomeCompileError        Outcome = "compile_error"
	OutcomeRuntimeError        Outcome = "runtime_error"
	OutcomeTimeLimitExceeded   Outcome = "time_limit_exceeded"
	OutcomeMemoryLimitExceeded Outcome = "memory_limit_exceeded"
	OutcomeInternalError       Outcome = "internal_error"
)

// TestCase is one (input, expected output) pair. Immutable once submitted.
type TestCase struct {
	ID             string `json:"id"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// Verdict is the classified result of executing one test case.
// Created exactly once per test case and immutable afterwards.
type Verdict struct {
	TestCaseID   string  `json:"test_case_id"`
	Outcome      Outcome `json:"outcome"`
	ActualOutput string  `json:"actual_output"`
	Stderr       string  `json:"stderr,omitempty"`
	ExitCode     int     `json:"exit_code"`
	DurationMS   int64   `json:"duration_ms"`
	PeakMemoryMB int64   `json:"peak_memory_mb"`
}

// Job is one user-submitted program plus its test cases and limits.
// Source code lives in blob storage, not on the job record.
type Job struct {
	ID             string     `db:"id" json:"id"`
	Language       string     `db:"language" json:"language"`
	TestCases      []TestCase `json:"test_cases"`
	TimeLimitMS    int        `db:"time_limit_ms" json:"time_limit_ms"`
	MemoryLimitMB  int        `db:"memory_limit_mb" json:"memory_limit_mb"`
	Status         JobStatus  `db:"status" json:"status"`
	WorkerID       string     `db:"worker_id" json:"worker_id,omitempty"`
	Attempts       int        `db:"attempts" json:"attempts"`
	FailureReason  string     `db:"failure_reason" json:"failure_reason,omitempty"`
	CompilerOutput string     `db:"compiler_output" json:"compiler_output,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// LeasedJob is the payload handed to a worker agent when it picks up an
// assignment. Carries the source inline so the agent needs no storage access.
type LeasedJob struct {
	Job        Job    `json:"job"`
	SourceCode string `json:"source_code"`
}

// WorkerInfo is the registry snapshot of one worker node.
type WorkerInfo struct {
	ID             string    `json:"id"`
	Capacity       int       `json:"capacity"`
	AvailableSlots int       `json:"available_slots"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
}

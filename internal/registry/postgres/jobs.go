package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/helios-ml/batchinfer/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateBatch = errors.New("batch already submitted")
)

// Schema for the batch job registry. Applied by Migrate.
const Schema = `CREATE TABLE IF NOT EXISTS batch_jobs (
	batch_id        TEXT PRIMARY KEY,
	job_id          TEXT NOT NULL DEFAULT '',
	model_id        TEXT NOT NULL DEFAULT '',
	input_bucket    TEXT NOT NULL DEFAULT '',
	input_key       TEXT NOT NULL DEFAULT '',
	output_bucket   TEXT NOT NULL DEFAULT '',
	output_key      TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	failure_message TEXT NOT NULL DEFAULT '',
	submitted_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const (
	reserveQuery = `SELECT status FROM batch_jobs WHERE batch_id = $1`

	insertJobQuery = `INSERT INTO batch_jobs (
		batch_id,
		job_id,
		model_id,
		input_bucket,
		input_key,
		output_bucket,
		output_key,
		status,
		failure_message,
		submitted_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	ON CONFLICT (batch_id) DO UPDATE SET
		job_id = EXCLUDED.job_id,
		model_id = EXCLUDED.model_id,
		input_bucket = EXCLUDED.input_bucket,
		input_key = EXCLUDED.input_key,
		output_bucket = EXCLUDED.output_bucket,
		output_key = EXCLUDED.output_key,
		status = EXCLUDED.status,
		failure_message = EXCLUDED.failure_message,
		submitted_at = EXCLUDED.submitted_at,
		updated_at = now()`

	updateStatusQuery = `UPDATE batch_jobs
	SET status = $2, failure_message = $3, updated_at = now()
	WHERE job_id = $1`

	selectJobByBatchIDQuery = `SELECT batch_id, job_id, model_id, input_bucket, input_key,
		output_bucket, output_key, status, failure_message, submitted_at
	FROM batch_jobs WHERE batch_id = $1`
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// JobStore persists job descriptors keyed by batch identifier. It backs
// idempotent resubmission: a batch id whose job did not fail cannot be
// submitted again.
type JobStore struct {
	db DB
}

func NewJobStore(db DB) *JobStore {
	if db == nil {
		return nil
	}
	return &JobStore{db: db}
}

func (s *JobStore) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate batch_jobs: %w", err)
	}
	return nil
}

func (s *JobStore) Reserve(ctx context.Context, batchID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	if strings.TrimSpace(batchID) == "" {
		return errors.New("batch id is required")
	}
	var status string
	err := s.db.QueryRowContext(ctx, reserveQuery, batchID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select batch %s: %w", batchID, err)
	}
	return reserveDecision(domain.Status(status))
}

// reserveDecision allows resubmission only after a failed run.
func reserveDecision(status domain.Status) error {
	if status == domain.StatusFailed {
		return nil
	}
	return fmt.Errorf("batch has status %s: %w", status, ErrDuplicateBatch)
}

func (s *JobStore) Record(ctx context.Context, job domain.Job) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(job.BatchID) == "" {
		return errors.New("batch id is required")
	}
	_, err := s.db.ExecContext(ctx, insertJobQuery,
		strings.TrimSpace(job.BatchID),
		strings.TrimSpace(job.ID),
		strings.TrimSpace(job.ModelID),
		job.InputLocation.Bucket,
		job.InputLocation.Key,
		job.OutputLocation.Bucket,
		job.OutputLocation.Key,
		string(job.Status),
		job.FailureMessage,
		normalizeTime(job.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("insert batch job: %w", err)
	}
	return nil
}

func (s *JobStore) UpdateStatus(ctx context.Context, jobID string, status domain.Status, failureMessage string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	if strings.TrimSpace(jobID) == "" {
		return errors.New("job id is required")
	}
	if !status.Valid() {
		return fmt.Errorf("unknown status: %q", status)
	}
	res, err := s.db.ExecContext(ctx, updateStatusQuery, jobID, string(status), failureMessage)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *JobStore) GetByBatchID(ctx context.Context, batchID string) (domain.Job, error) {
	if s == nil || s.db == nil {
		return domain.Job{}, fmt.Errorf("job store not initialized")
	}
	var (
		job         domain.Job
		status      string
		submittedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, selectJobByBatchIDQuery, batchID).Scan(
		&job.BatchID,
		&job.ID,
		&job.ModelID,
		&job.InputLocation.Bucket,
		&job.InputLocation.Key,
		&job.OutputLocation.Bucket,
		&job.OutputLocation.Key,
		&status,
		&job.FailureMessage,
		&submittedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, ErrNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("select batch %s: %w", batchID, err)
	}
	job.Status = domain.Status(status)
	job.SubmittedAt = submittedAt
	return job, nil
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/helios-ml/batchinfer/internal/domain"
	"github.com/helios-ml/batchinfer/internal/jobsclient"
	"github.com/helios-ml/batchinfer/internal/metrics"
	"github.com/helios-ml/batchinfer/internal/storage/objectstore"
)

// JobsAPI is the slice of the job service this workflow needs.
type JobsAPI interface {
	CreateJob(ctx context.Context, req jobsclient.CreateJobRequest) (domain.Job, error)
	GetJob(ctx context.Context, jobID string) (domain.Job, error)
}

// Registry persists job descriptors keyed by batch identifier. A nil
// Registry disables persistence.
type Registry interface {
	// Reserve fails when the batch id already has a submission that did not
	// end in Failed, making resubmission idempotent.
	Reserve(ctx context.Context, batchID string) error
	Record(ctx context.Context, job domain.Job) error
	UpdateStatus(ctx context.Context, jobID string, status domain.Status, failureMessage string) error
}

type SubmitConfig struct {
	InputBucket   string
	InputPrefix   string
	OutputBucket  string
	OutputPrefix  string
	ModelID       string
	ExecutionRole string
}

func (c SubmitConfig) Validate() error {
	if strings.TrimSpace(c.InputBucket) == "" {
		return errors.New("input bucket is required")
	}
	if strings.TrimSpace(c.OutputBucket) == "" {
		return errors.New("output bucket is required")
	}
	if strings.TrimSpace(c.ModelID) == "" {
		return errors.New("model id is required")
	}
	return nil
}

// Submitter serializes a batch to the input location and creates the job.
type Submitter struct {
	store    objectstore.Store
	jobs     JobsAPI
	registry Registry
	cfg      SubmitConfig
	logger   *slog.Logger
}

func NewSubmitter(store objectstore.Store, jobs JobsAPI, registry Registry, cfg SubmitConfig, logger *slog.Logger) (*Submitter, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if jobs == nil {
		return nil, errors.New("jobs client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{store: store, jobs: jobs, registry: registry, cfg: cfg, logger: logger}, nil
}

// Submit writes the batch input file and creates the job. An empty batchID
// gets a generated one. Submission failure is fatal to the attempt; callers
// may retry with the same batch id only after the previous job failed.
func (s *Submitter) Submit(ctx context.Context, batchID string, records []domain.TaskRequest) (domain.Job, error) {
	if len(records) == 0 {
		return domain.Job{}, errors.New("batch has no records")
	}
	if strings.TrimSpace(batchID) == "" {
		batchID = uuid.NewString()
	}

	if s.registry != nil {
		if err := s.registry.Reserve(ctx, batchID); err != nil {
			return domain.Job{}, fmt.Errorf("reserve batch %s: %w", batchID, err)
		}
	}

	var buf bytes.Buffer
	if err := EncodeRequests(&buf, records); err != nil {
		return domain.Job{}, fmt.Errorf("encode batch %s: %w", batchID, err)
	}

	inputKey := path.Join(s.cfg.InputPrefix, batchID+".jsonl")
	if err := s.store.Put(ctx, s.cfg.InputBucket, inputKey, &buf, int64(buf.Len()), "application/x-ndjson"); err != nil {
		return domain.Job{}, fmt.Errorf("put batch input %s: %w", inputKey, err)
	}

	input := domain.Location{Bucket: s.cfg.InputBucket, Key: inputKey}
	output := domain.Location{Bucket: s.cfg.OutputBucket, Key: path.Join(s.cfg.OutputPrefix, batchID) + "/"}

	job, err := s.jobs.CreateJob(ctx, jobsclient.CreateJobRequest{
		JobName:        batchID,
		ModelID:        s.cfg.ModelID,
		ExecutionRole:  s.cfg.ExecutionRole,
		InputLocation:  input,
		OutputLocation: output,
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("create job for batch %s: %w", batchID, err)
	}
	job.BatchID = batchID
	if job.InputLocation == (domain.Location{}) {
		job.InputLocation = input
	}
	if job.OutputLocation == (domain.Location{}) {
		job.OutputLocation = output
	}
	metrics.JobsSubmittedTotal.WithLabelValues(s.cfg.ModelID).Inc()

	if s.registry != nil {
		if err := s.registry.Record(ctx, job); err != nil {
			return domain.Job{}, fmt.Errorf("record job %s: %w", job.ID, err)
		}
	}

	s.logger.Info("batch submitted",
		"batch_id", batchID,
		"job_id", job.ID,
		"records", len(records),
		"input", input.String(),
		"output", output.String(),
	)
	return job, nil
}

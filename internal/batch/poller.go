package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/helios-ml/batchinfer/internal/backoff"
	"github.com/helios-ml/batchinfer/internal/domain"
	"github.com/helios-ml/batchinfer/internal/metrics"
)

type PollConfig struct {
	// Policy is a backoff policy name; see the backoff package.
	Policy       string
	BaseInterval time.Duration
	MaxInterval  time.Duration
	// Deadline bounds the whole wait. Zero means the caller's context is the
	// only bound.
	Deadline time.Duration
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		Policy:       backoff.PolicyExpEqualJitter,
		BaseInterval: 30 * time.Second,
		MaxInterval:  5 * time.Minute,
	}
}

func (c PollConfig) Validate() error {
	if c.BaseInterval <= 0 {
		return errors.New("base interval must be positive")
	}
	if c.MaxInterval < c.BaseInterval {
		return errors.New("max interval must be >= base interval")
	}
	if c.Deadline < 0 {
		return errors.New("deadline must not be negative")
	}
	return nil
}

// Poller observes a job until the service reports a terminal status. It
// never mutates the job.
type Poller struct {
	jobs     JobsAPI
	registry Registry
	cfg      PollConfig
	logger   *slog.Logger
	rng      *rand.Rand
}

func NewPoller(jobs JobsAPI, registry Registry, cfg PollConfig, logger *slog.Logger) (*Poller, error) {
	if jobs == nil {
		return nil, errors.New("jobs client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		jobs:     jobs,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Wait polls the job until Completed or Failed. The wait is cancellable via
// ctx and bounded by the configured deadline; between polls it sleeps per the
// backoff policy. On Failed the returned error carries the service's failure
// detail.
func (p *Poller) Wait(ctx context.Context, jobID string) (domain.Job, error) {
	if p.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Deadline)
		defer cancel()
	}

	start := time.Now()
	var last domain.Status
	for attempt := 0; ; attempt++ {
		job, err := p.jobs.GetJob(ctx, jobID)
		if err != nil {
			return domain.Job{}, err
		}
		metrics.PollsTotal.WithLabelValues(string(job.Status)).Inc()

		if last != "" && job.Status != last && !domain.CanTransition(last, job.Status) {
			return domain.Job{}, fmt.Errorf("job %s reported illegal transition %s -> %s", jobID, last, job.Status)
		}
		last = job.Status

		if p.registry != nil {
			if err := p.registry.UpdateStatus(ctx, job.ID, job.Status, job.FailureMessage); err != nil {
				p.logger.Warn("registry update failed", "job_id", job.ID, "error", err)
			}
		}

		switch job.Status {
		case domain.StatusCompleted:
			metrics.JobsFinishedTotal.WithLabelValues(job.ModelID, string(job.Status)).Inc()
			metrics.JobWaitSeconds.Observe(time.Since(start).Seconds())
			p.logger.Info("job completed", "job_id", job.ID, "polls", attempt+1)
			return job, nil
		case domain.StatusFailed:
			metrics.JobsFinishedTotal.WithLabelValues(job.ModelID, string(job.Status)).Inc()
			metrics.JobWaitSeconds.Observe(time.Since(start).Seconds())
			return job, &domain.JobFailedError{JobID: job.ID, Detail: job.FailureMessage}
		}

		delay := backoff.Compute(p.cfg.Policy, p.cfg.BaseInterval, p.cfg.MaxInterval, attempt, p.rng)
		p.logger.Info("job not terminal", "job_id", jobID, "status", job.Status, "next_poll_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.Job{}, fmt.Errorf("waiting for job %s: %w", jobID, ctx.Err())
		case <-timer.C:
		}
	}
}

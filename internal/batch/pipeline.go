package batch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/helios-ml/batchinfer/internal/domain"
)

// Pipeline wires the four stages end to end:
// collect → submit → wait → fetch.
type Pipeline struct {
	collector *Collector
	submitter *Submitter
	poller    *Poller
	retriever *Retriever
	logger    *slog.Logger
}

func NewPipeline(collector *Collector, submitter *Submitter, poller *Poller, retriever *Retriever, logger *slog.Logger) (*Pipeline, error) {
	if collector == nil || submitter == nil || poller == nil || retriever == nil {
		return nil, errors.New("all pipeline stages are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		collector: collector,
		submitter: submitter,
		poller:    poller,
		retriever: retriever,
		logger:    logger,
	}, nil
}

type Result struct {
	Job      domain.Job
	Manifest domain.Manifest
	Records  []domain.OutputRecord
}

// Run drives one batch through the whole workflow. Control flows strictly one
// way; each stage owns its values until it hands them to the next.
func (p *Pipeline) Run(ctx context.Context, batchID string) (Result, error) {
	requests, err := p.collector.Collect(ctx)
	if err != nil {
		return Result{}, err
	}
	p.logger.Info("batch collected", "records", len(requests))

	job, err := p.submitter.Submit(ctx, batchID, requests)
	if err != nil {
		return Result{}, err
	}

	job, err = p.poller.Wait(ctx, job.ID)
	if err != nil {
		return Result{}, err
	}

	manifest, records, err := p.retriever.Fetch(ctx, job)
	if err != nil {
		return Result{}, err
	}
	if err := MatchRecords(requests, records, manifest.ErrorCount == 0); err != nil {
		return Result{}, err
	}

	return Result{Job: job, Manifest: manifest, Records: records}, nil
}

package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/helios-ml/batchinfer/internal/domain"
	"github.com/helios-ml/batchinfer/internal/metrics"
	"github.com/helios-ml/batchinfer/internal/storage/objectstore"
)

// Output object name convention: input file name plus this suffix.
const OutputSuffix = ".out"

const manifestObjectName = "manifest.json.out"

// Retriever downloads and parses the manifest and output file of a completed
// job.
type Retriever struct {
	store  objectstore.Store
	logger *slog.Logger
}

func NewRetriever(store objectstore.Store, logger *slog.Logger) (*Retriever, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, logger: logger}, nil
}

// Fetch returns the job's manifest and its output records in file order.
// Any malformed line aborts the whole retrieval, and the decoded record
// count must equal the manifest's success count.
func (r *Retriever) Fetch(ctx context.Context, job domain.Job) (domain.Manifest, []domain.OutputRecord, error) {
	if job.Status != domain.StatusCompleted {
		return domain.Manifest{}, nil, fmt.Errorf("job %s is %s, not %s", job.ID, job.Status, domain.StatusCompleted)
	}

	manifest, err := r.fetchManifest(ctx, job)
	if err != nil {
		return domain.Manifest{}, nil, err
	}

	outputKey := path.Join(job.OutputLocation.Key, path.Base(job.InputLocation.Key)+OutputSuffix)
	rc, _, err := r.store.Get(ctx, job.OutputLocation.Bucket, outputKey)
	if err != nil {
		return domain.Manifest{}, nil, fmt.Errorf("get output %s: %w", outputKey, err)
	}
	defer rc.Close()

	records, err := DecodeOutputs(rc)
	if err != nil {
		return domain.Manifest{}, nil, fmt.Errorf("decode output %s: %w", outputKey, err)
	}
	if len(records) != manifest.SuccessCount {
		return domain.Manifest{}, nil, fmt.Errorf("output %s has %d records, manifest claims %d successes",
			outputKey, len(records), manifest.SuccessCount)
	}

	metrics.RecordsRetrievedTotal.Add(float64(len(records)))
	metrics.TokensTotal.WithLabelValues("input").Add(float64(manifest.Usage.InputTokens))
	metrics.TokensTotal.WithLabelValues("output").Add(float64(manifest.Usage.OutputTokens))

	r.logger.Info("job output retrieved",
		"job_id", job.ID,
		"records", len(records),
		"errors", manifest.ErrorCount,
		"input_tokens", manifest.Usage.InputTokens,
		"output_tokens", manifest.Usage.OutputTokens,
	)
	return manifest, records, nil
}

func (r *Retriever) fetchManifest(ctx context.Context, job domain.Job) (domain.Manifest, error) {
	key := path.Join(job.OutputLocation.Key, manifestObjectName)
	rc, _, err := r.store.Get(ctx, job.OutputLocation.Bucket, key)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("get manifest %s: %w", key, err)
	}
	defer rc.Close()

	var manifest domain.Manifest
	if err := json.NewDecoder(rc).Decode(&manifest); err != nil {
		return domain.Manifest{}, fmt.Errorf("decode manifest %s: %w", key, err)
	}
	if err := manifest.Validate(); err != nil {
		return domain.Manifest{}, fmt.Errorf("manifest %s: %w", key, err)
	}
	return manifest, nil
}

// MatchRecords verifies that every output identifier corresponds to exactly
// one request identifier. With requireComplete set, every request must also
// have an output.
func MatchRecords(requests []domain.TaskRequest, outputs []domain.OutputRecord, requireComplete bool) error {
	want := make(map[string]bool, len(requests))
	for _, req := range requests {
		want[req.RecordID] = false
	}

	for _, out := range outputs {
		seen, ok := want[out.RecordID]
		if !ok {
			return fmt.Errorf("output record %q has no matching request", out.RecordID)
		}
		if seen {
			return fmt.Errorf("output record %q appears more than once", out.RecordID)
		}
		want[out.RecordID] = true
	}

	if requireComplete {
		var missing []string
		for id, seen := range want {
			if !seen {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("requests without output records: %v", missing)
		}
	}
	return nil
}

package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/helios-ml/batchinfer/internal/domain"
)

func completedJob() domain.Job {
	return domain.Job{
		ID:             "job-1",
		ModelID:        "titan-text-v2",
		InputLocation:  domain.Location{Bucket: "batch-inputs", Key: "batches/b1.jsonl"},
		OutputLocation: domain.Location{Bucket: "batch-outputs", Key: "batches/b1/"},
		Status:         domain.StatusCompleted,
	}
}

func outputLine(recordID, completion string) string {
	rec := domain.OutputRecord{
		RecordID:   recordID,
		ModelInput: domain.ModelInput{Prompt: "p", Params: testParams()},
		ModelOutput: domain.ModelOutput{
			Completion: completion,
			Usage:      domain.Usage{InputTokens: 100, OutputTokens: 40},
		},
	}
	data, _ := json.Marshal(rec)
	return string(data)
}

func putManifest(store *fakeStore, m domain.Manifest) {
	data, _ := json.Marshal(m)
	store.put("batch-outputs", "batches/b1/manifest.json.out", data)
}

func putOutput(store *fakeStore, lines ...string) {
	store.put("batch-outputs", "batches/b1/b1.jsonl.out", []byte(strings.Join(lines, "\n")+"\n"))
}

func TestFetch(t *testing.T) {
	store := newFakeStore()
	putManifest(store, domain.Manifest{
		TotalRecords: 3,
		SuccessCount: 3,
		Usage:        domain.Usage{InputTokens: 300, OutputTokens: 120},
	})
	putOutput(store,
		outputLine("rec-1", "Summary one."),
		outputLine("rec-2", "Summary two."),
		outputLine("rec-3", "Summary three."),
	)

	retriever, err := NewRetriever(store, nil)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	manifest, records, err := retriever.Fetch(context.Background(), completedJob())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if manifest.SuccessCount != 3 {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.RecordID != fmt.Sprintf("rec-%d", i+1) {
			t.Fatalf("records out of file order: %+v", records)
		}
		if rec.ModelOutput.Completion == "" {
			t.Fatalf("record %s has empty completion", rec.RecordID)
		}
	}
}

func TestFetchShortOutputFile(t *testing.T) {
	store := newFakeStore()
	putManifest(store, domain.Manifest{TotalRecords: 3, SuccessCount: 3})
	putOutput(store, outputLine("rec-1", "Summary one."), outputLine("rec-2", "Summary two."))

	retriever, _ := NewRetriever(store, nil)
	_, _, err := retriever.Fetch(context.Background(), completedJob())
	if err == nil || !strings.Contains(err.Error(), "manifest claims 3") {
		t.Fatalf("expected count mismatch error, got %v", err)
	}
}

func TestFetchMalformedLine(t *testing.T) {
	store := newFakeStore()
	putManifest(store, domain.Manifest{TotalRecords: 2, SuccessCount: 2})
	putOutput(store, outputLine("rec-1", "Summary one."), "{broken")

	retriever, _ := NewRetriever(store, nil)
	_, _, err := retriever.Fetch(context.Background(), completedJob())
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected parse error for line 2, got %v", err)
	}
}

func TestFetchMissingOutput(t *testing.T) {
	store := newFakeStore()
	putManifest(store, domain.Manifest{TotalRecords: 1, SuccessCount: 1})

	retriever, _ := NewRetriever(store, nil)
	_, _, err := retriever.Fetch(context.Background(), completedJob())
	if err == nil || !strings.Contains(err.Error(), "get output") {
		t.Fatalf("expected missing output error, got %v", err)
	}
}

func TestFetchMissingManifest(t *testing.T) {
	retriever, _ := NewRetriever(newFakeStore(), nil)
	_, _, err := retriever.Fetch(context.Background(), completedJob())
	if err == nil || !strings.Contains(err.Error(), "get manifest") {
		t.Fatalf("expected missing manifest error, got %v", err)
	}
}

func TestFetchRejectsNonTerminalJob(t *testing.T) {
	retriever, _ := NewRetriever(newFakeStore(), nil)
	job := completedJob()
	job.Status = domain.StatusInProgress
	_, _, err := retriever.Fetch(context.Background(), job)
	if err == nil || !strings.Contains(err.Error(), "not Completed") {
		t.Fatalf("expected non-terminal rejection, got %v", err)
	}
}

func TestMatchRecords(t *testing.T) {
	requests := sampleRequests()
	outputs := []domain.OutputRecord{
		{RecordID: "rec-1", ModelOutput: domain.ModelOutput{Completion: "one"}},
		{RecordID: "rec-2", ModelOutput: domain.ModelOutput{Completion: "two"}},
		{RecordID: "rec-3", ModelOutput: domain.ModelOutput{Completion: "three"}},
	}

	if err := MatchRecords(requests, outputs, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	unknown := append([]domain.OutputRecord{}, outputs...)
	unknown[1].RecordID = "rec-99"
	if err := MatchRecords(requests, unknown, false); err == nil {
		t.Fatalf("expected error for unknown output id")
	}

	dup := append([]domain.OutputRecord{}, outputs...)
	dup[2].RecordID = "rec-1"
	if err := MatchRecords(requests, dup, false); err == nil {
		t.Fatalf("expected error for duplicate output id")
	}

	partial := outputs[:2]
	if err := MatchRecords(requests, partial, false); err != nil {
		t.Fatalf("partial batch allowed when incomplete: %v", err)
	}
	if err := MatchRecords(requests, partial, true); err == nil {
		t.Fatalf("expected error for missing outputs when complete batch required")
	}
}

package domain

import "testing"

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusSubmitted, false},
		{StatusInProgress, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("Terminal(%s) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"submitted to in progress", StatusSubmitted, StatusInProgress, true},
		{"submitted to completed", StatusSubmitted, StatusCompleted, true},
		{"submitted to failed", StatusSubmitted, StatusFailed, true},
		{"in progress to completed", StatusInProgress, StatusCompleted, true},
		{"in progress to failed", StatusInProgress, StatusFailed, true},
		{"in progress to submitted", StatusInProgress, StatusSubmitted, false},
		{"completed is terminal", StatusCompleted, StatusFailed, false},
		{"failed is terminal", StatusFailed, StatusCompleted, false},
		{"unknown from", Status("Pending"), StatusCompleted, false},
		{"unknown to", StatusSubmitted, Status("Done"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func validJob() Job {
	return Job{
		ID:             "job-1",
		ModelID:        "titan-text-v2",
		InputLocation:  Location{Bucket: "batch-inputs", Key: "batches/b1.jsonl"},
		OutputLocation: Location{Bucket: "batch-outputs", Key: "batches/b1/"},
		Status:         StatusSubmitted,
	}
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Job)
		wantErr bool
	}{
		{"valid", func(j *Job) {}, false},
		{"missing id", func(j *Job) { j.ID = " " }, true},
		{"missing model", func(j *Job) { j.ModelID = "" }, true},
		{"unknown status", func(j *Job) { j.Status = "Queued" }, true},
		{"missing input bucket", func(j *Job) { j.InputLocation.Bucket = "" }, true},
		{"missing output key", func(j *Job) { j.OutputLocation.Key = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := validJob()
			tt.mutate(&job)
			err := job.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLocationString(t *testing.T) {
	loc := Location{Bucket: "batch-inputs", Key: "batches/b1.jsonl"}
	if got := loc.String(); got != "s3://batch-inputs/batches/b1.jsonl" {
		t.Fatalf("unexpected location string %q", got)
	}
}

func TestJobFailedError(t *testing.T) {
	err := &JobFailedError{JobID: "job-1", Detail: "model quota exceeded"}
	if err.Error() != "job job-1 failed: model quota exceeded" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	bare := &JobFailedError{JobID: "job-2"}
	if bare.Error() != "job job-2 failed" {
		t.Fatalf("unexpected message %q", bare.Error())
	}
}

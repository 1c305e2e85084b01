package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a batch inference job. The service owns
// transitions; this side only observes them.
type Status string

const (
	StatusSubmitted  Status = "Submitted"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the service may move a job from one status to
// another. Submitted → InProgress → {Completed | Failed}; a job may also jump
// straight from Submitted to a terminal state.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusSubmitted:
		return to == StatusInProgress || to.Terminal()
	case StatusInProgress:
		return to.Terminal()
	}
	return false
}

// Location addresses one object (or prefix) in object storage.
type Location struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

func (l Location) Validate() error {
	if strings.TrimSpace(l.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.TrimSpace(l.Key) == "" {
		return errors.New("key is required")
	}
	return nil
}

// Job is the descriptor of one asynchronous batch inference job.
type Job struct {
	ID             string    `json:"jobId"`
	BatchID        string    `json:"batchId,omitempty"`
	ModelID        string    `json:"modelId"`
	InputLocation  Location  `json:"inputLocation"`
	OutputLocation Location  `json:"outputLocation"`
	Status         Status    `json:"status"`
	FailureMessage string    `json:"failureMessage,omitempty"`
	SubmittedAt    time.Time `json:"submittedAt,omitempty"`
}

func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(j.ModelID) == "" {
		return errors.New("model id is required")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("unknown status: %q", j.Status)
	}
	if err := j.InputLocation.Validate(); err != nil {
		return fmt.Errorf("input location: %w", err)
	}
	if err := j.OutputLocation.Validate(); err != nil {
		return fmt.Errorf("output location: %w", err)
	}
	return nil
}

// JobFailedError carries the failure detail the service reported for a job
// that ended in the Failed state.
type JobFailedError struct {
	JobID  string
	Detail string
}

func (e *JobFailedError) Error() string {
	if strings.TrimSpace(e.Detail) == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Detail)
}

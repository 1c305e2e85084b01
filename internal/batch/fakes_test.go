package batch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/helios-ml/batchinfer/internal/domain"
	"github.com/helios-ml/batchinfer/internal/jobsclient"
	"github.com/helios-ml/batchinfer/internal/storage/objectstore"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte // "bucket/key" -> data
	failGet map[string]error  // "bucket/key" -> forced error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string][]byte),
		failGet: make(map[string]error),
	}
}

func (s *fakeStore) put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = data
}

func (s *fakeStore) List(ctx context.Context, bucket, prefix string) ([]objectstore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []objectstore.ObjectInfo
	for name, data := range s.objects {
		if !strings.HasPrefix(name, bucket+"/") {
			continue
		}
		key := strings.TrimPrefix(name, bucket+"/")
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, objectstore.ObjectInfo{Key: key, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := bucket + "/" + key
	if err, ok := s.failGet[name]; ok {
		return nil, objectstore.ObjectInfo{}, err
	}
	data, ok := s.objects[name]
	if !ok {
		return nil, objectstore.ObjectInfo{}, fmt.Errorf("object not found: %s", name)
	}
	info := objectstore.ObjectInfo{Key: key, Size: int64(len(data))}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (s *fakeStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.put(bucket, key, data)
	return nil
}

func (s *fakeStore) Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return objectstore.ObjectInfo{}, fmt.Errorf("object not found: %s/%s", bucket, key)
	}
	return objectstore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

// fakeJobs scripts the job service. Each GetJob call advances through
// statuses; the last entry repeats.
type fakeJobs struct {
	created  []jobsclient.CreateJobRequest
	statuses []domain.Status
	failure  string
	getCalls int
	getErr   error

	// onStatus runs before each GetJob response, with the status about to be
	// reported. Lets tests materialize output files at completion time.
	onStatus func(status domain.Status)
}

func (f *fakeJobs) CreateJob(ctx context.Context, req jobsclient.CreateJobRequest) (domain.Job, error) {
	f.created = append(f.created, req)
	return domain.Job{
		ID:             "job-1",
		BatchID:        req.JobName,
		ModelID:        req.ModelID,
		InputLocation:  req.InputLocation,
		OutputLocation: req.OutputLocation,
		Status:         domain.StatusSubmitted,
	}, nil
}

func (f *fakeJobs) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	if f.getErr != nil {
		return domain.Job{}, f.getErr
	}
	idx := f.getCalls
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.getCalls++
	status := f.statuses[idx]
	if f.onStatus != nil {
		f.onStatus(status)
	}
	job := domain.Job{
		ID:      jobID,
		ModelID: "titan-text-v2",
		Status:  status,
	}
	if len(f.created) > 0 {
		job.InputLocation = f.created[0].InputLocation
		job.OutputLocation = f.created[0].OutputLocation
	} else {
		job.InputLocation = domain.Location{Bucket: "batch-inputs", Key: "batches/b1.jsonl"}
		job.OutputLocation = domain.Location{Bucket: "batch-outputs", Key: "batches/b1/"}
	}
	if status == domain.StatusFailed {
		job.FailureMessage = f.failure
	}
	return job, nil
}

type statusUpdate struct {
	jobID   string
	status  domain.Status
	failure string
}

type fakeRegistry struct {
	reserveErr error
	reserved   []string
	recorded   []domain.Job
	updates    []statusUpdate
}

func (r *fakeRegistry) Reserve(ctx context.Context, batchID string) error {
	if r.reserveErr != nil {
		return r.reserveErr
	}
	r.reserved = append(r.reserved, batchID)
	return nil
}

func (r *fakeRegistry) Record(ctx context.Context, job domain.Job) error {
	r.recorded = append(r.recorded, job)
	return nil
}

func (r *fakeRegistry) UpdateStatus(ctx context.Context, jobID string, status domain.Status, failureMessage string) error {
	r.updates = append(r.updates, statusUpdate{jobID: jobID, status: status, failure: failureMessage})
	return nil
}

func testParams() domain.GenerationParams {
	return domain.GenerationParams{MaxTokens: 512, Temperature: 0.2, TopP: 0.9, TopK: 40}
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// Package jobsclient talks to the external asynchronous inference job
// service: create a batch job against an uploaded input file, observe its
// status until the service reports a terminal state.
package jobsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/helios-ml/batchinfer/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := &http.Client{Timeout: cfg.Timeout}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: base,
	}
	switch cfg.Identity.Mode {
	case IdentityToken:
		c.token = cfg.Identity.Token
	case IdentityOAuth2:
		cc := clientcredentials.Config{
			ClientID:     cfg.Identity.ClientID,
			ClientSecret: cfg.Identity.ClientSecret,
			TokenURL:     cfg.Identity.TokenURL,
			Scopes:       cfg.Identity.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		c.httpClient = cc.Client(ctx)
	}
	return c, nil
}

// CreateJobRequest is the create-job payload. ExecutionRole is the
// caller-supplied identity the service assumes to reach the input and output
// locations.
type CreateJobRequest struct {
	JobName        string          `json:"jobName"`
	ModelID        string          `json:"modelId"`
	ExecutionRole  string          `json:"executionRole,omitempty"`
	InputLocation  domain.Location `json:"inputLocation"`
	OutputLocation domain.Location `json:"outputLocation"`
}

type jobResponse struct {
	JobID          string          `json:"jobId"`
	Status         string          `json:"status"`
	ModelID        string          `json:"modelId"`
	InputLocation  domain.Location `json:"inputLocation"`
	OutputLocation domain.Location `json:"outputLocation"`
	FailureMessage string          `json:"failureMessage,omitempty"`
	SubmittedAt    time.Time       `json:"submittedAt"`
}

func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (domain.Job, error) {
	if strings.TrimSpace(req.JobName) == "" {
		return domain.Job{}, fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(req.ModelID) == "" {
		return domain.Job{}, fmt.Errorf("model id is required")
	}
	var resp jobResponse
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &resp); err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}
	if resp.Status == "" {
		resp.Status = string(domain.StatusSubmitted)
	}
	return c.toDomain(resp, req.JobName)
}

func (c *Client) GetJob(ctx context.Context, jobID string) (domain.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return domain.Job{}, fmt.Errorf("job id is required")
	}
	var resp jobResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID, nil, &resp); err != nil {
		return domain.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return c.toDomain(resp, "")
}

func (c *Client) toDomain(resp jobResponse, batchID string) (domain.Job, error) {
	status := domain.Status(resp.Status)
	if !status.Valid() {
		return domain.Job{}, fmt.Errorf("job service returned unknown status %q for job %s", resp.Status, resp.JobID)
	}
	return domain.Job{
		ID:             resp.JobID,
		BatchID:        batchID,
		ModelID:        resp.ModelID,
		InputLocation:  resp.InputLocation,
		OutputLocation: resp.OutputLocation,
		Status:         status,
		FailureMessage: resp.FailureMessage,
		SubmittedAt:    resp.SubmittedAt,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("job service (status %d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

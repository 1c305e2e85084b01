package domain

import (
	"errors"
	"fmt"
	"strings"
)

// GenerationParams are provider generation parameters carried verbatim on
// every request and echoed back on every output record.
type GenerationParams struct {
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
	TopK        int     `json:"topK,omitempty"`
}

// ModelInput is the provider payload for one inference request.
type ModelInput struct {
	Prompt string           `json:"prompt"`
	Params GenerationParams `json:"params"`
}

// TaskRequest is one line of a batch input file.
type TaskRequest struct {
	RecordID   string     `json:"recordId"`
	ModelInput ModelInput `json:"modelInput"`
}

// Usage holds per-record token counters.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// ModelOutput is the generated content for one record.
type ModelOutput struct {
	Completion string `json:"completion"`
	StopReason string `json:"stopReason,omitempty"`
	Usage      Usage  `json:"usage"`
}

// OutputRecord is one line of a batch output file. It mirrors the originating
// request and adds the generated content.
type OutputRecord struct {
	RecordID    string      `json:"recordId"`
	ModelInput  ModelInput  `json:"modelInput"`
	ModelOutput ModelOutput `json:"modelOutput"`
}

func (p GenerationParams) Validate() error {
	if p.MaxTokens <= 0 {
		return errors.New("max tokens must be positive")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature out of range: %v", p.Temperature)
	}
	if p.TopP < 0 || p.TopP > 1 {
		return fmt.Errorf("top-p out of range: %v", p.TopP)
	}
	if p.TopK < 0 {
		return fmt.Errorf("top-k must not be negative: %d", p.TopK)
	}
	return nil
}

func (r TaskRequest) Validate() error {
	if strings.TrimSpace(r.RecordID) == "" {
		return errors.New("record id is required")
	}
	if strings.TrimSpace(r.ModelInput.Prompt) == "" {
		return errors.New("prompt is required")
	}
	return r.ModelInput.Params.Validate()
}

func (r OutputRecord) Validate() error {
	if strings.TrimSpace(r.RecordID) == "" {
		return errors.New("record id is required")
	}
	if strings.TrimSpace(r.ModelOutput.Completion) == "" {
		return errors.New("completion is required")
	}
	if r.ModelOutput.Usage.InputTokens < 0 || r.ModelOutput.Usage.OutputTokens < 0 {
		return errors.New("token counters must not be negative")
	}
	return nil
}

// Package config is the explicit pipeline configuration: buckets, model,
// execution identity, prompt template and poll policy all live here instead
// of ambient globals.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/helios-ml/batchinfer/internal/backoff"
	"github.com/helios-ml/batchinfer/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultSummaryTemplate renders a summarization request per source object.
const DefaultSummaryTemplate = `Summarize the following text in three sentences.

{{.SourceText}}`

// DefaultQuestionTemplate renders a synthetic question/answer generation
// request, for building chatbot evaluation sets from a document corpus.
const DefaultQuestionTemplate = `Read the following document and write five question/answer pairs a user might ask about it. Answer each question using only the document.

{{.SourceText}}`

// Duration parses YAML scalars like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Model  ModelConfig  `yaml:"model"`
	Source SourceConfig `yaml:"source"`
	Batch  BatchConfig  `yaml:"batch"`
	Prompt PromptConfig `yaml:"prompt"`
	Poll   PollConfig   `yaml:"poll"`
}

// ModelConfig selects the model and its generation parameters. Temperature
// and top-p are pointers so an explicit zero (greedy decoding) survives
// parsing instead of being mistaken for an unset field.
type ModelConfig struct {
	ID          string   `yaml:"id"`
	MaxTokens   int      `yaml:"maxTokens"`
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"topP"`
	TopK        int      `yaml:"topK"`
}

// SourceConfig locates the raw text corpus.
type SourceConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// BatchConfig locates batch input/output files and names the execution
// identity the job service assumes.
type BatchConfig struct {
	InputBucket   string `yaml:"inputBucket"`
	InputPrefix   string `yaml:"inputPrefix"`
	OutputBucket  string `yaml:"outputBucket"`
	OutputPrefix  string `yaml:"outputPrefix"`
	ExecutionRole string `yaml:"executionRole"`
}

type PromptConfig struct {
	Template string `yaml:"template"`
}

type PollConfig struct {
	Policy       string   `yaml:"policy"`
	BaseInterval Duration `yaml:"baseInterval"`
	MaxInterval  Duration `yaml:"maxInterval"`
	Deadline     Duration `yaml:"deadline"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = 512
	}
	if c.Model.Temperature == nil {
		c.Model.Temperature = floatPtr(0.3)
	}
	if c.Model.TopP == nil {
		c.Model.TopP = floatPtr(0.9)
	}
	if strings.TrimSpace(c.Prompt.Template) == "" {
		c.Prompt.Template = DefaultSummaryTemplate
	}
	if strings.TrimSpace(c.Poll.Policy) == "" {
		c.Poll.Policy = backoff.PolicyExpEqualJitter
	}
	if c.Poll.BaseInterval == 0 {
		c.Poll.BaseInterval = Duration(30 * time.Second)
	}
	if c.Poll.MaxInterval == 0 {
		c.Poll.MaxInterval = Duration(5 * time.Minute)
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Model.ID) == "" {
		return errors.New("model id is required")
	}
	if err := c.GenerationParams().Validate(); err != nil {
		return fmt.Errorf("model params: %w", err)
	}
	if strings.TrimSpace(c.Source.Bucket) == "" {
		return errors.New("source bucket is required")
	}
	if strings.TrimSpace(c.Batch.InputBucket) == "" {
		return errors.New("batch input bucket is required")
	}
	if strings.TrimSpace(c.Batch.OutputBucket) == "" {
		return errors.New("batch output bucket is required")
	}
	if c.Poll.BaseInterval <= 0 {
		return errors.New("poll base interval must be positive")
	}
	if c.Poll.MaxInterval < c.Poll.BaseInterval {
		return errors.New("poll max interval must be >= base interval")
	}
	if c.Poll.Deadline < 0 {
		return errors.New("poll deadline must not be negative")
	}
	return nil
}

func (c Config) GenerationParams() domain.GenerationParams {
	params := domain.GenerationParams{
		MaxTokens: c.Model.MaxTokens,
		TopK:      c.Model.TopK,
	}
	if c.Model.Temperature != nil {
		params.Temperature = *c.Model.Temperature
	}
	if c.Model.TopP != nil {
		params.TopP = *c.Model.TopP
	}
	return params
}

func floatPtr(v float64) *float64 { return &v }

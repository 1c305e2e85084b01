package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/helios-ml/batchinfer/internal/domain"
	"github.com/helios-ml/batchinfer/internal/storage/objectstore"
)

// promptContext is what a prompt template renders against.
type promptContext struct {
	SourceText string
	ObjectKey  string
}

// Collector enumerates source text objects under a prefix and renders one
// task request per object.
type Collector struct {
	store  objectstore.Store
	bucket string
	prefix string
	tmpl   *template.Template
	params domain.GenerationParams

	// newID is swapped in tests for deterministic identifiers.
	newID func() string
}

func NewCollector(store objectstore.Store, bucket, prefix, promptTemplate string, params domain.GenerationParams) (*Collector, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("generation params: %w", err)
	}
	tmpl, err := template.New("prompt").Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &Collector{
		store:  store,
		bucket: bucket,
		prefix: prefix,
		tmpl:   tmpl,
		params: params,
		newID:  uuid.NewString,
	}, nil
}

// Collect reads every source object under the prefix and returns one request
// per object, in key order. An unreadable object fails the whole collection;
// there are no partial batches.
func (c *Collector) Collect(ctx context.Context) ([]domain.TaskRequest, error) {
	objects, err := c.store.List(ctx, c.bucket, c.prefix)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("no source objects under s3://%s/%s", c.bucket, c.prefix)
	}

	records := make([]domain.TaskRequest, 0, len(objects))
	for _, obj := range objects {
		text, err := c.readObject(ctx, obj.Key)
		if err != nil {
			return nil, fmt.Errorf("read source %s: %w", obj.Key, err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("source %s is empty", obj.Key)
		}

		var prompt strings.Builder
		if err := c.tmpl.Execute(&prompt, promptContext{SourceText: text, ObjectKey: obj.Key}); err != nil {
			return nil, fmt.Errorf("render prompt for %s: %w", obj.Key, err)
		}

		records = append(records, domain.TaskRequest{
			RecordID: c.newID(),
			ModelInput: domain.ModelInput{
				Prompt: prompt.String(),
				Params: c.params,
			},
		})
	}
	return records, nil
}

func (c *Collector) readObject(ctx context.Context, key string) (string, error) {
	rc, _, err := c.store.Get(ctx, c.bucket, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

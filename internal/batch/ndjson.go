package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/helios-ml/batchinfer/internal/domain"
)

// Input files can carry large rendered prompts on a single line.
const maxLineBytes = 10 << 20

// EncodeRequests writes records as newline-delimited JSON, one record per
// line. Record identifiers must be unique within the batch.
func EncodeRequests(w io.Writer, records []domain.TaskRequest) error {
	seen := make(map[string]struct{}, len(records))
	enc := json.NewEncoder(w)
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i+1, err)
		}
		if _, ok := seen[rec.RecordID]; ok {
			return fmt.Errorf("duplicate record id %q", rec.RecordID)
		}
		seen[rec.RecordID] = struct{}{}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %q: %w", rec.RecordID, err)
		}
	}
	return nil
}

// DecodeRequests parses a batch input file. A malformed line fails the whole
// decode.
func DecodeRequests(r io.Reader) ([]domain.TaskRequest, error) {
	var out []domain.TaskRequest
	err := scanLines(r, func(line int, data []byte) error {
		var rec domain.TaskRequest
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeOutputs parses a batch output file in file order. A malformed line
// fails the whole decode.
func DecodeOutputs(r io.Reader) ([]domain.OutputRecord, error) {
	var out []domain.OutputRecord
	err := scanLines(r, func(line int, data []byte) error {
		var rec domain.OutputRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanLines(r io.Reader, fn func(line int, data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if err := fn(line, data); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read line %d: %w", line+1, err)
	}
	return nil
}

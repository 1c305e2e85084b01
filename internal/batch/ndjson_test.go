package batch

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/helios-ml/batchinfer/internal/domain"
)

func sampleRequests() []domain.TaskRequest {
	return []domain.TaskRequest{
		{RecordID: "rec-1", ModelInput: domain.ModelInput{Prompt: "Summarize document one.", Params: testParams()}},
		{RecordID: "rec-2", ModelInput: domain.ModelInput{Prompt: "Summarize document two.", Params: testParams()}},
		{RecordID: "rec-3", ModelInput: domain.ModelInput{Prompt: "Summarize document three.", Params: testParams()}},
	}
}

func TestRequestRoundTrip(t *testing.T) {
	in := sampleRequests()

	var buf bytes.Buffer
	if err := EncodeRequests(&buf, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != len(in) {
		t.Fatalf("expected %d lines, got %d", len(in), lines)
	}

	out, err := DecodeRequests(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestEncodeRequestsDuplicateID(t *testing.T) {
	records := sampleRequests()
	records[2].RecordID = records[0].RecordID

	var buf bytes.Buffer
	err := EncodeRequests(&buf, records)
	if err == nil || !strings.Contains(err.Error(), "duplicate record id") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestEncodeRequestsInvalidRecord(t *testing.T) {
	records := sampleRequests()
	records[1].ModelInput.Prompt = ""

	var buf bytes.Buffer
	err := EncodeRequests(&buf, records)
	if err == nil || !strings.Contains(err.Error(), "record 2") {
		t.Fatalf("expected record 2 error, got %v", err)
	}
}

func TestDecodeOutputs(t *testing.T) {
	input := `{"recordId":"rec-1","modelInput":{"prompt":"p","params":{"maxTokens":512,"temperature":0.2,"topP":0.9}},"modelOutput":{"completion":"one","usage":{"inputTokens":10,"outputTokens":5}}}
{"recordId":"rec-2","modelInput":{"prompt":"p","params":{"maxTokens":512,"temperature":0.2,"topP":0.9}},"modelOutput":{"completion":"two","usage":{"inputTokens":12,"outputTokens":7}}}
`
	records, err := DecodeOutputs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].RecordID != "rec-1" || records[1].ModelOutput.Completion != "two" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestDecodeOutputsMalformedLineFailsWhole(t *testing.T) {
	input := `{"recordId":"rec-1","modelOutput":{"completion":"one","usage":{"inputTokens":10,"outputTokens":5}}}
{not json}
{"recordId":"rec-3","modelOutput":{"completion":"three","usage":{"inputTokens":10,"outputTokens":5}}}
`
	_, err := DecodeOutputs(strings.NewReader(input))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line 2 error, got %v", err)
	}
}

func TestDecodeOutputsSkipsBlankLines(t *testing.T) {
	input := "\n" + `{"recordId":"rec-1","modelOutput":{"completion":"one","usage":{"inputTokens":1,"outputTokens":1}}}` + "\n\n"
	records, err := DecodeOutputs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func TestDecodeRequestsInvalidRecord(t *testing.T) {
	input := `{"recordId":"","modelInput":{"prompt":"p","params":{"maxTokens":512,"temperature":0.2,"topP":0.9}}}` + "\n"
	_, err := DecodeRequests(strings.NewReader(input))
	if err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected line 1 validation error, got %v", err)
	}
}

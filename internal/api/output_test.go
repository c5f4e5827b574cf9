package api

import (
	"encoding/json"
	"strings"
	"testing"
)

type sampleStatus struct {
	DocumentID string `json:"document_id" yaml:"document_id"`
	Completed  int    `json:"completed" yaml:"completed"`
}

func TestOutputToYAML(t *testing.T) {
	var buf strings.Builder
	err := OutputTo(&buf, OutputFormatYAML, sampleStatus{DocumentID: "doc-1", Completed: 3})
	if err != nil {
		t.Fatalf("OutputTo() error = %v", err)
	}
	if !strings.Contains(buf.String(), "document_id: doc-1") {
		t.Errorf("yaml output = %q", buf.String())
	}
}

func TestOutputToJSON(t *testing.T) {
	var buf strings.Builder
	err := OutputTo(&buf, OutputFormatJSON, sampleStatus{DocumentID: "doc-1", Completed: 3})
	if err != nil {
		t.Fatalf("OutputTo() error = %v", err)
	}
	var got sampleStatus
	if err := json.Unmarshal([]byte(buf.String()), &got); err != nil {
		t.Fatalf("output is not valid json: %v", err)
	}
	if got.DocumentID != "doc-1" || got.Completed != 3 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestOutputToUnknownFormat(t *testing.T) {
	var buf strings.Builder
	if err := OutputTo(&buf, OutputFormat("csv"), sampleStatus{}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSetOutputFormatFallsBackToYAML(t *testing.T) {
	SetOutputFormat("toml")
	if outputFormat != OutputFormatYAML {
		t.Errorf("format = %s, want yaml", outputFormat)
	}
	SetOutputFormat("json")
	if outputFormat != OutputFormatJSON {
		t.Errorf("format = %s, want json", outputFormat)
	}
	SetOutputFormat("yaml")
}

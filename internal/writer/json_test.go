package writer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/caltechlibrary/documentarist/internal/document"
)

func TestJSONRendersFullRecord(t *testing.T) {
	rec := sampleRecord()

	var sb strings.Builder
	if err := (JSON{}).Render(&sb, rec); err != nil {
		t.Fatalf("Render: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal([]byte(sb.String()), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	input, ok := got["input"].(map[string]interface{})
	if !ok {
		t.Fatal("missing input object")
	}
	if input["id"] != "letter-001" || input["sha256"] != "abc123" {
		t.Errorf("input identity lost: %v", input)
	}
	if input["width"] != float64(400) || input["height"] != float64(300) {
		t.Errorf("input dimensions lost: %v", input)
	}

	if got["run_id"] != "run-1" {
		t.Errorf("run_id = %v", got["run_id"])
	}
	if got["outcome"] != "processed" {
		t.Errorf("outcome = %v, want processed", got["outcome"])
	}

	prov, ok := got["provenance"].([]interface{})
	if !ok || len(prov) != 3 {
		t.Fatalf("provenance = %v, want 3 entries", got["provenance"])
	}
	first := prov[0].(map[string]interface{})
	if first["stage"] != "crop" || first["status"] != "success" {
		t.Errorf("first provenance entry = %v", first)
	}

	payload, ok := got["payload"].(map[string]interface{})
	if !ok {
		t.Fatal("missing payload object")
	}
	text, ok := payload["text"].(map[string]interface{})
	if !ok {
		t.Fatal("missing text section")
	}
	if !strings.HasPrefix(text["full"].(string), "Research & Development") {
		t.Errorf("full text = %v", text["full"])
	}
}

func TestJSONOutcomePartial(t *testing.T) {
	rec := sampleRecord()
	rec.Provenance[1].Status = document.StatusFailed
	rec.Provenance[1].Reason = "recognition failed"

	var sb strings.Builder
	if err := (JSON{}).Render(&sb, rec); err != nil {
		t.Fatalf("Render: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal([]byte(sb.String()), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["outcome"] != "partial" {
		t.Errorf("outcome = %v, want partial", got["outcome"])
	}
}

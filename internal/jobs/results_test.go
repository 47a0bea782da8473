package jobs

import (
	"encoding/json"
	"testing"
)

func TestDecodeTests_CountsEmptySummary(t *testing.T) {
	data := json.RawMessage(`{
		"summary": {"total": 0, "passed": 0, "failed": 0, "skipped": 0},
		"tests": [
			{"codeunit": 50100, "method": "TestA", "result": "pass"},
			{"codeunit": 50100, "method": "TestB", "result": "fail"},
			{"codeunit": "50101", "method": "TestC", "result": "skip"},
			{"codeunit": 50101, "method": "TestD", "result": "pass"}
		]
	}`)

	res, err := decodeTests(data, nil)
	if err != nil {
		t.Fatalf("decodeTests() error = %v", err)
	}

	want := TestSummary{Total: 4, Passed: 2, Failed: 1, Skipped: 1}
	if res.Summary != want {
		t.Errorf("Summary = %+v, want %+v", res.Summary, want)
	}

	if res.Success {
		t.Error("Success = true with a failed record")
	}
}

func TestDecodeTests_KeepsReportedSummary(t *testing.T) {
	data := json.RawMessage(`{
		"summary": {"total": 10, "passed": 10, "failed": 0, "skipped": 0},
		"tests": [{"codeunit": 50100, "method": "TestA", "result": "pass"}]
	}`)

	res, err := decodeTests(data, nil)
	if err != nil {
		t.Fatalf("decodeTests() error = %v", err)
	}

	if res.Summary.Total != 10 || !res.Success {
		t.Errorf("result = %+v, want the reported summary", res)
	}
}

package protocol

import (
	"encoding/json"
	"testing"
)

func TestRequestMarshal(t *testing.T) {
	req := Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  MethodCompile,
		Params:  json.RawMessage(`{"source":"name: x"}`),
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Request
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Method != MethodCompile {
		t.Errorf("Method = %q, want %q", decoded.Method, MethodCompile)
	}
}

func TestResponseSuccess(t *testing.T) {
	resp := NewResponse(1, map[string]any{"data": "hello"})

	if resp.JSONRPC != "2.0" {
		t.Error("JSONRPC should be 2.0")
	}
	if resp.Error != nil {
		t.Error("Error should be nil for success response")
	}
	if resp.ID != 1 {
		t.Errorf("ID = %v, want 1", resp.ID)
	}
}

func TestResponseError(t *testing.T) {
	resp := NewErrorResponse(2, CodeMethodNotFound, "method not found", nil)

	if resp.Error == nil {
		t.Fatal("Error should not be nil")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
	if resp.Error.Error() != "method not found" {
		t.Errorf("Message = %q", resp.Error.Message)
	}
}

func TestCompileParamsEmbedding(t *testing.T) {
	raw := `{"document":{"name":"x"},"parameters":{"epochs":5},"deployment":"prod"}`

	var p CompileParams
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(p.Document) != `{"name":"x"}` {
		t.Errorf("Document = %s", p.Document)
	}
	if p.Deployment != "prod" {
		t.Errorf("Deployment = %q", p.Deployment)
	}
	if p.Parameters["epochs"] != float64(5) {
		t.Errorf("Parameters = %v", p.Parameters)
	}
}

func TestMethodConstants(t *testing.T) {
	methods := []string{
		MethodValidate, MethodCompile, MethodSchema,
		MethodHistoryList, MethodHistoryGet,
	}

	seen := make(map[string]bool)
	for _, m := range methods {
		if m == "" {
			t.Error("empty method constant")
		}
		if seen[m] {
			t.Errorf("duplicate method: %s", m)
		}
		seen[m] = true
	}
}

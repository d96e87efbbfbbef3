package responders

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSON_WritesStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, 201, map[string]string{"hello": "world"})

	if rec.Code != 201 {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["hello"] != "world" {
		t.Fatalf("body = %v, want hello=world", body)
	}
}

func TestJSON_NilPayloadWritesNoBody(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, 204, nil)

	if rec.Code != 204 {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("body = %q, want empty for a nil payload", rec.Body.String())
	}
}

func TestJSON_DoesNotEscapeHTML(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, 200, map[string]string{"url": "https://example.com/a&b"})

	if got := rec.Body.String(); !strings.Contains(got, "&b") {
		t.Fatalf("body = %q, want raw ampersand preserved (HTML escaping disabled)", got)
	}
}

package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSSEWriterFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	if err != nil {
		t.Fatalf("NewSSEWriter err: %v", err)
	}

	if err := sse.Event("notice", map[string]string{"title": "Error"}); err != nil {
		t.Fatalf("Event err: %v", err)
	}
	if err := sse.Data(map[string]int{"n": 1}); err != nil {
		t.Fatalf("Data err: %v", err)
	}
	if err := sse.Raw("[DONE]"); err != nil {
		t.Fatalf("Raw err: %v", err)
	}

	want := "event: notice\ndata: {\"title\":\"Error\"}\n\n" +
		"data: {\"n\":1}\n\n" +
		"data: [DONE]\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("unexpected body:\n%q\nwant\n%q", got, want)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusConflict, "busy")

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"error":"busy"}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestDecodeJSONRejectsGarbage(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))

	var dst struct{ Text string }
	if DecodeJSON(rec, req, &dst) {
		t.Fatal("expected decode failure")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

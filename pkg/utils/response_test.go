package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Question string `json:"question"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"question":"Q"}`))
	if err := DecodeJSON(req, &v); err != nil || v.Question != "Q" {
		t.Fatalf("decode: %v %+v", err, v)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSON(req, &v); err == nil || err.Error() != "request body is required" {
		t.Fatalf("expected empty body error, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	if err := DecodeJSON(req, &v); err == nil || !strings.HasPrefix(err.Error(), "invalid request body") {
		t.Fatalf("expected invalid body error, got %v", err)
	}
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusConflict, "busy")

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != `{"error":"busy"}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)
	SendSSEEvent(rec, rec, "state", map[string]bool{"loading": true})

	if got := rec.Body.String(); got != "event: state\ndata: {\"loading\":true}\n\n" {
		t.Fatalf("unexpected frame %q", got)
	}
	if !rec.Flushed {
		t.Fatal("event should be flushed")
	}
}

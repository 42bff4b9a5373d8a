package daemon

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"flowops/internal/logging"
)

func TestLoggingMiddlewareTagsRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithFormat(&buf, logging.Info, logging.FormatJSON)
	h := LoggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("X-Request-Id", "req-1")
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") != "req-1" {
		t.Fatalf("expected request id to be echoed, got %q", rec.Header().Get("X-Request-Id"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected health probe to stay below info, got %d lines: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"request_id":"req-1"`) || !strings.Contains(lines[0], `"status":200`) {
		t.Fatalf("unexpected first line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"warn"`) || !strings.Contains(lines[1], `"status":502`) {
		t.Fatalf("expected server error at warn, got %s", lines[1])
	}
}

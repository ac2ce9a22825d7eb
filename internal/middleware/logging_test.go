package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestLogging_BasicFields(t *testing.T) {
	var buf bytes.Buffer
	handler := Logging(captureLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshaling log line: %v", err)
	}
	if entry["method"] != "POST" {
		t.Errorf("method = %v", entry["method"])
	}
	if entry["path"] != "/api/v1/ingest" {
		t.Errorf("path = %v", entry["path"])
	}
	if entry["status"] != float64(http.StatusCreated) {
		t.Errorf("status = %v", entry["status"])
	}
	if entry["size"] == float64(0) {
		t.Error("size not captured")
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO for 2xx", entry["level"])
	}
}

func TestLogging_IdentityAndErrorCode(t *testing.T) {
	var buf bytes.Buffer
	handler := Logging(captureLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetIdentity(r.Context(), Identity{UserID: 7, Username: "ana", Role: "analyst"})
		ctx = SetErrorCode(ctx, "forbidden")
		UpdateResponseContext(w, ctx)
		w.WriteHeader(http.StatusForbidden)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshaling log line: %v", err)
	}
	if entry["user_id"] != float64(7) || entry["username"] != "ana" || entry["role"] != "analyst" {
		t.Errorf("identity missing from log: %v", entry)
	}
	if entry["error_code"] != "forbidden" {
		t.Errorf("error_code = %v", entry["error_code"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN for 4xx", entry["level"])
	}
}

func TestLogging_ServerErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := Logging(captureLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("5xx not logged at ERROR: %s", buf.String())
	}
}

func TestLogging_RequestIDIncluded(t *testing.T) {
	var buf bytes.Buffer
	inner := Logging(captureLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler := RequestID(inner)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"request_id":"req-abc-123"`) {
		t.Errorf("request id missing from log: %s", buf.String())
	}
}

func TestGetIdentity_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := GetIdentity(req.Context()); ok {
		t.Error("identity reported present on bare context")
	}
}

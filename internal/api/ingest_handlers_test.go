package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/trustpipe/trustpipe/internal/ingest"
	"github.com/trustpipe/trustpipe/internal/security"
	"github.com/trustpipe/trustpipe/internal/source"
)

func TestIngestEndpoint_Accepted(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedSource(t, "erp-main")

	result := env.submit(t, key, ingestBody("erp-main", "evt-001"))

	if result.Status != ingest.StatusAccepted {
		t.Errorf("expected status %s, got %s", ingest.StatusAccepted, result.Status)
	}
	if result.TrustedID == 0 {
		t.Error("expected a trusted id on acceptance")
	}
	if result.RequestID == "" {
		t.Error("expected a request id")
	}

	raw, ok := env.store.GetRaw(result.RawID)
	if !ok {
		t.Fatalf("raw row %d missing", result.RawID)
	}
	if raw.ClientIP != "203.0.113.7" {
		t.Errorf("expected client ip 203.0.113.7, got %s", raw.ClientIP)
	}
}

func TestIngestEndpoint_RejectedOnBusinessRules(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedSource(t, "erp-main")

	body := ingestBody("erp-main", "evt-002")
	body["event_type"] = "REFUND"

	result := env.submit(t, key, body)

	if result.Status != ingest.StatusRejected {
		t.Errorf("expected status %s, got %s", ingest.StatusRejected, result.Status)
	}
	if result.ErrorCount != 1 {
		t.Errorf("expected 1 violation, got %d", result.ErrorCount)
	}
	if result.TrustedID != 0 {
		t.Errorf("expected no trusted id, got %d", result.TrustedID)
	}
}

func TestIngestEndpoint_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedSource(t, "erp-main")

	first := env.submit(t, key, ingestBody("erp-main", "evt-003"))
	second := env.submit(t, key, ingestBody("erp-main", "evt-003"))

	if first.Status != ingest.StatusAccepted {
		t.Fatalf("expected first submission %s, got %s", ingest.StatusAccepted, first.Status)
	}
	if second.Status != ingest.StatusDuplicate {
		t.Errorf("expected second submission %s, got %s", ingest.StatusDuplicate, second.Status)
	}
	if second.RequestID == first.RequestID {
		t.Error("expected distinct request ids per attempt")
	}
}

func TestIngestEndpoint_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/ingest", "not-an-object", nil)

	assertErrorResponse(t, w, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestIngestEndpoint_MissingFields(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedSource(t, "erp-main")

	body := ingestBody("erp-main", "evt-004")
	delete(body, "entity_id")

	w := env.do(t, http.MethodPost, "/api/v1/ingest", body, map[string]string{APIKeyHeader: key})

	assertErrorResponse(t, w, http.StatusBadRequest, ErrCodeValidation)
	if env.store.RawCount() != 0 {
		t.Errorf("expected no raw rows for a malformed submission, got %d", env.store.RawCount())
	}
}

func TestIngestEndpoint_MissingAPIKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedSource(t, "erp-main")

	w := env.do(t, http.MethodPost, "/api/v1/ingest", ingestBody("erp-main", "evt-005"), nil)

	assertErrorResponse(t, w, http.StatusUnauthorized, ErrCodeAuthFailed)
	if env.store.RawCount() != 0 {
		t.Errorf("expected no raw rows for a denied submission, got %d", env.store.RawCount())
	}

	total, events, err := env.secRepo.List(context.Background(), security.Filter{})
	if err != nil {
		t.Fatalf("failed to list security events: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 security event, got %d", total)
	}
	if events[0].EventType != security.EventAuthFailed {
		t.Errorf("expected event type %s, got %s", security.EventAuthFailed, events[0].EventType)
	}
	if events[0].Severity != security.SeverityHigh {
		t.Errorf("expected severity %s, got %s", security.SeverityHigh, events[0].Severity)
	}
}

func TestIngestEndpoint_WrongAPIKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedSource(t, "erp-main")

	w := env.do(t, http.MethodPost, "/api/v1/ingest", ingestBody("erp-main", "evt-006"),
		map[string]string{APIKeyHeader: "tp_wrong_key"})

	assertErrorResponse(t, w, http.StatusUnauthorized, ErrCodeAuthFailed)
}

// An unknown source name is denied outright. The registry must not grow
// from unauthenticated traffic: no source row is created, no raw row is
// written, and the denial is logged without a source id.
func TestIngestEndpoint_UnknownSourceDeniedWithoutRegistration(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/ingest", ingestBody("brand-new", "evt-007"),
		map[string]string{APIKeyHeader: "tp_some_key"})

	assertErrorResponse(t, w, http.StatusUnauthorized, ErrCodeAuthFailed)

	if _, err := env.sources.Resolve(context.Background(), "brand-new"); !errors.Is(err, source.ErrSourceNotFound) {
		t.Fatalf("expected unknown source to stay unregistered, got %v", err)
	}
	if env.store.RawCount() != 0 {
		t.Errorf("expected no raw rows for a denied submission, got %d", env.store.RawCount())
	}

	total, events, err := env.secRepo.List(context.Background(), security.Filter{})
	if err != nil {
		t.Fatalf("failed to list security events: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 security event, got %d", total)
	}
	if events[0].SourceID != nil {
		t.Errorf("expected no source id on an unknown-source denial, got %d", *events[0].SourceID)
	}
}

func TestIngestEndpoint_InactiveSourceDenied(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedSource(t, "erp-main")
	env.sources.SetStatus("erp-main", source.StatusInactive)

	w := env.do(t, http.MethodPost, "/api/v1/ingest", ingestBody("erp-main", "evt-008"),
		map[string]string{APIKeyHeader: key})

	assertErrorResponse(t, w, http.StatusUnauthorized, ErrCodeAuthFailed)
}

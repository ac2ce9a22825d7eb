package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/trustpipe/trustpipe/internal/ingest"
	"github.com/trustpipe/trustpipe/internal/user"
)

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedSource(t, "erp-main")

	env.submit(t, key, ingestBody("erp-main", "evt-001"))
	env.submit(t, key, ingestBody("erp-main", "evt-001")) // duplicate
	bad := ingestBody("erp-main", "evt-002")
	bad["event_type"] = "REFUND"
	env.submit(t, key, bad)

	token := env.tokenFor(t, env.seedUser(t, "carol", user.RoleOperator, "pw"))
	w := env.do(t, http.MethodGet, "/api/v1/stats", nil,
		map[string]string{"Authorization": "Bearer " + token})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var summary ingest.StatsSummary
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if summary.TotalRaw != 3 {
		t.Errorf("expected 3 raw rows, got %d", summary.TotalRaw)
	}
	if summary.TotalTrusted != 1 {
		t.Errorf("expected 1 trusted event, got %d", summary.TotalTrusted)
	}
	if summary.TotalRejected != 1 {
		t.Errorf("expected 1 rejection, got %d", summary.TotalRejected)
	}
	if summary.TotalDuplicate != 1 {
		t.Errorf("expected 1 duplicate, got %d", summary.TotalDuplicate)
	}
	if len(summary.TopCategories) != 1 || summary.TopCategories[0].Category != "BUSINESS" {
		t.Errorf("expected top category BUSINESS, got %+v", summary.TopCategories)
	}
}

func TestStatsEndpoint_EmptyPipeline(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, env.seedUser(t, "carol", user.RoleOperator, "pw"))

	w := env.do(t, http.MethodGet, "/api/v1/stats", nil,
		map[string]string{"Authorization": "Bearer " + token})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var summary ingest.StatsSummary
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if summary.RejectionRate != 0 {
		t.Errorf("expected rejection rate 0, got %f", summary.RejectionRate)
	}
	if summary.TopCategories == nil {
		t.Error("expected top_rejection_categories to be an empty array, not null")
	}
}

// The response keys are a published contract; decode into a plain map so a
// renamed struct tag cannot slip through.
func TestStatsEndpoint_ResponseKeys(t *testing.T) {
	env := newTestEnv(t)
	key := env.seedSource(t, "erp-main")

	env.submit(t, key, ingestBody("erp-main", "evt-001"))
	env.submit(t, key, ingestBody("erp-main", "evt-001")) // duplicate

	token := env.tokenFor(t, env.seedUser(t, "carol", user.RoleOperator, "pw"))
	w := env.do(t, http.MethodGet, "/api/v1/stats", nil,
		map[string]string{"Authorization": "Bearer " + token})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	for _, field := range []string{
		"total_raw", "total_trusted", "total_rejected",
		"rejection_rate", "duplicates", "top_rejection_categories",
	} {
		if _, ok := body[field]; !ok {
			t.Errorf("missing response field %q", field)
		}
	}
	var dups int64
	if err := json.Unmarshal(body["duplicates"], &dups); err != nil || dups != 1 {
		t.Errorf("duplicates = %s (err %v), want 1", body["duplicates"], err)
	}
}

func TestStatsEndpoint_TopNValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, env.seedUser(t, "carol", user.RoleOperator, "pw"))

	for _, raw := range []string{"0", "21", "abc"} {
		w := env.do(t, http.MethodGet, "/api/v1/stats?top_n="+raw, nil,
			map[string]string{"Authorization": "Bearer " + token})
		if w.Code != http.StatusBadRequest {
			t.Errorf("top_n=%s: expected 400, got %d", raw, w.Code)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/stats?top_n=10", nil,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Errorf("top_n=10: expected 200, got %d", w.Code)
	}
}

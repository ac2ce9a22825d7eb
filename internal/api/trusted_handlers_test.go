package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/trustpipe/trustpipe/internal/audit"
	"github.com/trustpipe/trustpipe/internal/security"
	"github.com/trustpipe/trustpipe/internal/trusted"
	"github.com/trustpipe/trustpipe/internal/user"
)

// seedTrusted pushes n accepted events through the real pipeline.
func seedTrusted(t *testing.T, env *testEnv, sourceName string, n int) {
	t.Helper()
	key := env.seedSource(t, sourceName)
	for i := 0; i < n; i++ {
		result := env.submit(t, key, ingestBody(sourceName, fmt.Sprintf("evt-%03d", i)))
		if result.TrustedID == 0 {
			t.Fatalf("seed submission %d was not accepted: %+v", i, result)
		}
	}
}

func TestTrustedList(t *testing.T) {
	env := newTestEnv(t)
	seedTrusted(t, env, "erp-main", 3)
	token := env.tokenFor(t, env.seedUser(t, "carol", user.RoleOperator, "pw"))

	w := env.do(t, http.MethodGet, "/api/v1/trusted", nil,
		map[string]string{"Authorization": "Bearer " + token})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	page := decodePage(t, w)
	if page.Total != 3 {
		t.Errorf("expected total 3, got %d", page.Total)
	}
	if page.Page != 1 || page.PageSize != DefaultPageSize {
		t.Errorf("expected default pagination 1/%d, got %d/%d", DefaultPageSize, page.Page, page.PageSize)
	}
	var events []*trusted.Event
	if err := json.Unmarshal(page.Items, &events); err != nil {
		t.Fatalf("failed to decode items: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 items, got %d", len(events))
	}
	// Newest first
	if events[0].ID < events[1].ID {
		t.Errorf("expected newest-first ordering, got ids %d, %d", events[0].ID, events[1].ID)
	}
}

func TestTrustedList_Pagination(t *testing.T) {
	env := newTestEnv(t)
	seedTrusted(t, env, "erp-main", 5)
	token := env.tokenFor(t, env.seedUser(t, "carol", user.RoleOperator, "pw"))

	w := env.do(t, http.MethodGet, "/api/v1/trusted?page=2&page_size=2", nil,
		map[string]string{"Authorization": "Bearer " + token})

	page := decodePage(t, w)
	if page.Total != 5 {
		t.Errorf("expected total 5, got %d", page.Total)
	}
	var events []*trusted.Event
	if err := json.Unmarshal(page.Items, &events); err != nil {
		t.Fatalf("failed to decode items: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 items on page 2, got %d", len(events))
	}
}

func TestTrustedList_InvalidPagination(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, env.seedUser(t, "carol", user.RoleOperator, "pw"))

	w := env.do(t, http.MethodGet, "/api/v1/trusted?page=0", nil,
		map[string]string{"Authorization": "Bearer " + token})

	assertErrorResponse(t, w, http.StatusBadRequest, ErrCodeValidation)
}

func TestTrustedList_UnknownSourceYieldsEmptyPage(t *testing.T) {
	env := newTestEnv(t)
	seedTrusted(t, env, "erp-main", 2)
	token := env.tokenFor(t, env.seedUser(t, "carol", user.RoleOperator, "pw"))

	w := env.do(t, http.MethodGet, "/api/v1/trusted?source=never-seen", nil,
		map[string]string{"Authorization": "Bearer " + token})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	page := decodePage(t, w)
	if page.Total != 0 {
		t.Errorf("expected total 0 for unknown source, got %d", page.Total)
	}
	if string(page.Items) != "[]" {
		t.Errorf("expected empty items array, got %s", page.Items)
	}
}

func TestTrustedList_FilterByExternalID(t *testing.T) {
	env := newTestEnv(t)
	seedTrusted(t, env, "erp-main", 3)
	token := env.tokenFor(t, env.seedUser(t, "carol", user.RoleOperator, "pw"))

	w := env.do(t, http.MethodGet, "/api/v1/trusted?external_id=evt-001", nil,
		map[string]string{"Authorization": "Bearer " + token})

	page := decodePage(t, w)
	if page.Total != 1 {
		t.Errorf("expected total 1, got %d", page.Total)
	}
}

func TestTrustedPatch(t *testing.T) {
	env := newTestEnv(t)
	seedTrusted(t, env, "erp-main", 1)
	admin := env.seedUser(t, "alice", user.RoleAdmin, "pw")
	token := env.tokenFor(t, admin)

	newStatus := "DONE"
	w := env.do(t, http.MethodPatch, "/api/v1/trusted/1", trusted.PatchInput{
		Reason:      "manual reconciliation after carrier outage",
		EventStatus: &newStatus,
	}, map[string]string{"Authorization": "Bearer " + token})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp PatchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode patch response: %v", err)
	}
	if resp.Status != "updated" || resp.ID != 1 {
		t.Errorf("expected {updated, 1}, got {%s, %d}", resp.Status, resp.ID)
	}

	ev, err := env.trustedRepo.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("failed to reload event: %v", err)
	}
	if ev.EventStatus != "DONE" {
		t.Errorf("expected event status DONE, got %s", ev.EventStatus)
	}

	total, entries, err := env.auditRepo.List(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 audit entry, got %d", total)
	}
	entry := entries[0]
	if entry.TrustedEventID != 1 {
		t.Errorf("expected audit entry for event 1, got %d", entry.TrustedEventID)
	}
	if entry.UserID == nil || *entry.UserID != admin.ID {
		t.Errorf("expected audit entry by user %d, got %v", admin.ID, entry.UserID)
	}
	if entry.Before.EventStatus != "NEW" || entry.After.EventStatus != "DONE" {
		t.Errorf("expected before NEW / after DONE, got %s / %s",
			entry.Before.EventStatus, entry.After.EventStatus)
	}
}

func TestTrustedPatch_NotFound(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, env.seedUser(t, "alice", user.RoleAdmin, "pw"))

	w := env.do(t, http.MethodPatch, "/api/v1/trusted/999", trusted.PatchInput{
		Reason: "fix typo",
	}, map[string]string{"Authorization": "Bearer " + token})

	assertErrorResponse(t, w, http.StatusNotFound, ErrCodeTrustedNotFound)
}

func TestTrustedPatch_EmptyReason(t *testing.T) {
	env := newTestEnv(t)
	seedTrusted(t, env, "erp-main", 1)
	token := env.tokenFor(t, env.seedUser(t, "alice", user.RoleAdmin, "pw"))

	newStatus := "DONE"
	w := env.do(t, http.MethodPatch, "/api/v1/trusted/1", trusted.PatchInput{
		Reason:      "   ",
		EventStatus: &newStatus,
	}, map[string]string{"Authorization": "Bearer " + token})

	assertErrorResponse(t, w, http.StatusBadRequest, ErrCodeReasonRequired)

	ev, err := env.trustedRepo.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("failed to reload event: %v", err)
	}
	if ev.EventStatus != "NEW" {
		t.Errorf("expected event untouched, got status %s", ev.EventStatus)
	}
}

func TestTrustedPatch_BadID(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, env.seedUser(t, "alice", user.RoleAdmin, "pw"))

	w := env.do(t, http.MethodPatch, "/api/v1/trusted/abc", trusted.PatchInput{
		Reason: "fix",
	}, map[string]string{"Authorization": "Bearer " + token})

	assertErrorResponse(t, w, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestTrustedPatch_NonAdminDenied(t *testing.T) {
	env := newTestEnv(t)
	seedTrusted(t, env, "erp-main", 1)
	analyst := env.seedUser(t, "bob", user.RoleAnalyst, "pw")
	token := env.tokenFor(t, analyst)

	w := env.do(t, http.MethodPatch, "/api/v1/trusted/1", trusted.PatchInput{
		Reason: "should not be allowed",
	}, map[string]string{"Authorization": "Bearer " + token})

	assertErrorResponse(t, w, http.StatusForbidden, ErrCodeForbidden)

	total, events, err := env.secRepo.List(context.Background(), security.Filter{
		EventType: security.EventAccessDenied,
	})
	if err != nil {
		t.Fatalf("failed to list security events: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 ACCESS_DENIED event, got %d", total)
	}
	ev := events[0]
	if ev.Severity != security.SeverityMedium {
		t.Errorf("expected severity %s, got %s", security.SeverityMedium, ev.Severity)
	}
	if ev.UserID == nil || *ev.UserID != analyst.ID {
		t.Errorf("expected event attributed to user %d, got %v", analyst.ID, ev.UserID)
	}
}

package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trustpipe/trustpipe/internal/audit"
	"github.com/trustpipe/trustpipe/internal/source"
	"github.com/trustpipe/trustpipe/internal/trusted"
	"github.com/trustpipe/trustpipe/internal/validator"
)

func newTestPipeline(t *testing.T) (*Pipeline, *InMemoryStore, *trusted.InMemoryRepository) {
	t.Helper()
	trustedRepo := trusted.NewInMemoryRepository(audit.NewInMemoryRepository())
	store := NewInMemoryStore(trustedRepo)
	p := NewPipeline(source.NewInMemoryRegistry(), store, nil, nil)
	return p, store, trustedRepo
}

func validRequest() *Request {
	return &Request{
		Source:         "shop-eu",
		ExternalID:     "ord-1001",
		EntityID:       "order-77",
		EventType:      "ORDER",
		EventStatus:    "NEW",
		EventTimestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Attributes:     map[string]any{"amount": 41.50, "currency": "EUR"},
	}
}

func TestIngest_Accepted(t *testing.T) {
	p, store, trustedRepo := newTestPipeline(t)

	req := validRequest()
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	res, err := p.Ingest(context.Background(), req, Meta{ClientIP: "10.0.0.9", UserAgent: "cli/1.0"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != StatusAccepted {
		t.Fatalf("status = %q, want %q", res.Status, StatusAccepted)
	}
	if res.TrustedID == 0 || res.RawID == 0 || res.RequestID == "" {
		t.Fatalf("incomplete result: %+v", res)
	}

	raw, ok := store.GetRaw(res.RawID)
	if !ok {
		t.Fatal("raw row missing")
	}
	if raw.ProcessingStatus != StatusAccepted {
		t.Errorf("raw status = %q, want %q", raw.ProcessingStatus, StatusAccepted)
	}
	if raw.ErrorCount != 0 {
		t.Errorf("error count = %d, want 0", raw.ErrorCount)
	}
	if raw.ClientIP != "10.0.0.9" || raw.UserAgent != "cli/1.0" {
		t.Errorf("request meta not recorded: %+v", raw)
	}
	if raw.SchemaVersion != DefaultSchemaVersion {
		t.Errorf("schema version = %q, want default", raw.SchemaVersion)
	}
	if raw.PayloadHash == "" || len(raw.PayloadHash) != 64 {
		t.Errorf("payload hash = %q", raw.PayloadHash)
	}

	ev, err := trustedRepo.GetByID(context.Background(), res.TrustedID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if ev.RawIngestionID != res.RawID {
		t.Errorf("trusted event links raw %d, want %d", ev.RawIngestionID, res.RawID)
	}
	if ev.EventType != "ORDER" || ev.EventStatus != "NEW" || ev.EntityID != "order-77" {
		t.Errorf("trusted event fields: %+v", ev)
	}
}

func TestIngest_RejectedRecordsViolations(t *testing.T) {
	p, store, trustedRepo := newTestPipeline(t)

	req := validRequest()
	req.EventType = "REFUND"
	req.EventStatus = "LOST"
	req.Validate()

	res, err := p.Ingest(context.Background(), req, Meta{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != StatusRejected {
		t.Fatalf("status = %q, want %q", res.Status, StatusRejected)
	}
	if res.ErrorCount != 2 {
		t.Errorf("error count = %d, want 2", res.ErrorCount)
	}
	if res.TrustedID != 0 {
		t.Errorf("trusted id = %d, want 0", res.TrustedID)
	}

	raw, _ := store.GetRaw(res.RawID)
	if raw.ProcessingStatus != StatusRejected || raw.ErrorCount != 2 {
		t.Errorf("raw row = %+v", raw)
	}

	total, rejections, err := store.ListRejections(context.Background(), RejectionFilter{})
	if err != nil {
		t.Fatalf("ListRejections: %v", err)
	}
	if total != 2 {
		t.Fatalf("rejection total = %d, want 2", total)
	}
	for _, rej := range rejections {
		if rej.RawIngestionID != res.RawID {
			t.Errorf("rejection links raw %d, want %d", rej.RawIngestionID, res.RawID)
		}
		if rej.Category != validator.CategoryBusiness || rej.Severity != validator.SeverityHigh {
			t.Errorf("rejection = %+v", rej)
		}
	}

	if n, _, _ := trustedRepo.List(context.Background(), trusted.Filter{}); n != 0 {
		t.Errorf("trusted events = %d, want 0", n)
	}
}

func TestIngest_DuplicateKeepsFirstPayload(t *testing.T) {
	p, store, trustedRepo := newTestPipeline(t)

	first := validRequest()
	first.Validate()
	res1, err := p.Ingest(context.Background(), first, Meta{})
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	second := validRequest()
	second.EventStatus = "DONE" // changed content, same pair
	second.Validate()
	res2, err := p.Ingest(context.Background(), second, Meta{})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if res2.Status != StatusDuplicate {
		t.Fatalf("status = %q, want %q", res2.Status, StatusDuplicate)
	}
	if res2.RequestID == res1.RequestID {
		t.Error("request ids must be unique per attempt")
	}
	if store.RawCount() != 2 {
		t.Errorf("raw rows = %d, want 2 (every attempt recorded)", store.RawCount())
	}

	ev, err := trustedRepo.GetByID(context.Background(), res1.TrustedID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if ev.EventStatus != "NEW" {
		t.Errorf("trusted status = %q, first write must win", ev.EventStatus)
	}
}

func TestIngest_AcceptFailureLeavesNoPartialState(t *testing.T) {
	p, store, trustedRepo := newTestPipeline(t)

	boom := errors.New("commit failed")
	store.SetAcceptHook(func() error { return boom })

	req := validRequest()
	req.Validate()
	_, err := p.Ingest(context.Background(), req, Meta{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want injected failure", err)
	}

	if n, _, _ := trustedRepo.List(context.Background(), trusted.Filter{}); n != 0 {
		t.Errorf("trusted events = %d, want 0 after aborted finalize", n)
	}
	if store.RawCount() != 1 {
		t.Fatalf("raw rows = %d, want 1 (receipt survives)", store.RawCount())
	}
	raw, _ := store.GetRaw(1)
	if raw.ProcessingStatus != StatusRejected {
		t.Errorf("raw status = %q, want pessimistic %q", raw.ProcessingStatus, StatusRejected)
	}
}

// gateStore holds every FindLatestRaw call until two callers have
// arrived, so both submissions pass the dedup precheck before either
// reaches the trusted store.
type gateStore struct {
	*InMemoryStore
	gate *sync.WaitGroup
}

func (s *gateStore) FindLatestRaw(ctx context.Context, sourceID int64, externalID string) (*RawIngestion, error) {
	s.gate.Done()
	s.gate.Wait()
	return s.InMemoryStore.FindLatestRaw(ctx, sourceID, externalID)
}

func TestIngest_ConcurrentSamePair(t *testing.T) {
	trustedRepo := trusted.NewInMemoryRepository(audit.NewInMemoryRepository())
	inner := NewInMemoryStore(trustedRepo)
	var gate sync.WaitGroup
	gate.Add(2)
	store := &gateStore{InMemoryStore: inner, gate: &gate}
	p := NewPipeline(source.NewInMemoryRegistry(), store, nil, nil)

	results := make([]*Result, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validRequest()
			req.Validate()
			results[i], errs[i] = p.Ingest(context.Background(), req, Meta{})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}
	statuses := map[string]int{}
	for _, res := range results {
		statuses[res.Status]++
	}
	if statuses[StatusAccepted] != 1 || statuses[StatusDuplicate] != 1 {
		t.Fatalf("statuses = %v, want exactly one ACCEPTED and one DUPLICATE", statuses)
	}
	if n, _, _ := trustedRepo.List(context.Background(), trusted.Filter{}); n != 1 {
		t.Errorf("trusted events = %d, want 1", n)
	}
	if inner.RawCount() != 2 {
		t.Errorf("raw rows = %d, want 2", inner.RawCount())
	}
}

func TestCanonicalPayload_Deterministic(t *testing.T) {
	a := validRequest()
	b := validRequest()

	ca, err := CanonicalPayload(a)
	if err != nil {
		t.Fatalf("CanonicalPayload: %v", err)
	}
	cb, err := CanonicalPayload(b)
	if err != nil {
		t.Fatalf("CanonicalPayload: %v", err)
	}
	if PayloadHash(ca) != PayloadHash(cb) {
		t.Error("identical content must hash identically")
	}

	b.Attributes["currency"] = "USD"
	cb2, _ := CanonicalPayload(b)
	if PayloadHash(ca) == PayloadHash(cb2) {
		t.Error("different content must hash differently")
	}
}

func TestRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Request)
		wantErr string
	}{
		{"valid", func(r *Request) {}, ""},
		{"missing source", func(r *Request) { r.Source = " " }, "source"},
		{"missing external id", func(r *Request) { r.ExternalID = "" }, "external_id"},
		{"external id too long", func(r *Request) { r.ExternalID = strings.Repeat("x", 121) }, "external_id"},
		{"missing entity id", func(r *Request) { r.EntityID = "" }, "entity_id"},
		{"event type too long", func(r *Request) { r.EventType = strings.Repeat("t", 51) }, "event_type"},
		{"missing status", func(r *Request) { r.EventStatus = "" }, "event_status"},
		{"zero timestamp", func(r *Request) { r.EventTimestamp = time.Time{} }, "event_timestamp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req)
			err := req.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				if req.SchemaVersion != DefaultSchemaVersion {
					t.Errorf("schema version not defaulted: %q", req.SchemaVersion)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestStats(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	ok := validRequest()
	ok.Validate()
	if _, err := p.Ingest(ctx, ok, Meta{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	dup := validRequest()
	dup.Validate()
	if _, err := p.Ingest(ctx, dup, Meta{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	bad := validRequest()
	bad.ExternalID = "ord-2002"
	bad.EventType = "REFUND"
	bad.Validate()
	if _, err := p.Ingest(ctx, bad, Meta{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	summary, err := store.Stats(ctx, StatsFilter{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if summary.TotalRaw != 3 {
		t.Errorf("total raw = %d, want 3", summary.TotalRaw)
	}
	if summary.TotalTrusted != 1 {
		t.Errorf("total trusted = %d, want 1", summary.TotalTrusted)
	}
	if summary.TotalRejected != 1 {
		t.Errorf("total rejected = %d, want 1", summary.TotalRejected)
	}
	if summary.TotalDuplicate != 1 {
		t.Errorf("total duplicate = %d, want 1", summary.TotalDuplicate)
	}
	if summary.RejectionRate <= 0 {
		t.Errorf("rejection rate = %f", summary.RejectionRate)
	}
	if len(summary.TopCategories) != 1 || summary.TopCategories[0].Category != validator.CategoryBusiness {
		t.Errorf("top categories = %+v", summary.TopCategories)
	}
}

// The date window bounds every counter, the trusted count included.
func TestStats_DateWindowBoundsAllCounters(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	ctx := context.Background()

	req := validRequest()
	req.Validate()
	if _, err := p.Ingest(ctx, req, Meta{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	future := time.Now().UTC().Add(time.Hour)
	summary, err := store.Stats(ctx, StatsFilter{DateFrom: &future})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if summary.TotalRaw != 0 || summary.TotalTrusted != 0 || summary.TotalDuplicate != 0 {
		t.Errorf("counters outside the window: %+v", summary)
	}

	past := time.Now().UTC().Add(-time.Hour)
	summary, err = store.Stats(ctx, StatsFilter{DateFrom: &past})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if summary.TotalRaw != 1 || summary.TotalTrusted != 1 {
		t.Errorf("counters inside the window: %+v", summary)
	}
}

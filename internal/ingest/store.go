package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/trustpipe/trustpipe/internal/trusted"
)

// Store persists raw ingestions and finalizes their outcomes. Finalize
// methods are atomic: either every write inside them lands or none do.
type Store interface {
	// FindLatestRaw returns the most recent raw ingestion for the
	// (source, external id) pair, or nil when none exists.
	FindLatestRaw(ctx context.Context, sourceID int64, externalID string) (*RawIngestion, error)

	// InsertRaw durably records a submission attempt. The row is written
	// in its own transaction before any validation runs, so receipt of
	// the payload survives every later failure.
	InsertRaw(ctx context.Context, raw *RawIngestion) error

	// FinalizeRejected stores the rule violations and stamps the error
	// count on the raw row in a single transaction.
	FinalizeRejected(ctx context.Context, rawID int64, rejections []*Rejection) error

	// FinalizeAccepted inserts the trusted event and promotes the raw
	// row to ACCEPTED in a single transaction. Returns
	// trusted.ErrDuplicatePair when a concurrent submission won the
	// uniqueness race.
	FinalizeAccepted(ctx context.Context, rawID int64, ev *trusted.Event) error

	// MarkDuplicate flips the raw row to DUPLICATE with a zero error
	// count. Used when the trusted uniqueness constraint fires after
	// the dedup precheck passed.
	MarkDuplicate(ctx context.Context, rawID int64) error
}

// RejectionFilter narrows rejection listings. Zero values match all.
type RejectionFilter struct {
	Category string
	Severity string
	DateFrom *time.Time
	DateTo   *time.Time
	Page     int
	PageSize int
}

// RejectionRepository exposes the read side of the rejection store.
type RejectionRepository interface {
	ListRejections(ctx context.Context, f RejectionFilter) (int64, []*Rejection, error)
}

// StatsFilter narrows pipeline statistics.
type StatsFilter struct {
	SourceID *int64
	DateFrom *time.Time
	DateTo   *time.Time
	TopN     int
}

// CategoryCount is one entry of a rejection category breakdown.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// StatsSummary aggregates pipeline throughput and quality. The field
// names are the wire contract of the stats endpoint.
type StatsSummary struct {
	TotalRaw       int64           `json:"total_raw"`
	TotalTrusted   int64           `json:"total_trusted"`
	TotalRejected  int64           `json:"total_rejected"`
	RejectionRate  float64         `json:"rejection_rate"`
	TotalDuplicate int64           `json:"duplicates"`
	TopCategories  []CategoryCount `json:"top_rejection_categories"`
}

// StatsRepository computes pipeline statistics.
type StatsRepository interface {
	Stats(ctx context.Context, f StatsFilter) (*StatsSummary, error)
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
	defaultTopN     = 5
)

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// InMemoryStore is the in-memory Store used by tests and local runs.
// Trusted uniqueness is delegated to the shared trusted repository so
// both stores enforce the same pair constraint.
type InMemoryStore struct {
	mu         sync.RWMutex
	raws       map[int64]*RawIngestion
	order      []int64
	rejections []*Rejection
	nextRawID  int64
	nextRejID  int64

	trustedRepo *trusted.InMemoryRepository
	acceptHook  func() error
}

func NewInMemoryStore(trustedRepo *trusted.InMemoryRepository) *InMemoryStore {
	return &InMemoryStore{
		raws:        make(map[int64]*RawIngestion),
		nextRawID:   1,
		nextRejID:   1,
		trustedRepo: trustedRepo,
	}
}

// SetAcceptHook installs a hook that runs at the start of
// FinalizeAccepted, inside the transaction scope. An error aborts the
// finalize with nothing applied. Tests use it to emulate commit
// failures.
func (s *InMemoryStore) SetAcceptHook(hook func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acceptHook = hook
}

func (s *InMemoryStore) FindLatestRaw(ctx context.Context, sourceID int64, externalID string) (*RawIngestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		raw := s.raws[s.order[i]]
		if raw.SourceID == sourceID && raw.ExternalID == externalID {
			cp := *raw
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) InsertRaw(ctx context.Context, raw *RawIngestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw.ID = s.nextRawID
	s.nextRawID++
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = time.Now().UTC()
	}
	cp := *raw
	s.raws[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return nil
}

func (s *InMemoryStore) FinalizeRejected(ctx context.Context, rawID int64, rejections []*Rejection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.raws[rawID]
	if !ok {
		return ErrRawNotFound
	}
	now := time.Now().UTC()
	for _, rej := range rejections {
		rej.ID = s.nextRejID
		s.nextRejID++
		rej.RawIngestionID = rawID
		rej.CreatedAt = now
		cp := *rej
		s.rejections = append(s.rejections, &cp)
	}
	raw.ProcessingStatus = StatusRejected
	raw.ErrorCount = len(rejections)
	return nil
}

func (s *InMemoryStore) FinalizeAccepted(ctx context.Context, rawID int64, ev *trusted.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.raws[rawID]
	if !ok {
		return ErrRawNotFound
	}
	if s.acceptHook != nil {
		if err := s.acceptHook(); err != nil {
			return err
		}
	}
	if err := s.trustedRepo.Insert(ctx, ev); err != nil {
		return err
	}
	raw.ProcessingStatus = StatusAccepted
	raw.ErrorCount = 0
	return nil
}

func (s *InMemoryStore) MarkDuplicate(ctx context.Context, rawID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.raws[rawID]
	if !ok {
		return ErrRawNotFound
	}
	raw.ProcessingStatus = StatusDuplicate
	raw.ErrorCount = 0
	return nil
}

// GetRaw returns a copy of a raw ingestion row. Test helper.
func (s *InMemoryStore) GetRaw(id int64) (*RawIngestion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.raws[id]
	if !ok {
		return nil, false
	}
	cp := *raw
	return &cp, true
}

// RawCount returns the number of raw rows. Test helper.
func (s *InMemoryStore) RawCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.raws)
}

func (s *InMemoryStore) ListRejections(ctx context.Context, f RejectionFilter) (int64, []*Rejection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Rejection
	for i := len(s.rejections) - 1; i >= 0; i-- {
		rej := s.rejections[i]
		if f.Category != "" && rej.Category != f.Category {
			continue
		}
		if f.Severity != "" && rej.Severity != f.Severity {
			continue
		}
		if f.DateFrom != nil && rej.CreatedAt.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && rej.CreatedAt.After(*f.DateTo) {
			continue
		}
		matched = append(matched, rej)
	}

	total := int64(len(matched))
	page, size := clampPage(f.Page, f.PageSize)
	start := (page - 1) * size
	if start >= len(matched) {
		return total, nil, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*Rejection, 0, end-start)
	for _, rej := range matched[start:end] {
		cp := *rej
		out = append(out, &cp)
	}
	return total, out, nil
}

func (s *InMemoryStore) Stats(ctx context.Context, f StatsFilter) (*StatsSummary, error) {
	s.mu.RLock()
	rawsInWindow := make(map[int64]*RawIngestion)
	var totalRaw, totalTrusted, totalDup int64
	for _, raw := range s.raws {
		if f.SourceID != nil && raw.SourceID != *f.SourceID {
			continue
		}
		if f.DateFrom != nil && raw.ReceivedAt.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && raw.ReceivedAt.After(*f.DateTo) {
			continue
		}
		rawsInWindow[raw.ID] = raw
		totalRaw++
		// Trusted events map 1:1 onto ACCEPTED raws, so the window
		// applies to both counters the same way.
		switch raw.ProcessingStatus {
		case StatusAccepted:
			totalTrusted++
		case StatusDuplicate:
			totalDup++
		}
	}

	var totalRejected int64
	counts := make(map[string]int64)
	for _, rej := range s.rejections {
		if _, ok := rawsInWindow[rej.RawIngestionID]; !ok {
			continue
		}
		totalRejected++
		counts[rej.Category]++
	}
	s.mu.RUnlock()

	summary := &StatsSummary{
		TotalRaw:       totalRaw,
		TotalTrusted:   totalTrusted,
		TotalRejected:  totalRejected,
		TotalDuplicate: totalDup,
		TopCategories:  topCategories(counts, f.TopN),
	}
	if totalRaw > 0 {
		summary.RejectionRate = float64(totalRejected) / float64(totalRaw)
	}
	return summary, nil
}

func topCategories(counts map[string]int64, n int) []CategoryCount {
	if n < 1 {
		n = defaultTopN
	}
	out := make([]CategoryCount, 0, len(counts))
	for cat, c := range counts {
		out = append(out, CategoryCount{Category: cat, Count: c})
	}
	// Sort by count descending, category ascending for stable output.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := out[j-1], out[j]
			if a.Count > b.Count || (a.Count == b.Count && a.Category < b.Category) {
				break
			}
			out[j-1], out[j] = b, a
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

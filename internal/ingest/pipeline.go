package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trustpipe/trustpipe/internal/source"
	"github.com/trustpipe/trustpipe/internal/trusted"
	"github.com/trustpipe/trustpipe/internal/validator"
)

// Pipeline runs a submission through the full intake flow: source
// resolution, dedup, durable raw capture, rule validation, and
// promotion into the trusted store.
type Pipeline struct {
	sources source.Registry
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

// NewPipeline creates a Pipeline. metrics may be nil.
func NewPipeline(sources source.Registry, store Store, logger *slog.Logger, metrics *Metrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{sources: sources, store: store, logger: logger, metrics: metrics}
}

// Ingest processes one submission end to end and returns its outcome.
// The request must already have passed Request.Validate.
//
// The raw row is written pessimistically as REJECTED in its own
// transaction before validation runs, so receipt of the payload is
// durable even if everything after it fails.
func (p *Pipeline) Ingest(ctx context.Context, req *Request, meta Meta) (*Result, error) {
	start := time.Now()
	requestID := uuid.New().String()

	canonical, err := CanonicalPayload(req)
	if err != nil {
		p.metrics.IncPipelineError()
		return nil, err
	}

	src, err := p.sources.ResolveOrCreate(ctx, req.Source)
	if err != nil {
		p.metrics.IncPipelineError()
		return nil, fmt.Errorf("resolving source %q: %w", req.Source, err)
	}

	existing, err := p.store.FindLatestRaw(ctx, src.ID, req.ExternalID)
	if err != nil {
		p.metrics.IncPipelineError()
		return nil, err
	}

	raw := &RawIngestion{
		SourceID:       src.ID,
		ExternalID:     req.ExternalID,
		SchemaVersion:  req.SchemaVersion,
		EventTimestamp: req.EventTimestamp,
		PayloadRaw:     string(canonical),
		PayloadHash:    PayloadHash(canonical),
		RequestID:      requestID,
		ClientIP:       meta.ClientIP,
		UserAgent:      meta.UserAgent,
	}

	if existing != nil {
		// Repeat of a pair already seen. The attempt is still recorded,
		// but never re-enters validation or the trusted store.
		raw.ProcessingStatus = StatusDuplicate
		if err := p.store.InsertRaw(ctx, raw); err != nil {
			p.metrics.IncPipelineError()
			return nil, err
		}
		p.logger.Info("duplicate submission",
			"request_id", requestID, "source_id", src.ID, "external_id", req.ExternalID)
		return p.finish(StatusDuplicate, raw, 0, 0, start), nil
	}

	raw.ProcessingStatus = StatusRejected
	if err := p.store.InsertRaw(ctx, raw); err != nil {
		p.metrics.IncPipelineError()
		return nil, err
	}

	violations := validator.Validate(req.EventType, req.EventStatus)
	if len(violations) > 0 {
		rejections := make([]*Rejection, 0, len(violations))
		for _, v := range violations {
			p.metrics.IncViolation(v.Rule)
			rejections = append(rejections, &Rejection{
				Category: v.Category,
				Field:    v.Field,
				Rule:     v.Rule,
				Message:  v.Message,
				Severity: v.Severity,
			})
		}
		if err := p.store.FinalizeRejected(ctx, raw.ID, rejections); err != nil {
			p.metrics.IncPipelineError()
			return nil, err
		}
		p.logger.Info("submission rejected",
			"request_id", requestID, "raw_id", raw.ID, "violations", len(violations))
		return p.finish(StatusRejected, raw, 0, len(violations), start), nil
	}

	ev := &trusted.Event{
		SourceID:       src.ID,
		ExternalID:     req.ExternalID,
		EntityID:       req.EntityID,
		EventType:      req.EventType,
		EventStatus:    req.EventStatus,
		EventTimestamp: req.EventTimestamp,
	}
	err = p.store.FinalizeAccepted(ctx, raw.ID, ev)
	if errors.Is(err, trusted.ErrDuplicatePair) {
		// A concurrent submission of the same pair committed first.
		if err := p.store.MarkDuplicate(ctx, raw.ID); err != nil {
			p.metrics.IncPipelineError()
			return nil, err
		}
		p.logger.Warn("lost uniqueness race, converted to duplicate",
			"request_id", requestID, "raw_id", raw.ID,
			"source_id", src.ID, "external_id", req.ExternalID)
		return p.finish(StatusDuplicate, raw, 0, 0, start), nil
	}
	if err != nil {
		// The raw row keeps its pessimistic REJECTED status.
		p.metrics.IncPipelineError()
		p.logger.Error("failed to finalize accepted submission",
			"request_id", requestID, "raw_id", raw.ID, "error", err)
		return nil, err
	}

	p.logger.Info("submission accepted",
		"request_id", requestID, "raw_id", raw.ID, "trusted_id", ev.ID)
	return p.finish(StatusAccepted, raw, ev.ID, 0, start), nil
}

func (p *Pipeline) finish(status string, raw *RawIngestion, trustedID int64, errCount int, start time.Time) *Result {
	p.metrics.ObserveSubmission(status, time.Since(start).Seconds())
	return &Result{
		Status:     status,
		RawID:      raw.ID,
		TrustedID:  trustedID,
		ErrorCount: errCount,
		RequestID:  raw.RequestID,
	}
}

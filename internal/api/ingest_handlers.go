package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/trustpipe/trustpipe/internal/ingest"
	"github.com/trustpipe/trustpipe/internal/middleware"
)

// IngestHandlers serves the event submission endpoint.
type IngestHandlers struct {
	pipeline *ingest.Pipeline
	guard    *Guard
	logger   *slog.Logger
}

// NewIngestHandlers creates ingest handlers.
func NewIngestHandlers(pipeline *ingest.Pipeline, guard *Guard, logger *slog.Logger) *IngestHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandlers{pipeline: pipeline, guard: guard, logger: logger}
}

// Ingest handles POST /api/v1/ingest.
//
// The credential check runs after body parsing (the source name lives in
// the body) but before the pipeline: a denied submission leaves no raw
// record, only a security event.
func (h *IngestHandlers) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if err := req.Validate(); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if _, err := h.guard.AuthenticateSource(r.Context(), r, req.Source); err != nil {
		if errors.Is(err, ErrSourceAuthFailed) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
			WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid API key")
			return
		}
		slog.ErrorContext(r.Context(), "source authentication error", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	meta := ingest.Meta{
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}
	result, err := h.pipeline.Ingest(r.Context(), &req, meta)
	if err != nil {
		slog.ErrorContext(r.Context(), "ingestion failed",
			"source", req.Source, "external_id", req.ExternalID, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/trustpipe/trustpipe/internal/ingest"
	"github.com/trustpipe/trustpipe/internal/middleware"
)

// RejectionHandlers serves read access to rule rejections.
type RejectionHandlers struct {
	repo   ingest.RejectionRepository
	logger *slog.Logger
}

// NewRejectionHandlers creates rejection handlers.
func NewRejectionHandlers(repo ingest.RejectionRepository, logger *slog.Logger) *RejectionHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &RejectionHandlers{repo: repo, logger: logger}
}

// List handles GET /api/v1/rejections.
func (h *RejectionHandlers) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := parsePagination(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	f := ingest.RejectionFilter{
		Category: r.URL.Query().Get("category"),
		Severity: r.URL.Query().Get("severity"),
		Page:     page,
		PageSize: pageSize,
	}
	if f.DateFrom, err = parseDateParam(r, "date_from"); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if f.DateTo, err = parseDateParam(r, "date_to"); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	// A window opening in the future can only match nothing; treat it as a
	// caller bug rather than returning an empty page.
	if f.DateFrom != nil && f.DateFrom.After(time.Now()) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "date_from must not be in the future")
		return
	}

	total, rejections, err := h.repo.ListRejections(r.Context(), f)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list rejections", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}
	if rejections == nil {
		rejections = []*ingest.Rejection{}
	}

	writeJSON(w, http.StatusOK, PageResponse{
		Page: page, PageSize: pageSize, Total: total, Items: rejections,
	})
}

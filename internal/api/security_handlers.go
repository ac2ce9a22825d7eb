package api

import (
	"log/slog"
	"net/http"

	"github.com/trustpipe/trustpipe/internal/middleware"
	"github.com/trustpipe/trustpipe/internal/security"
)

// SecurityEventHandlers serves read access to the security event log.
type SecurityEventHandlers struct {
	repo   security.Repository
	logger *slog.Logger
}

// NewSecurityEventHandlers creates security event handlers.
func NewSecurityEventHandlers(repo security.Repository, logger *slog.Logger) *SecurityEventHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityEventHandlers{repo: repo, logger: logger}
}

// List handles GET /api/v1/security-events.
func (h *SecurityEventHandlers) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := parsePagination(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	f := security.Filter{
		Severity:  r.URL.Query().Get("severity"),
		EventType: r.URL.Query().Get("event_type"),
		Page:      page,
		PageSize:  pageSize,
	}
	if f.SourceID, err = parseInt64Param(r, "source_id"); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if f.UserID, err = parseInt64Param(r, "user_id"); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
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

	total, events, err := h.repo.List(r.Context(), f)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list security events", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}
	if events == nil {
		events = []*security.Event{}
	}

	writeJSON(w, http.StatusOK, PageResponse{
		Page: page, PageSize: pageSize, Total: total, Items: events,
	})
}

package api

import (
	"log/slog"
	"net/http"

	"github.com/trustpipe/trustpipe/internal/audit"
	"github.com/trustpipe/trustpipe/internal/middleware"
)

// AuditHandlers serves read access to the audit ledger.
type AuditHandlers struct {
	repo   audit.Repository
	logger *slog.Logger
}

// NewAuditHandlers creates audit handlers.
func NewAuditHandlers(repo audit.Repository, logger *slog.Logger) *AuditHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandlers{repo: repo, logger: logger}
}

// List handles GET /api/v1/audit.
func (h *AuditHandlers) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := parsePagination(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	f := audit.Filter{Page: page, PageSize: pageSize}
	if f.TrustedEventID, err = parseInt64Param(r, "trusted_event_id"); err != nil {
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

	total, entries, err := h.repo.List(r.Context(), f)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list audit entries", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}

	writeJSON(w, http.StatusOK, PageResponse{
		Page: page, PageSize: pageSize, Total: total, Items: entries,
	})
}

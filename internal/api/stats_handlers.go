package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/trustpipe/trustpipe/internal/ingest"
	"github.com/trustpipe/trustpipe/internal/middleware"
)

// StatsHandlers serves aggregated pipeline statistics.
type StatsHandlers struct {
	repo   ingest.StatsRepository
	logger *slog.Logger
}

// NewStatsHandlers creates stats handlers.
func NewStatsHandlers(repo ingest.StatsRepository, logger *slog.Logger) *StatsHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandlers{repo: repo, logger: logger}
}

// Stats handles GET /api/v1/stats.
func (h *StatsHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	f := ingest.StatsFilter{TopN: 5}
	var err error

	if raw := r.URL.Query().Get("top_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 20 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "top_n must be between 1 and 20")
			return
		}
		f.TopN = n
	}
	if f.SourceID, err = parseInt64Param(r, "source_id"); err != nil {
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

	summary, err := h.repo.Stats(r.Context(), f)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to compute stats", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}
	if summary.TopCategories == nil {
		summary.TopCategories = []ingest.CategoryCount{}
	}

	writeJSON(w, http.StatusOK, summary)
}

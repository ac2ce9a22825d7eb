package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/trustpipe/trustpipe/internal/audit"
	"github.com/trustpipe/trustpipe/internal/middleware"
	"github.com/trustpipe/trustpipe/internal/source"
	"github.com/trustpipe/trustpipe/internal/trusted"
)

// TrustedHandlers serves the trusted event read and patch endpoints.
type TrustedHandlers struct {
	repo    trusted.Repository
	service *trusted.Service
	sources source.Registry
	logger  *slog.Logger
}

// NewTrustedHandlers creates trusted event handlers.
func NewTrustedHandlers(repo trusted.Repository, service *trusted.Service, sources source.Registry, logger *slog.Logger) *TrustedHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrustedHandlers{repo: repo, service: service, sources: sources, logger: logger}
}

// List handles GET /api/v1/trusted.
// An unknown source name filter yields an empty page, not an error.
func (h *TrustedHandlers) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := parsePagination(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	f := trusted.Filter{
		ExternalID:  r.URL.Query().Get("external_id"),
		EventStatus: r.URL.Query().Get("event_status"),
		Page:        page,
		PageSize:    pageSize,
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

	if name := r.URL.Query().Get("source"); name != "" {
		src, err := h.sources.Resolve(r.Context(), name)
		if err != nil {
			if errors.Is(err, source.ErrSourceNotFound) {
				// Unknown source filter: empty result, not an error
				writeJSON(w, http.StatusOK, PageResponse{
					Page: page, PageSize: pageSize, Total: 0, Items: []*trusted.Event{},
				})
				return
			}
			slog.ErrorContext(r.Context(), "failed to resolve source filter", "source", name, "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
			return
		}
		f.SourceID = &src.ID
	}

	total, events, err := h.repo.List(r.Context(), f)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list trusted events", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}
	if events == nil {
		events = []*trusted.Event{}
	}

	writeJSON(w, http.StatusOK, PageResponse{
		Page: page, PageSize: pageSize, Total: total, Items: events,
	})
}

// PatchResponse acknowledges an administrative update.
type PatchResponse struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

// Patch handles PATCH /api/v1/trusted/{id}. Admin only (enforced by the
// route's role guard); every change requires a reason and lands in the
// audit ledger in the same transaction.
func (h *TrustedHandlers) Patch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid trusted event id")
		return
	}

	var in trusted.PatchInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	identity, _ := middleware.GetIdentity(r.Context())
	requestID := middleware.GetRequestID(r.Context())

	ev, err := h.service.Patch(r.Context(), id, identity.UserID, requestID, in)
	if err != nil {
		switch {
		case errors.Is(err, trusted.ErrEventNotFound):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeTrustedNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeTrustedNotFound, "Trusted event not found")
		case errors.Is(err, audit.ErrEmptyReason):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeReasonRequired)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeReasonRequired, "A non-empty reason is required")
		default:
			slog.ErrorContext(r.Context(), "failed to patch trusted event", "trusted_id", id, "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, PatchResponse{Status: "updated", ID: ev.ID})
}

package trusted

import (
	"context"

	"github.com/trustpipe/trustpipe/internal/audit"
)

// PatchInput carries an administrative patch. Nil fields are left untouched.
// The new values are deliberately not checked against the ingestion
// allow-lists: an administrative patch is an override privilege.
type PatchInput struct {
	Reason      string  `json:"reason"`
	EventStatus *string `json:"event_status,omitempty"`
	EventType   *string `json:"event_type,omitempty"`
}

// Service orchestrates administrative mutations of trusted events.
type Service struct {
	repo Repository
}

// NewService creates a trusted event service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Patch applies an administrative patch to a trusted event, recording the
// mutation in the audit ledger as part of the same commit. Returns
// ErrEventNotFound if the target does not exist and audit.ErrEmptyReason when
// the justification is blank; in both cases nothing is mutated.
func (s *Service) Patch(ctx context.Context, trustedID, userID int64, requestID string, in PatchInput) (*Event, error) {
	ev, err := s.repo.GetByID(ctx, trustedID)
	if err != nil {
		return nil, err
	}

	reason, err := audit.ValidateReason(in.Reason)
	if err != nil {
		return nil, err
	}

	before := ev.Snapshot()
	if in.EventStatus != nil {
		ev.EventStatus = *in.EventStatus
	}
	if in.EventType != nil {
		ev.EventType = *in.EventType
	}
	after := ev.Snapshot()

	uid := userID
	entry := &audit.Entry{
		TrustedEventID: ev.ID,
		UserID:         &uid,
		Action:         audit.ActionUpdate,
		Reason:         reason,
		Before:         before,
		After:          after,
		RequestID:      requestID,
	}

	if err := s.repo.Patch(ctx, ev, entry); err != nil {
		return nil, err
	}
	return ev, nil
}

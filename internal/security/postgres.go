package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Insert records a security event. The write uses its own statement, never a
// caller transaction, so the record survives the denial of the guarded
// operation.
func (r *PostgresRepository) Insert(ctx context.Context, ev *Event) error {
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode security event details: %w", err)
	}

	query := `
		INSERT INTO security_event
			(event_type, severity, source_id, user_id, ip, user_agent, request_id, details)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)
		RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		ev.EventType, ev.Severity, ev.SourceID, ev.UserID,
		ev.IP, ev.UserAgent, ev.RequestID, payload,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		r.logger.Error("failed to insert security event", "error", err, "event_type", ev.EventType)
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// List returns security events newest first with the pre-pagination total.
func (r *PostgresRepository) List(ctx context.Context, f Filter) (int64, []*Event, error) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if f.Severity != "" {
		add("severity = ?", f.Severity)
	}
	if f.EventType != "" {
		add("event_type = ?", f.EventType)
	}
	if f.SourceID != nil {
		add("source_id = ?", *f.SourceID)
	}
	if f.UserID != nil {
		add("user_id = ?", *f.UserID)
	}
	if f.DateFrom != nil {
		add("created_at >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("created_at <= ?", *f.DateTo)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	countQuery := `SELECT count(*) FROM security_event` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count security events: %w", err)
	}

	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf(`
		SELECT id, event_type, severity, source_id, user_id,
		       COALESCE(ip, ''), COALESCE(user_agent, ''), COALESCE(request_id, ''),
		       details, created_at
		FROM security_event%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list security events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		var details []byte
		err := rows.Scan(&ev.ID, &ev.EventType, &ev.Severity, &ev.SourceID, &ev.UserID,
			&ev.IP, &ev.UserAgent, &ev.RequestID, &details, &ev.CreatedAt)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return 0, nil, fmt.Errorf("failed to decode security event details: %w", err)
			}
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to read security events: %w", err)
	}
	return total, events, nil
}

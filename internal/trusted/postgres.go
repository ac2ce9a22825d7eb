package trusted

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/trustpipe/trustpipe/internal/audit"
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

const eventColumns = `id, raw_ingestion_id, source_id, external_id, entity_id,
	event_type, event_status, event_timestamp, created_at`

func scanEvent(scanner interface{ Scan(...any) error }) (*Event, error) {
	var ev Event
	err := scanner.Scan(&ev.ID, &ev.RawIngestionID, &ev.SourceID, &ev.ExternalID, &ev.EntityID,
		&ev.EventType, &ev.EventStatus, &ev.EventTimestamp, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetByID retrieves a trusted event.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM trusted_event WHERE id = $1`
	ev, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trusted event %d: %w", id, err)
	}
	return ev, nil
}

// List returns trusted events newest first with the pre-pagination total.
func (r *PostgresRepository) List(ctx context.Context, f Filter) (int64, []*Event, error) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if f.SourceID != nil {
		add("source_id = ?", *f.SourceID)
	}
	if f.ExternalID != "" {
		add("external_id = ?", f.ExternalID)
	}
	if f.EventStatus != "" {
		add("event_status = ?", f.EventStatus)
	}
	if f.DateFrom != nil {
		add("event_timestamp >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("event_timestamp <= ?", *f.DateTo)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM trusted_event`+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count trusted events: %w", err)
	}

	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf(`SELECT %s FROM trusted_event%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		eventColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list trusted events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to scan trusted event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to read trusted events: %w", err)
	}
	return total, events, nil
}

// Patch persists the event's mutated fields together with its audit entry in
// a single transaction.
func (r *PostgresRepository) Patch(ctx context.Context, ev *Event, entry *audit.Entry) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback trusted patch", "error", err)
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE trusted_event SET event_type = $1, event_status = $2 WHERE id = $3`,
		ev.EventType, ev.EventStatus, ev.ID)
	if err != nil {
		r.logger.Error("failed to update trusted event", "error", err, "trusted_id", ev.ID)
		return fmt.Errorf("failed to update trusted event %d: %w", ev.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrEventNotFound
	}

	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		r.logger.Error("failed to write audit entry", "error", err, "trusted_id", ev.ID)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trusted patch: %w", err)
	}
	return nil
}

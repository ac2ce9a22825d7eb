package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// InsertTx appends an entry to the ledger within an existing transaction.
// The trusted-event patch path uses this so the mutation and its audit row
// commit or roll back together.
func InsertTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	reason, err := ValidateReason(e.Reason)
	if err != nil {
		return err
	}
	e.Reason = reason

	before, err := json.Marshal(e.Before)
	if err != nil {
		return fmt.Errorf("failed to encode before snapshot: %w", err)
	}
	after, err := json.Marshal(e.After)
	if err != nil {
		return fmt.Errorf("failed to encode after snapshot: %w", err)
	}

	query := `
		INSERT INTO audit_log
			(trusted_event_id, user_id, action, reason, before_data, after_data, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING id, created_at
	`
	err = tx.QueryRowContext(ctx, query,
		e.TrustedEventID, e.UserID, e.Action, e.Reason, before, after, e.RequestID,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

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

// Insert appends an entry to the ledger in its own transaction.
func (r *PostgresRepository) Insert(ctx context.Context, e *Entry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback audit insert", "error", err)
		}
	}()

	if err := InsertTx(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit insert: %w", err)
	}
	return nil
}

// List returns entries newest first with the pre-pagination total.
func (r *PostgresRepository) List(ctx context.Context, f Filter) (int64, []*Entry, error) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if f.TrustedEventID != nil {
		add("trusted_event_id = ?", *f.TrustedEventID)
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
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count audit entries: %w", err)
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
		SELECT id, trusted_event_id, user_id, action, reason,
		       before_data, after_data, COALESCE(request_id, ''), created_at
		FROM audit_log%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var before, after []byte
		err := rows.Scan(&e.ID, &e.TrustedEventID, &e.UserID, &e.Action, &e.Reason,
			&before, &after, &e.RequestID, &e.CreatedAt)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := json.Unmarshal(before, &e.Before); err != nil {
			return 0, nil, fmt.Errorf("failed to decode before snapshot: %w", err)
		}
		if err := json.Unmarshal(after, &e.After); err != nil {
			return 0, nil, fmt.Errorf("failed to decode after snapshot: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to read audit entries: %w", err)
	}
	return total, entries, nil
}

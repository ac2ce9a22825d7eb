package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/trustpipe/trustpipe/internal/trusted"
)

// PostgresStore implements Store, RejectionRepository and StatsRepository
// using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

const rawColumns = `id, source_id, external_id, schema_version, event_timestamp,
	received_at, payload_raw, payload_hash, processing_status, error_count,
	request_id, COALESCE(client_ip, ''), COALESCE(user_agent, '')`

func scanRaw(scanner interface{ Scan(...any) error }) (*RawIngestion, error) {
	var raw RawIngestion
	err := scanner.Scan(&raw.ID, &raw.SourceID, &raw.ExternalID, &raw.SchemaVersion,
		&raw.EventTimestamp, &raw.ReceivedAt, &raw.PayloadRaw, &raw.PayloadHash,
		&raw.ProcessingStatus, &raw.ErrorCount, &raw.RequestID, &raw.ClientIP, &raw.UserAgent)
	if err != nil {
		return nil, err
	}
	return &raw, nil
}

// FindLatestRaw returns the newest raw ingestion for the pair, or nil.
func (s *PostgresStore) FindLatestRaw(ctx context.Context, sourceID int64, externalID string) (*RawIngestion, error) {
	query := `SELECT ` + rawColumns + ` FROM raw_ingestion
		WHERE source_id = $1 AND external_id = $2
		ORDER BY id DESC LIMIT 1`
	raw, err := scanRaw(s.db.QueryRowContext(ctx, query, sourceID, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up raw ingestion: %w", err)
	}
	return raw, nil
}

// InsertRaw writes the submission record in its own implicit transaction.
func (s *PostgresStore) InsertRaw(ctx context.Context, raw *RawIngestion) error {
	query := `INSERT INTO raw_ingestion
		(source_id, external_id, schema_version, event_timestamp, payload_raw,
		 payload_hash, processing_status, error_count, request_id, client_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''))
		RETURNING id, received_at`
	err := s.db.QueryRowContext(ctx, query,
		raw.SourceID, raw.ExternalID, raw.SchemaVersion, raw.EventTimestamp,
		raw.PayloadRaw, raw.PayloadHash, raw.ProcessingStatus, raw.ErrorCount,
		raw.RequestID, raw.ClientIP, raw.UserAgent,
	).Scan(&raw.ID, &raw.ReceivedAt)
	if err != nil {
		s.logger.Error("failed to insert raw ingestion",
			"source_id", raw.SourceID, "external_id", raw.ExternalID, "error", err)
		return fmt.Errorf("failed to insert raw ingestion: %w", err)
	}
	return nil
}

// FinalizeRejected writes every violation and the error count atomically.
func (s *PostgresStore) FinalizeRejected(ctx context.Context, rawID int64, rejections []*Rejection) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rej := range rejections {
		err := tx.QueryRowContext(ctx, `INSERT INTO rejection
			(raw_ingestion_id, category, field, rule, message, severity)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at`,
			rawID, rej.Category, rej.Field, rej.Rule, rej.Message, rej.Severity,
		).Scan(&rej.ID, &rej.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert rejection: %w", err)
		}
		rej.RawIngestionID = rawID
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE raw_ingestion SET processing_status = $1, error_count = $2 WHERE id = $3`,
		StatusRejected, len(rejections), rawID)
	if err != nil {
		return fmt.Errorf("failed to update raw ingestion %d: %w", rawID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRawNotFound
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("failed to commit rejection finalize", "raw_id", rawID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FinalizeAccepted promotes the submission: trusted event insert plus raw
// status update in one transaction. A unique violation on the trusted
// pair or raw linkage surfaces as trusted.ErrDuplicatePair.
func (s *PostgresStore) FinalizeAccepted(ctx context.Context, rawID int64, ev *trusted.Event) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `INSERT INTO trusted_event
		(raw_ingestion_id, source_id, external_id, entity_id, event_type, event_status, event_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		rawID, ev.SourceID, ev.ExternalID, ev.EntityID,
		ev.EventType, ev.EventStatus, ev.EventTimestamp,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return trusted.ErrDuplicatePair
		}
		return fmt.Errorf("failed to insert trusted event: %w", err)
	}
	ev.RawIngestionID = rawID

	res, err := tx.ExecContext(ctx,
		`UPDATE raw_ingestion SET processing_status = $1, error_count = 0 WHERE id = $2`,
		StatusAccepted, rawID)
	if err != nil {
		return fmt.Errorf("failed to update raw ingestion %d: %w", rawID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRawNotFound
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return trusted.ErrDuplicatePair
		}
		s.logger.Error("failed to commit accept finalize", "raw_id", rawID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkDuplicate downgrades the raw row after losing the uniqueness race.
func (s *PostgresStore) MarkDuplicate(ctx context.Context, rawID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_ingestion SET processing_status = $1, error_count = 0 WHERE id = $2`,
		StatusDuplicate, rawID)
	if err != nil {
		return fmt.Errorf("failed to mark raw ingestion %d duplicate: %w", rawID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRawNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

// ListRejections returns rejections newest first with the total count.
func (s *PostgresStore) ListRejections(ctx context.Context, f RejectionFilter) (int64, []*Rejection, error) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if f.Category != "" {
		add("category = ?", f.Category)
	}
	if f.Severity != "" {
		add("severity = ?", f.Severity)
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
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM rejection`+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count rejections: %w", err)
	}

	page, size := clampPage(f.Page, f.PageSize)
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf(`SELECT id, raw_ingestion_id, category, field, rule, message, severity, created_at
		FROM rejection%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to list rejections: %w", err)
	}
	defer rows.Close()

	var rejections []*Rejection
	for rows.Next() {
		var rej Rejection
		if err := rows.Scan(&rej.ID, &rej.RawIngestionID, &rej.Category, &rej.Field,
			&rej.Rule, &rej.Message, &rej.Severity, &rej.CreatedAt); err != nil {
			return 0, nil, fmt.Errorf("failed to scan rejection: %w", err)
		}
		rejections = append(rejections, &rej)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to iterate rejections: %w", err)
	}
	return total, rejections, nil
}

// Stats aggregates throughput counters in the requested window.
func (s *PostgresStore) Stats(ctx context.Context, f StatsFilter) (*StatsSummary, error) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if f.SourceID != nil {
		add("r.source_id = ?", *f.SourceID)
	}
	if f.DateFrom != nil {
		add("r.received_at >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("r.received_at <= ?", *f.DateTo)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	summary := &StatsSummary{}
	query := fmt.Sprintf(`SELECT
			count(*),
			count(*) FILTER (WHERE r.processing_status = '%s'),
			count(*) FILTER (WHERE r.processing_status = '%s')
		FROM raw_ingestion r%s`, StatusAccepted, StatusDuplicate, where)
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&summary.TotalRaw, &summary.TotalTrusted, &summary.TotalDuplicate)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate raw ingestions: %w", err)
	}

	var rejected int64
	err = s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM rejection j JOIN raw_ingestion r ON r.id = j.raw_ingestion_id`+where,
		args...).Scan(&rejected)
	if err != nil {
		return nil, fmt.Errorf("failed to count rejections: %w", err)
	}
	summary.TotalRejected = rejected
	if summary.TotalRaw > 0 {
		summary.RejectionRate = float64(rejected) / float64(summary.TotalRaw)
	}

	topN := f.TopN
	if topN < 1 {
		topN = defaultTopN
	}
	args = append(args, topN)
	catQuery := fmt.Sprintf(`SELECT j.category, count(*) AS c
		FROM rejection j JOIN raw_ingestion r ON r.id = j.raw_ingestion_id%s
		GROUP BY j.category ORDER BY c DESC, j.category ASC LIMIT $%d`, where, len(args))
	rows, err := s.db.QueryContext(ctx, catQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate rejection categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		summary.TopCategories = append(summary.TopCategories, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate category counts: %w", err)
	}
	return summary, nil
}

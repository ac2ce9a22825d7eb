package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// PostgresRegistry implements Registry using PostgreSQL.
type PostgresRegistry struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRegistry creates a new PostgresRegistry.
func NewPostgresRegistry(db *sql.DB, logger *slog.Logger) *PostgresRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRegistry{db: db, logger: logger}
}

const sourceColumns = `id, name, status, COALESCE(api_key_hash, ''), created_at, updated_at`

func scanSource(row *sql.Row) (*Source, error) {
	var src Source
	err := row.Scan(&src.ID, &src.Name, &src.Status, &src.APIKeyHash, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// ResolveOrCreate looks up a source by name, creating it if absent.
// The insert uses ON CONFLICT DO NOTHING so two concurrent first submissions
// from the same new source both resolve to the single created row.
func (r *PostgresRegistry) ResolveOrCreate(ctx context.Context, name string) (*Source, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	insert := `
		INSERT INTO source_system (name, status)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, insert, name, StatusActive); err != nil {
		r.logger.Error("failed to auto-provision source", "error", err, "source", name)
		return nil, fmt.Errorf("failed to auto-provision source: %w", err)
	}

	query := `SELECT ` + sourceColumns + ` FROM source_system WHERE name = $1`
	src, err := scanSource(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		return nil, fmt.Errorf("failed to load source %q: %w", name, err)
	}
	return src, nil
}

// Resolve looks up a source by name without creating it.
func (r *PostgresRegistry) Resolve(ctx context.Context, name string) (*Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM source_system WHERE name = $1`
	src, err := scanSource(r.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source %q: %w", name, err)
	}
	return src, nil
}

// Provision creates a source with a credential, or replaces the credential
// of an existing source of the same name.
func (r *PostgresRegistry) Provision(ctx context.Context, name, apiKeyHash string) (*Source, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	query := `
		INSERT INTO source_system (name, status, api_key_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET api_key_hash = EXCLUDED.api_key_hash, updated_at = now()
		RETURNING ` + sourceColumns

	var src Source
	err := r.db.QueryRowContext(ctx, query, name, StatusActive, apiKeyHash).
		Scan(&src.ID, &src.Name, &src.Status, &src.APIKeyHash, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to provision source", "error", err, "source", name)
		return nil, fmt.Errorf("failed to provision source %q: %w", name, err)
	}
	return &src, nil
}

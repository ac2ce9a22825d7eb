package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
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

const userColumns = `id, username, password_hash, role, is_active, created_at`

func (r *PostgresRepository) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// GetByUsername retrieves a user by username.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM user_account WHERE username = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, username))
}

// GetByID retrieves a user by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM user_account WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// Insert creates a new user.
func (r *PostgresRepository) Insert(ctx context.Context, u *User) error {
	if !ValidRoles[u.Role] {
		return ErrInvalidRole
	}

	query := `
		INSERT INTO user_account (username, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, u.Username, u.PasswordHash, u.Role, u.IsActive).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrUserExists
		}
		r.logger.Error("failed to insert user", "error", err, "username", u.Username)
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Package health provides dependency health checkers for the readiness probe.
package health

import (
	"context"
	"database/sql"
)

// DBChecker implements health checking for the SQL database.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database within the caller's deadline.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PostgresIdempotencyChecker implements DB-based deduplication against the
// command log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if the request exists in the command log
func (pic *PostgresIdempotencyChecker) IsDuplicate(ctx context.Context, requestID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx,
		`SELECT 1 FROM clawboard_commands WHERE request_id = $1 LIMIT 1`,
		requestID.String(),
	).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil // Not found - not a duplicate
	}
	if err != nil {
		return false, err // DB error
	}
	return true, nil // Found - is duplicate
}

package capacity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/stashlite/internal/stash/domain"
	"github.com/example/stashlite/internal/storage"
)

// bookedBagsQuery is served by the (stashpoint_id, dropoff_time, pickup_time)
// index, so its cost follows one stashpoint's bookings rather than the table.
const bookedBagsQuery = `
SELECT COALESCE(SUM(bag_count), 0)
FROM bookings
WHERE stashpoint_id = $1
  AND is_cancelled = FALSE
  AND dropoff_time < $3
  AND pickup_time > $2`

// PostgresEvaluator sums overlapping bookings in Postgres.
type PostgresEvaluator struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresEvaluator builds the evaluator. timeout bounds each query.
func NewPostgresEvaluator(db *sql.DB, timeout time.Duration) *PostgresEvaluator {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &PostgresEvaluator{db: db, timeout: timeout}
}

// BookedBags returns the bags committed against the stashpoint for bookings
// overlapping the window.
func (p *PostgresEvaluator) BookedBags(ctx context.Context, stashpointID uuid.UUID, window domain.Window) (int, error) {
	ctx, cancel := storage.WithTimeout(ctx, p.timeout)
	defer cancel()

	w := window.UTC()
	var booked int64
	if err := p.db.QueryRowContext(ctx, bookedBagsQuery, stashpointID, w.Dropoff, w.Pickup).Scan(&booked); err != nil {
		return 0, fmt.Errorf("postgres booked bags %s: %w", stashpointID, err)
	}
	return int(booked), nil
}

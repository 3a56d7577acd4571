package locator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/stashlite/internal/stash/domain"
	"github.com/example/stashlite/internal/storage"
)

// stashpointColumns selects a stashpoint row with its opening hours folded in
// as a JSON array, so a listing stays a single round trip.
const stashpointColumns = `
s.id, s.name, s.description, s.address, s.postal_code, s.latitude, s.longitude, s.capacity, s.always_open,
COALESCE((
    SELECT json_agg(json_build_object(
               'weekday', h.weekday,
               'opens', to_char(h.opens_at, 'HH24:MI'),
               'closes', to_char(h.closes_at, 'HH24:MI')))
    FROM stashpoint_opening_hours h
    WHERE h.stashpoint_id = s.id
), '[]'::json) AS hours`

// locateQuery filters by radius through the GiST index on stashpoints.location
// and applies the schedule predicate to the rows that survive.
//
// $1 lng, $2 lat, $3 radius in metres, $4 dropoff, $5 pickup (UTC, timestamp without time zone).
const locateQuery = `
WITH origin AS (
    SELECT ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography AS geog
)
SELECT ` + stashpointColumns + `,
       ST_Distance(s.location, origin.geog) / 1000.0 AS distance_km
FROM stashpoints s, origin
WHERE ST_DWithin(s.location, origin.geog, $3)
  AND (s.always_open OR EXISTS (
        SELECT 1
        FROM stashpoint_opening_hours h
        CROSS JOIN (VALUES (($4::timestamp)::date - 1), (($4::timestamp)::date)) AS anchor(day)
        WHERE h.stashpoint_id = s.id
          AND h.weekday = EXTRACT(DOW FROM anchor.day)
          AND anchor.day + h.opens_at <= $4::timestamp
          AND anchor.day + h.closes_at
              + CASE WHEN h.closes_at <= h.opens_at THEN INTERVAL '1 day' ELSE INTERVAL '0' END
              >= $5::timestamp))
ORDER BY distance_km, s.id`

const listQuery = `SELECT ` + stashpointColumns + ` FROM stashpoints s ORDER BY s.id`

// PostgresLocator finds candidates in a PostGIS-enabled Postgres database.
type PostgresLocator struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresLocator builds the locator. timeout bounds each query.
func NewPostgresLocator(db *sql.DB, timeout time.Duration) *PostgresLocator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &PostgresLocator{db: db, timeout: timeout}
}

// Locate returns stashpoints within radiusKM of origin that are open for the
// whole window, closest first.
func (p *PostgresLocator) Locate(ctx context.Context, origin domain.GeoPoint, radiusKM float64, window domain.Window) ([]domain.Candidate, error) {
	ctx, cancel := storage.WithTimeout(ctx, p.timeout)
	defer cancel()

	w := window.UTC()
	rows, err := p.db.QueryContext(ctx, locateQuery, origin.Lng, origin.Lat, radiusKM*1000, w.Dropoff, w.Pickup)
	if err != nil {
		return nil, fmt.Errorf("postgres locate: %w", err)
	}
	defer rows.Close()

	candidates := make([]domain.Candidate, 0)
	for rows.Next() {
		var c domain.Candidate
		if err := scanStashpoint(rows, &c.Stashpoint, &c.DistanceKM); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stashpoints: %w", err)
	}
	return candidates, nil
}

// Stashpoints lists the whole catalogue. It feeds the Redis geo index at
// startup.
func (p *PostgresLocator) Stashpoints(ctx context.Context) ([]domain.Stashpoint, error) {
	ctx, cancel := storage.WithTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, listQuery)
	if err != nil {
		return nil, fmt.Errorf("postgres list stashpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.Stashpoint
	for rows.Next() {
		var sp domain.Stashpoint
		if err := scanStashpoint(rows, &sp); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stashpoints: %w", err)
	}
	return out, nil
}

func scanStashpoint(rows *sql.Rows, sp *domain.Stashpoint, extra ...any) error {
	var hours []byte
	dest := []any{
		&sp.ID, &sp.Name, &sp.Description, &sp.Address, &sp.PostalCode,
		&sp.Location.Lat, &sp.Location.Lng, &sp.Capacity,
		&sp.Schedule.AlwaysOpen, &hours,
	}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return fmt.Errorf("scan stashpoint: %w", err)
	}
	if err := json.Unmarshal(hours, &sp.Schedule.Hours); err != nil {
		return fmt.Errorf("decode opening hours for %s: %w", sp.ID, err)
	}
	return nil
}

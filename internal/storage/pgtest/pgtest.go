// Package pgtest starts a throwaway PostGIS container with the stashpoint and
// booking tables for integration tests.
package pgtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/example/stashlite/internal/stash/domain"
	"github.com/example/stashlite/internal/storage"
)

const ddl = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE stashpoints (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL,
    postal_code TEXT NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    location GEOGRAPHY(POINT, 4326) NOT NULL,
    capacity INTEGER NOT NULL CHECK (capacity >= 0),
    always_open BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX idx_stashpoints_location ON stashpoints USING GIST (location);

CREATE TABLE stashpoint_opening_hours (
    stashpoint_id UUID NOT NULL REFERENCES stashpoints(id),
    weekday SMALLINT NOT NULL CHECK (weekday BETWEEN 0 AND 6),
    opens_at TIME NOT NULL,
    closes_at TIME NOT NULL
);
CREATE INDEX idx_opening_hours_stashpoint ON stashpoint_opening_hours (stashpoint_id);

CREATE TABLE bookings (
    id UUID PRIMARY KEY,
    stashpoint_id UUID NOT NULL REFERENCES stashpoints(id),
    dropoff_time TIMESTAMP NOT NULL,
    pickup_time TIMESTAMP NOT NULL CHECK (pickup_time > dropoff_time),
    bag_count INTEGER NOT NULL CHECK (bag_count > 0),
    is_cancelled BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
);
CREATE INDEX idx_booking_availability ON bookings (stashpoint_id, dropoff_time, pickup_time);
`

// Start launches PostGIS, applies the schema and returns an open pool. The
// test is skipped when no container provider is reachable.
func Start(t *testing.T) *sql.DB {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgis/postgis:16-3.4",
		postgrescontainer.WithDatabase("stashlite"),
		postgrescontainer.WithUsername("postgres"),
		postgrescontainer.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pg.Terminate(ctx))
	})

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := storage.OpenPostgres(ctx, dsn, 10)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, ddl)
	require.NoError(t, err)
	return db
}

// InsertStashpoint writes a stashpoint and its opening hours.
func InsertStashpoint(t *testing.T, db *sql.DB, sp domain.Stashpoint) {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `
INSERT INTO stashpoints (id, name, description, address, postal_code, latitude, longitude, location, capacity, always_open)
VALUES ($1, $2, $3, $4, $5, $6, $7, ST_SetSRID(ST_MakePoint($7, $6), 4326)::geography, $8, $9)`,
		sp.ID, sp.Name, sp.Description, sp.Address, sp.PostalCode, sp.Location.Lat, sp.Location.Lng, sp.Capacity, sp.Schedule.AlwaysOpen)
	require.NoError(t, err)
	for _, h := range sp.Schedule.Hours {
		_, err := db.ExecContext(ctx,
			`INSERT INTO stashpoint_opening_hours (stashpoint_id, weekday, opens_at, closes_at) VALUES ($1, $2, $3::time, $4::time)`,
			sp.ID, int(h.Weekday), h.Opens.String(), h.Closes.String())
		require.NoError(t, err)
	}
}

// InsertBooking writes a booking; a zero ID is replaced with a random one.
func InsertBooking(t *testing.T, db *sql.DB, b domain.Booking) {
	t.Helper()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO bookings (id, stashpoint_id, dropoff_time, pickup_time, bag_count, is_cancelled) VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.StashpointID, b.Dropoff.UTC(), b.Pickup.UTC(), b.BagCount, b.Cancelled)
	require.NoError(t, err)
}

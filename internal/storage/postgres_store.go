package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/example/session-coordinator/internal/models"
)

// ErrRideNotFound is returned by History when no event exists for a ride.
var ErrRideNotFound = errors.New("ride not found")

// PostgresStore appends every ride event to the ride_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies a schema file, typically migrations/001_create_ride_events.sql.
func (p *PostgresStore) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, string(b))
	return err
}

func (p *PostgresStore) RecordRide(ctx context.Context, ev models.RideEvent) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_events(ride_id, kind, driver_id, rider_id, status, driver_location, pickup_location, ride_destination, recorded_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ev.RideID, ev.Kind, ev.DriverID, ev.RiderID, ev.Status, ev.DriverLocation, ev.PickupLocation, ev.RideDestination, ev.RecordedAt)
	return err
}

func (p *PostgresStore) History(ctx context.Context, rideID string) ([]models.RideEvent, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT ride_id, kind, driver_id, rider_id, status, driver_location, pickup_location, ride_destination, recorded_at FROM ride_events WHERE ride_id = $1 ORDER BY recorded_at, id`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RideEvent
	for rows.Next() {
		var ev models.RideEvent
		if err := rows.Scan(&ev.RideID, &ev.Kind, &ev.DriverID, &ev.RiderID, &ev.Status, &ev.DriverLocation, &ev.PickupLocation, &ev.RideDestination, &ev.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrRideNotFound
	}
	return out, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

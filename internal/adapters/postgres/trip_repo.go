package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// TripRepo implements ports.TripRepository.
type TripRepo struct {
	db *DB
}

func NewTripRepo(db *DB) *TripRepo {
	return &TripRepo{db: db}
}

func (r *TripRepo) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	tr := &domain.Trip{}
	var status string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, route_id, COALESCE(bus_id, ''), COALESCE(driver_id, ''), status
		FROM trips WHERE id = $1
	`, id).Scan(&tr.ID, &tr.RouteID, &tr.BusID, &tr.DriverID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trip %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	tr.Status = domain.TripStatus(status)
	return tr, nil
}

// BookedUserIDs returns users holding a confirmed booking on the trip.
func (r *TripRepo) BookedUserIDs(ctx context.Context, tripID string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT user_id FROM bookings
		WHERE trip_id = $1 AND status = 'confirmed'
		ORDER BY user_id
	`, tripID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Upsert writes a trip and its confirmed bookings. Used by seeding and tests.
func (r *TripRepo) Upsert(ctx context.Context, tr *domain.Trip) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO trips (id, route_id, bus_id, driver_id, status)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
			ON CONFLICT (id) DO UPDATE
			SET route_id = EXCLUDED.route_id, bus_id = EXCLUDED.bus_id,
			    driver_id = EXCLUDED.driver_id, status = EXCLUDED.status
		`, tr.ID, tr.RouteID, tr.BusID, tr.DriverID, string(tr.Status)); err != nil {
			return err
		}
		for _, u := range tr.Bookings {
			if _, err := tx.Exec(ctx, `
				INSERT INTO bookings (trip_id, user_id) VALUES ($1, $2)
				ON CONFLICT (trip_id, user_id) DO UPDATE SET status = 'confirmed'
			`, tr.ID, u); err != nil {
				return err
			}
		}
		return nil
	})
}

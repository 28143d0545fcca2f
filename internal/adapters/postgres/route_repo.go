package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// RouteRepo implements ports.RouteRepository.
type RouteRepo struct {
	db *DB
}

func NewRouteRepo(db *DB) *RouteRepo { return &RouteRepo{db: db} }

// GetByID loads a route with its waypoints and optional path, all in order.
func (r *RouteRepo) GetByID(ctx context.Context, id string) (*domain.Route, error) {
	rt := domain.Route{ID: id}
	err := r.db.Pool.QueryRow(ctx, `SELECT name FROM routes WHERE id = $1`, id).Scan(&rt.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("route %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		SELECT name, latitude, longitude, dwell_time_ms, role
		FROM route_waypoints WHERE route_id = $1 ORDER BY seq
	`, id)
	batch.Queue(`
		SELECT latitude, longitude
		FROM route_path_points WHERE route_id = $1 ORDER BY seq
	`, id)
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()

	rows, err := br.Query()
	if err != nil {
		return nil, fmt.Errorf("waypoints: %w", err)
	}
	for rows.Next() {
		var wp domain.Waypoint
		var role string
		if err := rows.Scan(&wp.Name, &wp.Location.Lat, &wp.Location.Lon, &wp.DwellMs, &role); err != nil {
			rows.Close()
			return nil, err
		}
		wp.Role = domain.WaypointRole(role)
		rt.Waypoints = append(rt.Waypoints, wp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = br.Query()
	if err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.GeoPoint
		if err := rows.Scan(&p.Lat, &p.Lon); err != nil {
			return nil, err
		}
		rt.Path = append(rt.Path, p)
	}
	return &rt, rows.Err()
}

// Upsert replaces a route and its waypoints and path. Used by seeding and tests.
func (r *RouteRepo) Upsert(ctx context.Context, rt *domain.Route) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO routes (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		`, rt.ID, rt.Name); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM route_waypoints WHERE route_id = $1`, rt.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM route_path_points WHERE route_id = $1`, rt.ID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, wp := range rt.Waypoints {
			batch.Queue(`
				INSERT INTO route_waypoints (route_id, seq, name, latitude, longitude, dwell_time_ms, role)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, rt.ID, i, wp.Name, wp.Location.Lat, wp.Location.Lon, wp.DwellMs, string(wp.Role))
		}
		for i, p := range rt.Path {
			batch.Queue(`
				INSERT INTO route_path_points (route_id, seq, latitude, longitude) VALUES ($1, $2, $3, $4)
			`, rt.ID, i, p.Lat, p.Lon)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

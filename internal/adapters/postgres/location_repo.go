package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
)

// LocationRepo implements ports.LocationRepository.
type LocationRepo struct {
	db *DB
}

func NewLocationRepo(db *DB) *LocationRepo { return &LocationRepo{db: db} }

const sampleColumns = `id, trip_id, latitude, longitude, speed, heading, accuracy, recorded_at, source`

func (r *LocationRepo) Insert(ctx context.Context, s *domain.LocationSample) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO location_samples (id, trip_id, latitude, longitude, speed, heading, accuracy, recorded_at, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.TripID, s.Latitude, s.Longitude, s.Speed, s.Heading, s.Accuracy, s.Timestamp, string(s.Source))
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func (r *LocationRepo) Latest(ctx context.Context, tripID string) (*domain.LocationSample, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+sampleColumns+`
		FROM location_samples
		WHERE trip_id = $1
		ORDER BY recorded_at DESC, inserted_at DESC
		LIMIT 1
	`, tripID)
	s, err := scanSample(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *LocationRepo) Range(ctx context.Context, tripID string, q domain.HistoryQuery) ([]domain.LocationSample, error) {
	where, args := windowClause(tripID, q)
	order := "DESC"
	if q.Ascending {
		order = "ASC"
	}
	args = append(args, q.Limit, q.Offset)

	rows, err := r.db.Pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM location_samples
		WHERE %s
		ORDER BY recorded_at %s, inserted_at %s
		LIMIT $%d OFFSET $%d
	`, sampleColumns, where, order, order, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := make([]domain.LocationSample, 0, q.Limit)
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, *s)
	}
	return samples, rows.Err()
}

func (r *LocationRepo) Count(ctx context.Context, tripID string, q domain.HistoryQuery) (int, error) {
	where, args := windowClause(tripID, q)
	var n int
	err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM location_samples WHERE `+where, args...).Scan(&n)
	return n, err
}

func windowClause(tripID string, q domain.HistoryQuery) (string, []any) {
	conds := []string{"trip_id = $1"}
	args := []any{tripID}
	if q.From != nil {
		args = append(args, *q.From)
		conds = append(conds, fmt.Sprintf("recorded_at >= $%d", len(args)))
	}
	if q.To != nil {
		args = append(args, *q.To)
		conds = append(conds, fmt.Sprintf("recorded_at <= $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}

func scanSample(row pgx.Row) (*domain.LocationSample, error) {
	var s domain.LocationSample
	var source string
	if err := row.Scan(&s.ID, &s.TripID, &s.Latitude, &s.Longitude,
		&s.Speed, &s.Heading, &s.Accuracy, &s.Timestamp, &source); err != nil {
		return nil, err
	}
	s.Source = domain.SampleSource(source)
	s.Timestamp = s.Timestamp.UTC()
	return &s, nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuelabs/microroute/internal/domain"
)

// VenueStatStore implements domain.VenueStatStore using PostgreSQL.
type VenueStatStore struct {
	pool *pgxpool.Pool
}

// NewVenueStatStore creates a new VenueStatStore backed by the given pool.
func NewVenueStatStore(pool *pgxpool.Pool) *VenueStatStore {
	return &VenueStatStore{pool: pool}
}

const venueStatSelectCols = `id, venue, latency_ms, spread_bps, depth_usd, reliability, sampled_at`

func scanVenueStatRows(rows pgx.Rows) ([]domain.VenueStatSample, error) {
	var samples []domain.VenueStatSample
	for rows.Next() {
		var s domain.VenueStatSample
		if err := rows.Scan(
			&s.ID, &s.Venue, &s.LatencyMs, &s.SpreadBps,
			&s.DepthUsd, &s.Reliability, &s.SampledAt,
		); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Insert persists one venue metric sample.
func (s *VenueStatStore) Insert(ctx context.Context, sample domain.VenueStatSample) error {
	const query = `
		INSERT INTO venue_stats (
			venue, latency_ms, spread_bps, depth_usd, reliability, sampled_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		sample.Venue, sample.LatencyMs, sample.SpreadBps,
		sample.DepthUsd, sample.Reliability, sample.SampledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert venue stat %s: %w", sample.Venue, err)
	}
	return nil
}

// List returns samples for a venue, newest first.
func (s *VenueStatStore) List(ctx context.Context, venue string, opts domain.ListOpts) ([]domain.VenueStatSample, error) {
	query := `SELECT ` + venueStatSelectCols + ` FROM venue_stats WHERE venue = $1`
	args := []any{venue}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND sampled_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND sampled_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY sampled_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list venue stats %s: %w", venue, err)
	}
	defer rows.Close()

	samples, err := scanVenueStatRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan venue stats %s: %w", venue, err)
	}
	return samples, nil
}

// ListBefore returns up to limit samples taken before the cutoff, oldest
// first, for archival.
func (s *VenueStatStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.VenueStatSample, error) {
	query := `SELECT ` + venueStatSelectCols + ` FROM venue_stats
		WHERE sampled_at < $1 ORDER BY sampled_at ASC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list venue stats before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	samples, err := scanVenueStatRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan venue stats before cutoff: %w", err)
	}
	return samples, nil
}

// DeleteBefore removes samples taken before the cutoff and returns the
// number deleted.
func (s *VenueStatStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM venue_stats WHERE sampled_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete venue stats before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.VenueStatStore = (*VenueStatStore)(nil)

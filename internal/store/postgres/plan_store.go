package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuelabs/microroute/internal/domain"
)

// PlanStore implements domain.PlanStore using PostgreSQL.
type PlanStore struct {
	pool *pgxpool.Pool
}

// NewPlanStore creates a new PlanStore backed by the given connection pool.
func NewPlanStore(pool *pgxpool.Pool) *PlanStore {
	return &PlanStore{pool: pool}
}

const planSelectCols = `id, symbol, total_size, urgency, style, slice_count,
	horizon_minutes, est_cost_bps, est_slip_bps, chosen_venue, rationale,
	confidence, fallback, created_at`

func scanPlanRows(rows pgx.Rows) ([]domain.ExecutionPlan, error) {
	var plans []domain.ExecutionPlan
	for rows.Next() {
		var p domain.ExecutionPlan
		if err := rows.Scan(
			&p.ID, &p.Symbol, &p.TotalSize, &p.Urgency, &p.Style,
			&p.SliceCount, &p.TimeHorizonMinutes,
			&p.EstimatedCostBps, &p.EstimatedSlipBps,
			&p.ChosenVenue, &p.Rationale, &p.Confidence,
			&p.Fallback, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// Insert persists one plan. Plans are immutable; re-inserting the same ID is
// an error.
func (s *PlanStore) Insert(ctx context.Context, plan domain.ExecutionPlan) error {
	const query = `
		INSERT INTO plans (
			id, symbol, total_size, urgency, style, slice_count,
			horizon_minutes, est_cost_bps, est_slip_bps, chosen_venue,
			rationale, confidence, fallback, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14
		)`

	_, err := s.pool.Exec(ctx, query,
		plan.ID, plan.Symbol, plan.TotalSize, string(plan.Urgency),
		string(plan.Style), plan.SliceCount, plan.TimeHorizonMinutes,
		plan.EstimatedCostBps, plan.EstimatedSlipBps, plan.ChosenVenue,
		plan.Rationale, plan.Confidence, plan.Fallback, plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert plan %s: %w", plan.ID, err)
	}
	return nil
}

// Get retrieves a plan by ID. It returns domain.ErrNotFound when no plan
// with that ID exists.
func (s *PlanStore) Get(ctx context.Context, id string) (domain.ExecutionPlan, error) {
	query := `SELECT ` + planSelectCols + ` FROM plans WHERE id = $1`

	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return domain.ExecutionPlan{}, fmt.Errorf("postgres: get plan %s: %w", id, err)
	}
	defer rows.Close()

	plans, err := scanPlanRows(rows)
	if err != nil {
		return domain.ExecutionPlan{}, fmt.Errorf("postgres: scan plan %s: %w", id, err)
	}
	if len(plans) == 0 {
		return domain.ExecutionPlan{}, domain.ErrNotFound
	}
	return plans[0], nil
}

// List returns plans newest first with pagination and optional time filters.
func (s *PlanStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionPlan, error) {
	query := `SELECT ` + planSelectCols + ` FROM plans WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list plans: %w", err)
	}
	defer rows.Close()

	plans, err := scanPlanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan plans: %w", err)
	}
	return plans, nil
}

// ListBefore returns up to limit plans created before the cutoff, oldest
// first, for archival.
func (s *PlanStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ExecutionPlan, error) {
	query := `SELECT ` + planSelectCols + ` FROM plans
		WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list plans before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	plans, err := scanPlanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan plans before cutoff: %w", err)
	}
	return plans, nil
}

// DeleteBefore removes plans created before the cutoff and returns the
// number deleted.
func (s *PlanStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM plans WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete plans before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.PlanStore = (*PlanStore)(nil)

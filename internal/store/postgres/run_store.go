package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stxbot/internal/domain"
	"github.com/alanyoungcy/stxbot/internal/metrics"
)

func timeNow() time.Time { return time.Now().UTC() }

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Start records a new run.
func (s *RunStore) Start(ctx context.Context, run domain.RunRecord) (err error) {
	defer func() { metrics.RecordDatabaseQuery("run_start", err) }()

	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = timeNow()
	}

	const query = `
		INSERT INTO bot_runs (id, market_id, started_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`

	if _, err = s.pool.Exec(ctx, query, run.ID, run.MarketID, startedAt); err != nil {
		return fmt.Errorf("postgres: start run %s: %w", run.ID, err)
	}
	return nil
}

// Finish stores how a run ended. A run never started is inserted.
func (s *RunStore) Finish(ctx context.Context, run domain.RunRecord) (err error) {
	defer func() { metrics.RecordDatabaseQuery("run_finish", err) }()

	finishedAt := timeNow()
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = finishedAt
	}

	const query = `
		INSERT INTO bot_runs (id, market_id, started_at, finished_at, outcome, replacements, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			market_id    = EXCLUDED.market_id,
			finished_at  = EXCLUDED.finished_at,
			outcome      = EXCLUDED.outcome,
			replacements = EXCLUDED.replacements,
			error        = EXCLUDED.error`

	_, err = s.pool.Exec(ctx, query,
		run.ID, run.MarketID, startedAt, finishedAt,
		run.Outcome, run.Replacements, run.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, err)
	}
	return nil
}

// Get returns one run.
func (s *RunStore) Get(ctx context.Context, id string) (domain.RunRecord, error) {
	const query = `
		SELECT id::text, market_id, started_at, finished_at, outcome, replacements, error
		FROM bot_runs WHERE id = $1`

	var r domain.RunRecord
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.MarketID, &r.StartedAt, &r.FinishedAt,
		&r.Outcome, &r.Replacements, &r.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RunRecord{}, domain.ErrNotFound
		}
		return domain.RunRecord{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return r, nil
}

// Compile-time interface check.
var _ domain.RunStore = (*RunStore)(nil)

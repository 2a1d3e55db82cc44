package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andres10976/certharvest/internal/model"
)

type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

func (r *RunRepository) Create(ctx context.Context, run *model.RunState) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, started_at, dry_run, is_running)
		 VALUES ($1::uuid, $2, $3, TRUE)`,
		run.ID, run.StartedAt, run.DryRun,
	)
	return classify(err, "ingest_runs")
}

// Update writes the run's counters. A run with FinishedAt set is marked as
// no longer running.
func (r *RunRepository) Update(ctx context.Context, run *model.RunState) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE ingest_runs SET
			finished_at = $2,
			domains_processed = $3,
			last_domain = $4,
			imported = $5,
			duplicates = $6,
			parse_failures = $7,
			fetch_failures = $8,
			error = NULLIF($9, ''),
			is_running = $10,
			updated_at = $11
		WHERE id = $1::uuid`,
		run.ID, run.FinishedAt, run.DomainsProcessed, run.LastDomain,
		run.Imported, run.Duplicates, run.ParseFailures, run.FetchFailures,
		run.Error, run.FinishedAt == nil, time.Now(),
	)
	return classify(err, "ingest_runs")
}

// Latest returns the most recently started run.
func (r *RunRepository) Latest(ctx context.Context) (*model.RunState, error) {
	var (
		s      model.RunState
		errMsg *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, started_at, finished_at, dry_run, domains_processed,
			last_domain, imported, duplicates, parse_failures, fetch_failures,
			error, is_running
		FROM ingest_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(
		&s.ID, &s.StartedAt, &s.FinishedAt, &s.DryRun, &s.DomainsProcessed,
		&s.LastDomain, &s.Imported, &s.Duplicates, &s.ParseFailures, &s.FetchFailures,
		&errMsg, &s.IsRunning,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "ingest_runs")
	}
	if errMsg != nil {
		s.Error = *errMsg
	}
	return &s, nil
}

// MarkInterrupted closes runs left open by a previous process.
func (r *RunRepository) MarkInterrupted(ctx context.Context) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE ingest_runs SET
			is_running = FALSE,
			finished_at = COALESCE(finished_at, now()),
			error = COALESCE(error, 'interrupted'),
			updated_at = now()
		WHERE is_running`)
	return classify(err, "ingest_runs")
}

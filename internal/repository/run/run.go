package run

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/model"
	"github.com/Taichi-iskw/transcript-index/internal/repository/common"
)

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 20

// Repository records ingestion runs in PostgreSQL
type Repository interface {
	// Start inserts a run and sets its ID when empty
	Start(ctx context.Context, run *model.Run) error

	// Finish stores the final state and counts of a run
	Finish(ctx context.Context, run *model.Run) error

	// List returns the most recent runs first
	List(ctx context.Context, limit int) ([]*model.Run, error)
}

// repository implements Repository using PostgreSQL
type repository struct {
	pool common.Pool
}

// NewRepository creates a new run repository
func NewRepository(pool common.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Start(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	sql := `INSERT INTO ingest_runs (id, source, state, message, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := r.pool.QueryRow(ctx, sql, run.ID, string(run.Source), string(run.State), run.Message, run.StartedAt).Scan(&run.ID)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to record run start")
	}
	return nil
}

func (r *repository) Finish(ctx context.Context, run *model.Run) error {
	sql := `UPDATE ingest_runs
		SET state = $2, message = $3, processed = $4, skipped = $5, failed = $6, finished_at = $7
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, sql, run.ID, string(run.State), run.Message, run.Processed, run.Skipped, run.Failed, run.FinishedAt)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to record run finish")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.CodeNotFound, "run not found: "+run.ID)
	}
	return nil
}

func (r *repository) List(ctx context.Context, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	sql := `SELECT id, source, state, message, processed, skipped, failed, started_at, finished_at
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT $1`
	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to list runs")
	}
	defer rows.Close()

	runs := []*model.Run{}
	for rows.Next() {
		var run model.Run
		var source, state string
		if err := rows.Scan(&run.ID, &source, &state, &run.Message, &run.Processed, &run.Skipped, &run.Failed, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan run")
		}
		run.Source = model.Source(source)
		run.State = model.State(state)
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to list runs")
	}
	return runs, nil
}

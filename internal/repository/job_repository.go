package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kavish224/financial-tools/internal/model"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrJobAlreadyRunning is returned by Create when the ledger already holds a
// running job of the same kind
var ErrJobAlreadyRunning = errors.New("a job of this kind is already running")

const jobColumns = `id, kind, status, total_symbols, processed_symbols, updated_symbols, up_to_date_symbols,
	no_data_symbols, failed_symbols, bars_inserted, error, started_at, finished_at, updated_at`

// JobRepository handles database operations for the update job ledger
type JobRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sqlx.DB, logger *zap.Logger) *JobRepository {
	return &JobRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a running job. The partial unique index on running jobs
// makes this the cross-instance run gate.
func (r *JobRepository) Create(ctx context.Context, kind string, totalSymbols int) (*model.UpdateJob, error) {
	var job model.UpdateJob
	err := r.db.GetContext(ctx, &job, `
		INSERT INTO update_jobs (kind, status, total_symbols)
		VALUES ($1, $2, $3)
		RETURNING `+jobColumns,
		kind, model.JobStatusRunning, totalSymbols)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrJobAlreadyRunning
		}
		r.logger.Error("Failed to create update job",
			zap.Error(err),
			zap.String("kind", kind))
		return nil, err
	}

	return &job, nil
}

// Get returns a job by ID, or nil if it does not exist
func (r *JobRepository) Get(ctx context.Context, id int64) (*model.UpdateJob, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM update_jobs WHERE id = $1`, id)
}

// Running returns the running job of a kind, or nil
func (r *JobRepository) Running(ctx context.Context, kind string) (*model.UpdateJob, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM update_jobs WHERE kind = $1 AND status = 'running'`, kind)
}

// Latest returns the most recently started job of a kind, or nil
func (r *JobRepository) Latest(ctx context.Context, kind string) (*model.UpdateJob, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM update_jobs WHERE kind = $1 ORDER BY started_at DESC, id DESC LIMIT 1`, kind)
}

func (r *JobRepository) getOne(ctx context.Context, query string, arg interface{}) (*model.UpdateJob, error) {
	var job model.UpdateJob
	err := r.db.GetContext(ctx, &job, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get update job", zap.Error(err), zap.Any("key", arg))
		return nil, err
	}
	return &job, nil
}

// List returns the most recent jobs of a kind
func (r *JobRepository) List(ctx context.Context, kind string, limit int) ([]model.UpdateJob, error) {
	var jobs []model.UpdateJob
	err := r.db.SelectContext(ctx, &jobs,
		`SELECT `+jobColumns+` FROM update_jobs WHERE kind = $1 ORDER BY started_at DESC, id DESC LIMIT $2`,
		kind, limit)
	if err != nil {
		r.logger.Error("Failed to list update jobs", zap.Error(err), zap.String("kind", kind))
		return nil, err
	}
	return jobs, nil
}

// UpdateProgress writes the running counters of a job
func (r *JobRepository) UpdateProgress(ctx context.Context, id int64, p model.JobProgress) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE update_jobs
		SET processed_symbols = $2, updated_symbols = $3, up_to_date_symbols = $4,
			no_data_symbols = $5, failed_symbols = $6, bars_inserted = $7, updated_at = NOW()
		WHERE id = $1
	`, id, p.Processed, p.Updated, p.UpToDate, p.NoData, p.Failed, p.Inserted)
	if err != nil {
		r.logger.Error("Failed to update job progress", zap.Error(err), zap.Int64("jobID", id))
		return err
	}
	return nil
}

// Finish moves a job to a terminal status with its final counters
func (r *JobRepository) Finish(ctx context.Context, id int64, status string, p model.JobProgress, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE update_jobs
		SET status = $2, processed_symbols = $3, updated_symbols = $4, up_to_date_symbols = $5,
			no_data_symbols = $6, failed_symbols = $7, bars_inserted = $8,
			error = NULLIF($9, ''), finished_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, status, p.Processed, p.Updated, p.UpToDate, p.NoData, p.Failed, p.Inserted, errorMsg)
	if err != nil {
		r.logger.Error("Failed to finish update job",
			zap.Error(err),
			zap.Int64("jobID", id),
			zap.String("status", status))
		return err
	}
	return nil
}

// FailStale marks running jobs that have not reported progress since before
// as failed, releasing the run gate held by a crashed instance
func (r *JobRepository) FailStale(ctx context.Context, kind string, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE update_jobs
		SET status = $2, error = 'abandoned: no progress reported', finished_at = NOW(), updated_at = NOW()
		WHERE kind = $1 AND status = 'running' AND updated_at < $3
	`, kind, model.JobStatusFailed, before)
	if err != nil {
		r.logger.Error("Failed to fail stale jobs", zap.Error(err), zap.String("kind", kind))
		return 0, err
	}
	return res.RowsAffected()
}

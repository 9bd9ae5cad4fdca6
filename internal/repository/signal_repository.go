package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kavish224/financial-tools/internal/model"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const insertSignalQuery = `
	INSERT INTO signal_results (
		isin, symbol, kind, short_period, long_period, threshold_pct, signal_date,
		close_price, sma_value, long_sma_value, deviation_pct, generated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (isin, kind, short_period, long_period, threshold_pct, signal_date) DO NOTHING
`

// SignalRepository handles database operations for computed signal results
type SignalRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSignalRepository creates a new signal repository
func NewSignalRepository(db *sqlx.DB, logger *zap.Logger) *SignalRepository {
	return &SignalRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertToday stores a result unless one already exists for the same symbol,
// parameters and day. The first writer for a day wins.
func (r *SignalRepository) UpsertToday(ctx context.Context, result model.SignalResult) (bool, error) {
	res, err := r.db.ExecContext(ctx, insertSignalQuery, signalArgs(result)...)
	if err != nil {
		r.logger.Error("Failed to insert signal result",
			zap.Error(err),
			zap.String("isin", result.ISIN),
			zap.String("kind", string(result.Kind)))
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// InsertBatch stores results in one transaction and returns how many were new
func (r *SignalRepository) InsertBatch(ctx context.Context, results []model.SignalResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, insertSignalQuery)
	if err != nil {
		r.logger.Error("Failed to prepare statement", zap.Error(err))
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, result := range results {
		res, err := stmt.ExecContext(ctx, signalArgs(result)...)
		if err != nil {
			r.logger.Error("Failed to insert signal result",
				zap.Error(err),
				zap.String("isin", result.ISIN),
				zap.String("kind", string(result.Kind)))
			return 0, err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Failed to commit transaction", zap.Error(err))
		return 0, err
	}

	return inserted, nil
}

// PruneOlderThan deletes results for a parameter set dated before cutoff
func (r *SignalRepository) PruneOlderThan(ctx context.Context, params model.SignalParams, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM signal_results
		WHERE kind = $1 AND short_period = $2 AND long_period = $3 AND threshold_pct = $4
			AND signal_date < $5
	`, string(params.Kind), params.ShortPeriod, params.LongPeriod, params.Threshold, model.Day(cutoff))
	if err != nil {
		r.logger.Error("Failed to prune signal results",
			zap.Error(err),
			zap.String("kind", string(params.Kind)),
			zap.Time("cutoff", cutoff))
		return 0, err
	}

	return res.RowsAffected()
}

// List returns the stored results for a parameter set on one day
func (r *SignalRepository) List(ctx context.Context, params model.SignalParams, day time.Time) ([]model.SignalResult, error) {
	var results []model.SignalResult
	err := r.db.SelectContext(ctx, &results, `
		SELECT id, isin, symbol, kind, short_period, long_period, threshold_pct, signal_date,
			close_price, sma_value, long_sma_value, deviation_pct, generated_at
		FROM signal_results
		WHERE kind = $1 AND short_period = $2 AND long_period = $3 AND threshold_pct = $4
			AND signal_date = $5
		ORDER BY symbol
	`, string(params.Kind), params.ShortPeriod, params.LongPeriod, params.Threshold, model.Day(day))
	if err != nil {
		r.logger.Error("Failed to list signal results",
			zap.Error(err),
			zap.String("kind", string(params.Kind)),
			zap.Time("day", day))
		return nil, err
	}

	return results, nil
}

// LatestDate returns the most recent signal date stored for a parameter set
func (r *SignalRepository) LatestDate(ctx context.Context, params model.SignalParams) (*time.Time, error) {
	var latest sql.NullTime
	err := r.db.GetContext(ctx, &latest, `
		SELECT MAX(signal_date) FROM signal_results
		WHERE kind = $1 AND short_period = $2 AND long_period = $3 AND threshold_pct = $4
	`, string(params.Kind), params.ShortPeriod, params.LongPeriod, params.Threshold)
	if err != nil {
		r.logger.Error("Failed to get latest signal date", zap.Error(err), zap.String("kind", string(params.Kind)))
		return nil, err
	}

	if !latest.Valid {
		return nil, nil
	}

	day := model.Day(latest.Time)
	return &day, nil
}

func signalArgs(result model.SignalResult) []interface{} {
	generatedAt := result.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	return []interface{}{
		result.ISIN,
		result.Symbol,
		string(result.Kind),
		result.ShortPeriod,
		result.LongPeriod,
		result.ThresholdPct,
		model.Day(result.SignalDate),
		result.ClosePrice,
		result.SMAValue,
		result.LongSMAValue,
		result.DeviationPct,
		generatedAt,
	}
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kavish224/financial-tools/internal/model"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const priceBarColumns = `isin, trade_date, open, high, low, close, volume, open_interest, source`

const insertPriceBarQuery = `
	INSERT INTO price_bars (isin, trade_date, open, high, low, close, volume, open_interest, source)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (isin, trade_date) DO NOTHING
`

// PriceBarRepository handles database operations for daily price bars
type PriceBarRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPriceBarRepository creates a new price bar repository
func NewPriceBarRepository(db *sqlx.DB, logger *zap.Logger) *PriceBarRepository {
	return &PriceBarRepository{
		db:     db,
		logger: logger,
	}
}

// Append stores a single bar. It returns false without error when a bar for
// the same ISIN and date already exists.
func (r *PriceBarRepository) Append(ctx context.Context, bar model.PriceBar) (bool, error) {
	res, err := r.db.ExecContext(ctx, insertPriceBarQuery, priceBarArgs(bar)...)
	if err != nil {
		r.logger.Error("Failed to insert price bar",
			zap.Error(err),
			zap.String("isin", bar.ISIN),
			zap.Time("date", bar.Date))
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// AppendBatch stores bars in one transaction and returns how many were new.
// Nothing is committed unless every row executes.
func (r *PriceBarRepository) AppendBatch(ctx context.Context, bars []model.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, insertPriceBarQuery)
	if err != nil {
		r.logger.Error("Failed to prepare statement", zap.Error(err))
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, bar := range bars {
		res, err := stmt.ExecContext(ctx, priceBarArgs(bar)...)
		if err != nil {
			r.logger.Error("Failed to insert price bar",
				zap.Error(err),
				zap.String("isin", bar.ISIN),
				zap.Time("date", bar.Date))
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

// LatestDate returns the most recent stored trade date, or nil when the ISIN
// has no history
func (r *PriceBarRepository) LatestDate(ctx context.Context, isin string) (*time.Time, error) {
	var latest sql.NullTime
	err := r.db.GetContext(ctx, &latest, `SELECT MAX(trade_date) FROM price_bars WHERE isin = $1`, isin)
	if err != nil {
		r.logger.Error("Failed to get latest trade date",
			zap.Error(err),
			zap.String("isin", isin))
		return nil, err
	}

	if !latest.Valid {
		return nil, nil
	}

	day := model.Day(latest.Time)
	return &day, nil
}

// SeriesFrom returns bars on or after since in ascending date order. A nil
// since returns the full history.
func (r *PriceBarRepository) SeriesFrom(ctx context.Context, isin string, since *time.Time) ([]model.PriceBar, error) {
	query := `SELECT ` + priceBarColumns + ` FROM price_bars WHERE isin = $1`
	args := []interface{}{isin}

	if since != nil {
		query += ` AND trade_date >= $2`
		args = append(args, *since)
	}

	query += ` ORDER BY trade_date`

	var bars []model.PriceBar
	if err := r.db.SelectContext(ctx, &bars, query, args...); err != nil {
		r.logger.Error("Failed to get price series",
			zap.Error(err),
			zap.String("isin", isin))
		return nil, err
	}

	return bars, nil
}

// SeriesUntil returns the last limit bars dated on or before until, in
// ascending date order
func (r *PriceBarRepository) SeriesUntil(ctx context.Context, isin string, until time.Time, limit int) ([]model.PriceBar, error) {
	query := `
		SELECT ` + priceBarColumns + ` FROM (
			SELECT ` + priceBarColumns + `
			FROM price_bars
			WHERE isin = $1 AND trade_date <= $2
			ORDER BY trade_date DESC
			LIMIT $3
		) recent
		ORDER BY trade_date
	`

	var bars []model.PriceBar
	if err := r.db.SelectContext(ctx, &bars, query, isin, until, limit); err != nil {
		r.logger.Error("Failed to get recent price series",
			zap.Error(err),
			zap.String("isin", isin),
			zap.Time("until", until),
			zap.Int("limit", limit))
		return nil, err
	}

	return bars, nil
}

// ExistingDates reports which of the given ISINs already have a bar on date
func (r *PriceBarRepository) ExistingDates(ctx context.Context, isins []string, date time.Time) (map[string]bool, error) {
	var found []string
	err := r.db.SelectContext(ctx, &found,
		`SELECT isin FROM price_bars WHERE trade_date = $1 AND isin = ANY($2)`,
		date, pq.Array(isins))
	if err != nil {
		r.logger.Error("Failed to check existing bars",
			zap.Error(err),
			zap.Time("date", date),
			zap.Int("isins", len(isins)))
		return nil, err
	}

	existing := make(map[string]bool, len(found))
	for _, isin := range found {
		existing[isin] = true
	}

	return existing, nil
}

// DistinctISINs lists every ISIN that has at least one stored bar
func (r *PriceBarRepository) DistinctISINs(ctx context.Context) ([]string, error) {
	var isins []string
	if err := r.db.SelectContext(ctx, &isins, `SELECT DISTINCT isin FROM price_bars ORDER BY isin`); err != nil {
		r.logger.Error("Failed to list ISINs with history", zap.Error(err))
		return nil, err
	}
	return isins, nil
}

func priceBarArgs(bar model.PriceBar) []interface{} {
	return []interface{}{
		bar.ISIN,
		model.Day(bar.Date),
		bar.Open,
		bar.High,
		bar.Low,
		bar.Close,
		bar.Volume,
		bar.OpenInterest,
		bar.Source,
	}
}

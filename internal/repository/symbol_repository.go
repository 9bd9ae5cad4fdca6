package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kavish224/financial-tools/internal/model"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const symbolColumns = `isin, symbol, company_name, industry, series, created_at, updated_at`

// SymbolRepository handles database operations for the symbol master
type SymbolRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSymbolRepository creates a new symbol repository
func NewSymbolRepository(db *sqlx.DB, logger *zap.Logger) *SymbolRepository {
	return &SymbolRepository{
		db:     db,
		logger: logger,
	}
}

// List returns every symbol ordered by ticker
func (r *SymbolRepository) List(ctx context.Context) ([]model.Symbol, error) {
	var symbols []model.Symbol
	err := r.db.SelectContext(ctx, &symbols, `SELECT `+symbolColumns+` FROM stock_symbols ORDER BY symbol`)
	if err != nil {
		r.logger.Error("Failed to list symbols", zap.Error(err))
		return nil, err
	}
	return symbols, nil
}

// ListPage returns one page of symbols and the total count
func (r *SymbolRepository) ListPage(ctx context.Context, offset, limit int) ([]model.Symbol, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM stock_symbols`); err != nil {
		r.logger.Error("Failed to count symbols", zap.Error(err))
		return nil, 0, err
	}

	var symbols []model.Symbol
	err := r.db.SelectContext(ctx, &symbols,
		`SELECT `+symbolColumns+` FROM stock_symbols ORDER BY symbol LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		r.logger.Error("Failed to list symbols",
			zap.Error(err),
			zap.Int("offset", offset),
			zap.Int("limit", limit))
		return nil, 0, err
	}

	return symbols, total, nil
}

// ListISINs returns the ISIN of every symbol ordered by ticker
func (r *SymbolRepository) ListISINs(ctx context.Context) ([]string, error) {
	var isins []string
	if err := r.db.SelectContext(ctx, &isins, `SELECT isin FROM stock_symbols ORDER BY symbol`); err != nil {
		r.logger.Error("Failed to list ISINs", zap.Error(err))
		return nil, err
	}
	return isins, nil
}

// GetByISIN returns a symbol by ISIN, or nil if it does not exist
func (r *SymbolRepository) GetByISIN(ctx context.Context, isin string) (*model.Symbol, error) {
	return r.getOne(ctx, `SELECT `+symbolColumns+` FROM stock_symbols WHERE isin = $1`, isin)
}

// GetBySymbol returns a symbol by its current ticker, or nil if none matches
func (r *SymbolRepository) GetBySymbol(ctx context.Context, ticker string) (*model.Symbol, error) {
	return r.getOne(ctx, `SELECT `+symbolColumns+` FROM stock_symbols WHERE symbol = $1`, ticker)
}

// ResolveTicker maps a current or historic ticker to its symbol
func (r *SymbolRepository) ResolveTicker(ctx context.Context, ticker string) (*model.Symbol, error) {
	sym, err := r.GetBySymbol(ctx, ticker)
	if err != nil || sym != nil {
		return sym, err
	}

	return r.getOne(ctx, `
		SELECT s.isin, s.symbol, s.company_name, s.industry, s.series, s.created_at, s.updated_at
		FROM stock_symbols s
		JOIN symbol_aliases a ON a.isin = s.isin
		WHERE a.symbol = $1
		ORDER BY a.valid_from DESC
		LIMIT 1
	`, ticker)
}

func (r *SymbolRepository) getOne(ctx context.Context, query string, arg interface{}) (*model.Symbol, error) {
	var sym model.Symbol
	err := r.db.GetContext(ctx, &sym, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get symbol", zap.Error(err), zap.Any("key", arg))
		return nil, err
	}
	return &sym, nil
}

// Upsert creates or updates a symbol keyed by ISIN. A changed ticker is
// recorded in symbol_aliases so the old ticker stays resolvable.
func (r *SymbolRepository) Upsert(ctx context.Context, sym model.Symbol) (model.SymbolUpsertResult, error) {
	var result model.SymbolUpsertResult

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return result, err
	}
	defer tx.Rollback()

	var current string
	err = tx.GetContext(ctx, &current, `SELECT symbol FROM stock_symbols WHERE isin = $1 FOR UPDATE`, sym.ISIN)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_symbols (isin, symbol, company_name, industry, series)
			VALUES ($1, $2, $3, $4, $5)
		`, sym.ISIN, sym.Symbol, sym.CompanyName, sym.Industry, sym.Series)
		if err != nil {
			r.logger.Error("Failed to insert symbol",
				zap.Error(err),
				zap.String("isin", sym.ISIN),
				zap.String("symbol", sym.Symbol))
			return result, err
		}
		result.Created = true

	case err != nil:
		r.logger.Error("Failed to lock symbol", zap.Error(err), zap.String("isin", sym.ISIN))
		return result, err

	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_symbols
			SET symbol = $2, company_name = $3, industry = $4, series = $5, updated_at = NOW()
			WHERE isin = $1
		`, sym.ISIN, sym.Symbol, sym.CompanyName, sym.Industry, sym.Series)
		if err != nil {
			r.logger.Error("Failed to update symbol",
				zap.Error(err),
				zap.String("isin", sym.ISIN),
				zap.String("symbol", sym.Symbol))
			return result, err
		}
		if current != sym.Symbol {
			result.Renamed = true
			result.PreviousSymbol = current
		}
	}

	if result.Created || result.Renamed {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO symbol_aliases (isin, symbol, valid_from)
			VALUES ($1, $2, NOW())
			ON CONFLICT (isin, symbol) DO UPDATE SET valid_from = EXCLUDED.valid_from
		`, sym.ISIN, sym.Symbol)
		if err != nil {
			r.logger.Error("Failed to record symbol alias",
				zap.Error(err),
				zap.String("isin", sym.ISIN),
				zap.String("symbol", sym.Symbol))
			return result, err
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Failed to commit transaction", zap.Error(err))
		return result, err
	}

	return result, nil
}

// Aliases lists every ticker an ISIN has traded under, newest first
func (r *SymbolRepository) Aliases(ctx context.Context, isin string) ([]model.SymbolAlias, error) {
	var aliases []model.SymbolAlias
	err := r.db.SelectContext(ctx, &aliases,
		`SELECT isin, symbol, valid_from FROM symbol_aliases WHERE isin = $1 ORDER BY valid_from DESC`, isin)
	if err != nil {
		r.logger.Error("Failed to list symbol aliases", zap.Error(err), zap.String("isin", isin))
		return nil, err
	}
	return aliases, nil
}

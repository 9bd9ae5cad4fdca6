package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kavish224/financial-tools/internal/model"

	"github.com/guregu/null/v6"
	"go.uber.org/zap"
)

// Symbol master CSV columns
const (
	colISIN        = "ISIN"
	colSymbol      = "Symbol"
	colCompanyName = "Company Name"
	colIndustry    = "Industry"
	colSeries      = "Series"
)

// SymbolService handles symbol master operations
type SymbolService struct {
	symbols SymbolStore
	cache   QueryCache
	logger  *zap.Logger
}

// NewSymbolService creates a new symbol service
func NewSymbolService(symbols SymbolStore, cache QueryCache, logger *zap.Logger) *SymbolService {
	return &SymbolService{
		symbols: symbols,
		cache:   cache,
		logger:  logger,
	}
}

// List returns one page of the symbol master and the total count
func (s *SymbolService) List(ctx context.Context, offset, limit int) ([]model.Symbol, int, error) {
	symbols, total, err := s.symbols.ListPage(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	if symbols == nil {
		symbols = []model.Symbol{}
	}
	return symbols, total, nil
}

// Get resolves an ISIN, current ticker or former ticker
func (s *SymbolService) Get(ctx context.Context, key string) (*model.Symbol, error) {
	key = strings.ToUpper(strings.TrimSpace(key))

	sym, err := s.symbols.GetByISIN(ctx, key)
	if err != nil || sym != nil {
		return sym, err
	}

	sym, err = s.symbols.ResolveTicker(ctx, key)
	if err != nil {
		return nil, err
	}
	if sym == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, key)
	}
	return sym, nil
}

// Aliases lists the tickers the symbol addressed by key has traded under
func (s *SymbolService) Aliases(ctx context.Context, key string) ([]model.SymbolAlias, error) {
	sym, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	aliases, err := s.symbols.Aliases(ctx, sym.ISIN)
	if err != nil {
		return nil, err
	}
	if aliases == nil {
		aliases = []model.SymbolAlias{}
	}
	return aliases, nil
}

// Import upserts every row of a symbol master CSV
func (s *SymbolService) Import(ctx context.Context, r io.Reader) (*model.SymbolImportSummary, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{colISIN, colSymbol} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	optional := func(record []string, name string) null.String {
		v := field(record, name)
		return null.NewString(v, v != "")
	}

	summary := &model.SymbolImportSummary{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			s.logger.Warn("Unreadable symbol row", zap.Int("row", line), zap.Error(err))
			summary.Errors++
			continue
		}

		sym := model.Symbol{
			ISIN:        strings.ToUpper(field(record, colISIN)),
			Symbol:      strings.ToUpper(field(record, colSymbol)),
			CompanyName: optional(record, colCompanyName),
			Industry:    optional(record, colIndustry),
			Series:      optional(record, colSeries),
		}
		if sym.ISIN == "" || sym.Symbol == "" {
			summary.Skipped++
			continue
		}

		result, err := s.symbols.Upsert(ctx, sym)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Errors++
			continue
		}

		switch {
		case result.Created:
			summary.Created++
		case result.Renamed:
			summary.Renamed++
			s.logger.Info("Ticker changed",
				zap.String("isin", sym.ISIN),
				zap.String("from", result.PreviousSymbol),
				zap.String("to", sym.Symbol))
		default:
			summary.Updated++
		}
	}

	if summary.Created > 0 || summary.Renamed > 0 {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("Failed to invalidate cache", zap.Error(err))
		}
	}

	s.logger.Info("Symbol master imported",
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("renamed", summary.Renamed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors))

	return summary, nil
}

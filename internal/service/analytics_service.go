package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kavish224/financial-tools/internal/indicator"
	"github.com/kavish224/financial-tools/internal/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AnalyticsService produces full-history crossing reports for the universe
type AnalyticsService struct {
	bars    PriceBarStore
	symbols SymbolStore
	workers int
	logger  *zap.Logger
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(bars PriceBarStore, symbols SymbolStore, workers int, logger *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		bars:    bars,
		symbols: symbols,
		workers: max(workers, 1),
		logger:  logger,
	}
}

// PriceCrossings lists every day a close crossed its period-day SMA
func (s *AnalyticsService) PriceCrossings(ctx context.Context, period int) ([]model.CrossingReport, error) {
	if period < 1 || period > MaxPeriod {
		return nil, fmt.Errorf("%w: period must be between 1 and %d", ErrInvalidParams, MaxPeriod)
	}

	return s.report(ctx, func(bars []model.PriceBar) []indicator.Crossing {
		return indicator.PriceCrossings(bars, period)
	})
}

// GoldenCrosses lists every golden and death cross of the short and long SMAs
func (s *AnalyticsService) GoldenCrosses(ctx context.Context, short, long int) ([]model.CrossingReport, error) {
	if err := ValidateCrossover(short, long); err != nil {
		return nil, err
	}

	return s.report(ctx, func(bars []model.PriceBar) []indicator.Crossing {
		return indicator.SMACrossings(bars, short, long)
	})
}

func (s *AnalyticsService) report(ctx context.Context, find func([]model.PriceBar) []indicator.Crossing) ([]model.CrossingReport, error) {
	symbols, err := s.symbols.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}

	var (
		mu      sync.Mutex
		reports = []model.CrossingReport{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			bars, err := s.bars.SeriesFrom(gctx, sym.ISIN, nil)
			if err != nil {
				s.logger.Warn("Failed to load series",
					zap.String("isin", sym.ISIN),
					zap.Error(err))
				return nil
			}

			crossings := find(bars)
			if len(crossings) == 0 {
				return nil
			}

			out := make([]model.CrossingReport, 0, len(crossings))
			for _, c := range crossings {
				r := model.CrossingReport{
					Symbol:    sym.Symbol,
					StockName: sym.CompanyName.String,
					Date:      c.Date.Format(model.DateLayout),
					Price:     indicator.Round2(c.Close),
					SMA:       indicator.Round2(c.SMA),
					Crossing:  string(c.Direction),
				}
				if c.LongSMA.Valid {
					r.LongSMA.Decimal = indicator.Round2(c.LongSMA.Decimal)
					r.LongSMA.Valid = true
				}
				out = append(out, r)
			}

			mu.Lock()
			reports = append(reports, out...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Symbol != reports[j].Symbol {
			return reports[i].Symbol < reports[j].Symbol
		}
		return reports[i].Date < reports[j].Date
	})

	return reports, nil
}

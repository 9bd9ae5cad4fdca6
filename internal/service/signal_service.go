package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kavish224/financial-tools/internal/config"
	"github.com/kavish224/financial-tools/internal/events"
	"github.com/kavish224/financial-tools/internal/indicator"
	"github.com/kavish224/financial-tools/internal/metrics"
	"github.com/kavish224/financial-tools/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidParams is returned for out of range signal parameters
var ErrInvalidParams = errors.New("invalid signal parameters")

// Parameter bounds
const (
	MaxPeriod       = 500
	MaxBackfillDays = 8

	// ThresholdPlaces matches the scale of signal_results.threshold_pct
	ThresholdPlaces = 2
)

// ProximityParams selects the SMA window and the maximum deviation in percent
type ProximityParams struct {
	Period    int
	Threshold decimal.Decimal
}

// Validate checks the parameter ranges
func (p ProximityParams) Validate() error {
	if p.Period < 1 || p.Period > MaxPeriod {
		return fmt.Errorf("%w: period must be between 1 and %d", ErrInvalidParams, MaxPeriod)
	}
	if p.Threshold.IsNegative() || p.Threshold.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: threshold must be between 0 and 100", ErrInvalidParams)
	}
	if !p.Threshold.Equal(p.Threshold.Round(ThresholdPlaces)) {
		return fmt.Errorf("%w: threshold must have at most %d decimal places", ErrInvalidParams, ThresholdPlaces)
	}
	return nil
}

// SignalParams returns the stored parameter set
func (p ProximityParams) SignalParams() model.SignalParams {
	return model.SignalParams{
		Kind:        model.SignalProximity,
		ShortPeriod: p.Period,
		Threshold:   p.Threshold,
	}
}

// ValidateCrossover checks a short/long period pair
func ValidateCrossover(short, long int) error {
	if short < 1 || long > MaxPeriod || short >= long {
		return fmt.Errorf("%w: need 1 <= short < long <= %d", ErrInvalidParams, MaxPeriod)
	}
	return nil
}

// SignalService computes and persists SMA signals for the universe
type SignalService struct {
	bars      PriceBarStore
	symbols   SymbolStore
	signals   SignalStore
	cache     QueryCache
	publisher events.Publisher
	topic     string
	metrics   *metrics.Metrics
	cfg       config.SignalsConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewSignalService creates a new signal service
func NewSignalService(
	bars PriceBarStore,
	symbols SymbolStore,
	signals SignalStore,
	cache QueryCache,
	publisher events.Publisher,
	topic string,
	m *metrics.Metrics,
	cfg config.SignalsConfig,
	logger *zap.Logger,
) *SignalService {
	return &SignalService{
		bars:      bars,
		symbols:   symbols,
		signals:   signals,
		cache:     cache,
		publisher: publisher,
		topic:     topic,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the clock used to determine today
func (s *SignalService) WithClock(now func() time.Time) *SignalService {
	s.now = now
	return s
}

// NearSMA returns the symbols whose latest close is within the threshold of
// their SMA as of today. Nothing is persisted.
func (s *SignalService) NearSMA(ctx context.Context, p ProximityParams) ([]model.NearSMAResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	today := model.Day(s.now())
	cacheKey := fmt.Sprintf("near-sma:%d:%s:%s", p.Period, p.Threshold.String(), today.Format(model.DateLayout))

	var cached []model.NearSMAResult
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	results, err := s.evaluateProximity(ctx, p, []time.Time{today})
	if err != nil {
		return nil, err
	}

	out := make([]model.NearSMAResult, 0, len(results))
	for _, r := range results {
		out = append(out, model.NearSMAResult{
			ISIN:         r.ISIN,
			Symbol:       r.Symbol,
			Date:         r.SignalDate.Format(model.DateLayout),
			Close:        indicator.Round2(r.ClosePrice),
			SMA:          indicator.Round2(r.SMAValue),
			ProximityPct: indicator.Round2(r.DeviationPct.Decimal),
		})
	}

	if err := s.cache.Set(ctx, cacheKey, out); err != nil {
		s.logger.Warn("Failed to cache near-SMA results", zap.Error(err))
	}

	return out, nil
}

// PersistToday stores today's qualifying symbols and prunes expired rows.
// It returns the number of newly inserted rows.
func (s *SignalService) PersistToday(ctx context.Context, p ProximityParams) (int, error) {
	return s.Backfill(ctx, p, 1)
}

// Backfill evaluates each of the last days calendar days as if it were today
// and stores the hits under that day.
func (s *SignalService) Backfill(ctx context.Context, p ProximityParams, days int) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if days < 1 || days > MaxBackfillDays {
		return 0, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidParams, MaxBackfillDays)
	}

	started := time.Now()
	today := model.Day(s.now())
	dates := make([]time.Time, 0, days)
	for i := days - 1; i >= 0; i-- {
		dates = append(dates, today.AddDate(0, 0, -i))
	}

	results, err := s.evaluateProximity(ctx, p, dates)
	if err != nil {
		return 0, err
	}

	return s.store(ctx, p.SignalParams(), dates, results, started)
}

// PersistCrossovers stores the latest golden and death crosses for a
// short/long period pair. A cross older than the retention window is
// skipped, so symbols without recent bars report nothing.
func (s *SignalService) PersistCrossovers(ctx context.Context, short, long int) (int, error) {
	if err := ValidateCrossover(short, long); err != nil {
		return 0, err
	}

	started := time.Now()
	today := model.Day(s.now())
	cutoff := s.cutoff()
	generated := s.now()

	results, err := s.eachSymbol(ctx, func(sym model.Symbol, emit func(model.SignalResult)) error {
		bars, err := s.bars.SeriesUntil(ctx, sym.ISIN, today, long+1)
		if err != nil {
			return err
		}
		c, ok := indicator.LatestSMACross(bars, short, long)
		if !ok || model.Day(c.Date).Before(cutoff) {
			return nil
		}

		kind := model.SignalGoldenCross
		if c.Direction == indicator.CrossDeath {
			kind = model.SignalDeathCross
		}
		emit(model.SignalResult{
			ISIN:         sym.ISIN,
			Symbol:       sym.Symbol,
			Kind:         kind,
			ShortPeriod:  short,
			LongPeriod:   long,
			ThresholdPct: decimal.Zero,
			SignalDate:   model.Day(c.Date),
			ClosePrice:   c.Close,
			SMAValue:     c.SMA,
			LongSMAValue: c.LongSMA,
			GeneratedAt:  generated,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}

	golden := model.SignalParams{Kind: model.SignalGoldenCross, ShortPeriod: short, LongPeriod: long}
	death := model.SignalParams{Kind: model.SignalDeathCross, ShortPeriod: short, LongPeriod: long}

	// at most one cross per symbol
	inserted := 0
	for _, r := range results {
		ok, err := s.signals.UpsertToday(ctx, r)
		if err != nil {
			return inserted, fmt.Errorf("failed to store signals: %w", err)
		}
		if ok {
			inserted++
		}
	}

	if _, err := s.prune(ctx, death); err != nil {
		return inserted, err
	}
	if err := s.finish(ctx, golden, []time.Time{today}, len(results), inserted, started); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// List returns stored results for a parameter set on a day. When day is nil
// the most recent stored day is used.
func (s *SignalService) List(ctx context.Context, params model.SignalParams, day *time.Time) ([]model.SignalResult, error) {
	if day == nil {
		latest, err := s.signals.LatestDate(ctx, params)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return []model.SignalResult{}, nil
		}
		day = latest
	}

	results, err := s.signals.List(ctx, params, model.Day(*day))
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []model.SignalResult{}
	}
	return results, nil
}

// evaluateProximity returns a result for every symbol and day whose close
// qualifies. Each day sees only bars dated on or before it, so a backfilled
// day matches a live run on that day.
func (s *SignalService) evaluateProximity(ctx context.Context, p ProximityParams, days []time.Time) ([]model.SignalResult, error) {
	latest := days[len(days)-1]
	limit := p.Period + len(days)
	generated := s.now()

	return s.eachSymbol(ctx, func(sym model.Symbol, emit func(model.SignalResult)) error {
		bars, err := s.bars.SeriesUntil(ctx, sym.ISIN, latest, limit)
		if err != nil {
			return err
		}

		for _, day := range days {
			res, ok := indicator.Proximity(indicator.AsOf(bars, day), p.Period, p.Threshold)
			if !ok || !res.Qualifies {
				continue
			}
			emit(model.SignalResult{
				ISIN:         sym.ISIN,
				Symbol:       sym.Symbol,
				Kind:         model.SignalProximity,
				ShortPeriod:  p.Period,
				ThresholdPct: p.Threshold,
				SignalDate:   day,
				ClosePrice:   res.Close,
				SMAValue:     res.SMA,
				DeviationPct: decimal.NewNullDecimal(res.DeviationPct),
				GeneratedAt:  generated,
			})
		}
		return nil
	})
}

// eachSymbol runs fn for every symbol on a bounded worker pool. A symbol
// whose evaluation fails is logged and skipped. Results are ordered by date
// then ticker.
func (s *SignalService) eachSymbol(ctx context.Context, fn func(model.Symbol, func(model.SignalResult)) error) ([]model.SignalResult, error) {
	symbols, err := s.symbols.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}

	var (
		mu      sync.Mutex
		results []model.SignalResult
	)
	emit := func(r model.SignalResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Workers, 1))

	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(sym, emit); err != nil {
				s.logger.Warn("Failed to evaluate symbol",
					zap.String("isin", sym.ISIN),
					zap.String("symbol", sym.Symbol),
					zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].SignalDate.Equal(results[j].SignalDate) {
			return results[i].SignalDate.Before(results[j].SignalDate)
		}
		if results[i].Symbol != results[j].Symbol {
			return results[i].Symbol < results[j].Symbol
		}
		return results[i].Kind < results[j].Kind
	})

	return results, nil
}

// store inserts results, prunes expired rows and announces the new batch
func (s *SignalService) store(ctx context.Context, params model.SignalParams, dates []time.Time, results []model.SignalResult, started time.Time) (int, error) {
	inserted := 0
	if len(results) > 0 {
		n, err := s.signals.InsertBatch(ctx, results)
		if err != nil {
			return 0, fmt.Errorf("failed to store signals: %w", err)
		}
		inserted = n
	}

	if err := s.finish(ctx, params, dates, len(results), inserted, started); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// finish prunes expired rows for params and announces the stored batch
func (s *SignalService) finish(ctx context.Context, params model.SignalParams, dates []time.Time, candidates, inserted int, started time.Time) error {
	pruned, err := s.prune(ctx, params)
	if err != nil {
		return err
	}

	s.metrics.ObserveSignals(string(params.Kind), inserted, time.Since(started))

	dateStrings := make([]string, len(dates))
	for i, d := range dates {
		dateStrings[i] = d.Format(model.DateLayout)
	}

	msg := events.NewMessage(string(params.Kind), events.SignalsEvent{
		Type:     events.TypeSignalsPersisted,
		Params:   params,
		Dates:    dateStrings,
		Inserted: inserted,
		Pruned:   pruned,
		At:       s.now(),
	})
	if err := s.publisher.Publish(ctx, s.topic, msg); err != nil {
		s.logger.Warn("Failed to publish signals event", zap.Error(err))
	}

	s.logger.Info("Signals persisted",
		zap.String("kind", string(params.Kind)),
		zap.Int("short_period", params.ShortPeriod),
		zap.Int("long_period", params.LongPeriod),
		zap.String("threshold", params.Threshold.String()),
		zap.Int("candidates", candidates),
		zap.Int("inserted", inserted),
		zap.Int64("pruned", pruned))

	return nil
}

// cutoff is the oldest signal date kept by pruning
func (s *SignalService) cutoff() time.Time {
	return model.Day(s.now()).AddDate(0, 0, -s.cfg.RetentionDays)
}

func (s *SignalService) prune(ctx context.Context, params model.SignalParams) (int64, error) {
	n, err := s.signals.PruneOlderThan(ctx, params, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("failed to prune signals: %w", err)
	}
	return n, nil
}

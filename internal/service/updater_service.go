package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kavish224/financial-tools/internal/client"
	"github.com/kavish224/financial-tools/internal/config"
	"github.com/kavish224/financial-tools/internal/events"
	"github.com/kavish224/financial-tools/internal/metrics"
	"github.com/kavish224/financial-tools/internal/model"
	"github.com/kavish224/financial-tools/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUpdateRunning is returned when a universe update is already in flight
	ErrUpdateRunning = errors.New("universe update already running")

	// ErrUnknownSymbol is returned for an ISIN or ticker missing from the symbol master
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// RunningError carries the job that blocked a new run. Job is nil when the
// ledger row is not readable yet; Since then falls back to the moment this
// process took its gate.
type RunningError struct {
	Job   *model.UpdateJob
	Since time.Time
}

// RunningSince returns when the blocking run started, or the zero time
func (e *RunningError) RunningSince() time.Time {
	if e.Job != nil {
		return e.Job.StartedAt
	}
	return e.Since
}

func (e *RunningError) Error() string {
	if e.Job == nil {
		if e.Since.IsZero() {
			return ErrUpdateRunning.Error()
		}
		return fmt.Sprintf("%s (since %s)", ErrUpdateRunning, e.Since.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s (job %d since %s)", ErrUpdateRunning, e.Job.ID, e.Job.StartedAt.Format(time.RFC3339))
}

func (e *RunningError) Unwrap() error {
	return ErrUpdateRunning
}

// UpdaterService keeps every symbol's daily series current
type UpdaterService struct {
	bars      PriceBarStore
	symbols   SymbolStore
	jobs      JobStore
	fetcher   CandleFetcher
	cache     QueryCache
	publisher events.Publisher
	topic     string
	metrics   *metrics.Metrics
	cfg       config.UpdaterConfig
	logger    *zap.Logger
	now       func() time.Time

	baseCtx   context.Context
	running   atomic.Bool
	gateSince time.Time
	mu        sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewUpdaterService creates a new updater service. Background runs derive
// their context from baseCtx.
func NewUpdaterService(
	baseCtx context.Context,
	bars PriceBarStore,
	symbols SymbolStore,
	jobs JobStore,
	fetcher CandleFetcher,
	cache QueryCache,
	publisher events.Publisher,
	topic string,
	m *metrics.Metrics,
	cfg config.UpdaterConfig,
	logger *zap.Logger,
) *UpdaterService {
	return &UpdaterService{
		bars:      bars,
		symbols:   symbols,
		jobs:      jobs,
		fetcher:   fetcher,
		cache:     cache,
		publisher: publisher,
		topic:     topic,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		baseCtx:   baseCtx,
	}
}

// WithClock replaces the clock used to determine today
func (s *UpdaterService) WithClock(now func() time.Time) *UpdaterService {
	s.now = now
	return s
}

// UpdateSymbol appends every bar between the symbol's latest stored day and
// today. Failures are reported in the outcome as well as the error.
func (s *UpdaterService) UpdateSymbol(ctx context.Context, isin string, today time.Time) (model.SymbolOutcome, error) {
	out := model.SymbolOutcome{ISIN: isin}

	latest, err := s.bars.LatestDate(ctx, isin)
	if err != nil {
		return s.failed(out, fmt.Errorf("failed to read latest date: %w", err))
	}

	start := s.cfg.EpochDate()
	if latest != nil {
		start = model.Day(*latest).AddDate(0, 0, 1)
	}
	today = model.Day(today)

	if start.After(today) {
		out.Outcome = model.OutcomeUpToDate
		s.metrics.ObserveSymbol(out.Outcome, 0)
		return out, nil
	}

	fetchStart := time.Now()
	candles, err := s.fetcher.FetchDailyCandles(ctx, isin, start, today)
	took := time.Since(fetchStart)
	if errors.Is(err, client.ErrNoData) {
		s.logger.Debug("No new candles",
			zap.String("isin", isin),
			zap.Time("from", start),
			zap.Time("to", today))
		out.Outcome = model.OutcomeNoData
		s.metrics.ObserveSymbol(out.Outcome, took)
		return out, nil
	}
	if err != nil {
		return s.failed(out, err)
	}

	bars := make([]model.PriceBar, 0, len(candles))
	for _, c := range candles {
		bars = append(bars, c.PriceBar(isin))
	}

	var inserted int
	if len(bars) == 1 {
		// the usual daily increment
		var ok bool
		ok, err = s.bars.Append(ctx, bars[0])
		if ok {
			inserted = 1
		}
	} else {
		inserted, err = s.bars.AppendBatch(ctx, bars)
	}
	if err != nil {
		return s.failed(out, fmt.Errorf("failed to store bars: %w", err))
	}

	out.Outcome = model.OutcomeUpdated
	out.Inserted = inserted
	s.metrics.ObserveSymbol(out.Outcome, took)
	s.metrics.AddBars(model.SourceUpstox, inserted)

	s.logger.Debug("Symbol updated",
		zap.String("isin", isin),
		zap.Int("fetched", len(candles)),
		zap.Int("inserted", inserted))

	return out, nil
}

func (s *UpdaterService) failed(out model.SymbolOutcome, err error) (model.SymbolOutcome, error) {
	out.Outcome = model.OutcomeFailed
	out.Error = err.Error()
	s.metrics.ObserveSymbol(out.Outcome, 0)
	s.logger.Warn("Symbol update failed",
		zap.String("isin", out.ISIN),
		zap.Error(err))
	return out, err
}

// UpdateOne updates a single symbol addressed by ISIN or ticker
func (s *UpdaterService) UpdateOne(ctx context.Context, key string) (model.SymbolOutcome, error) {
	key = strings.ToUpper(strings.TrimSpace(key))

	sym, err := s.symbols.GetByISIN(ctx, key)
	if err != nil {
		return model.SymbolOutcome{}, err
	}
	if sym == nil {
		sym, err = s.symbols.ResolveTicker(ctx, key)
		if err != nil {
			return model.SymbolOutcome{}, err
		}
	}
	if sym == nil {
		return model.SymbolOutcome{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, key)
	}

	return s.UpdateSymbol(ctx, sym.ISIN, s.now())
}

// Start launches a universe update in the background and returns its ledger
// row. A *RunningError is returned when another run holds the gate.
func (s *UpdaterService) Start(ctx context.Context) (*model.UpdateJob, error) {
	job, isins, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.setCancel(cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx, job, isins)
	}()

	return job, nil
}

// Run performs a universe update on the calling goroutine
func (s *UpdaterService) Run(ctx context.Context) (*model.UpdateJob, error) {
	job, isins, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.setCancel(cancel)

	return s.run(runCtx, job, isins), nil
}

// Cancel stops the in-flight run of this process. It reports whether a run
// was signalled.
func (s *UpdaterService) Cancel(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return false
	}

	s.logger.Info("Cancelling universe update")
	s.cancel()
	return true
}

// Wait blocks until background runs have returned
func (s *UpdaterService) Wait() {
	s.wg.Wait()
}

// Status returns the most recent universe update from the ledger
func (s *UpdaterService) Status(ctx context.Context) (*model.UpdateJob, error) {
	return s.jobs.Latest(ctx, model.JobKindUniverseUpdate)
}

// History returns the most recent universe updates, newest first
func (s *UpdaterService) History(ctx context.Context, limit int) ([]model.UpdateJob, error) {
	jobs, err := s.jobs.List(ctx, model.JobKindUniverseUpdate, limit)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []model.UpdateJob{}
	}
	return jobs, nil
}

// Job returns a ledger row by id
func (s *UpdaterService) Job(ctx context.Context, id int64) (*model.UpdateJob, error) {
	return s.jobs.Get(ctx, id)
}

// RecoverStale fails running ledger rows that stopped reporting progress
func (s *UpdaterService) RecoverStale(ctx context.Context) (int64, error) {
	n, err := s.jobs.FailStale(ctx, model.JobKindUniverseUpdate, s.now().Add(-s.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("Released stale update jobs", zap.Int64("count", n))
	}
	return n, nil
}

func (s *UpdaterService) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// acquire takes the in-process gate, then the ledger gate
func (s *UpdaterService) acquire(ctx context.Context) (*model.UpdateJob, []string, error) {
	if since, ok := s.tryGate(); !ok {
		return nil, nil, s.runningError(ctx, since)
	}

	acquired := false
	defer func() {
		if !acquired {
			s.running.Store(false)
		}
	}()

	if _, err := s.RecoverStale(ctx); err != nil {
		s.logger.Warn("Failed to release stale jobs", zap.Error(err))
	}

	isins, err := s.symbols.ListISINs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list symbols: %w", err)
	}

	job, err := s.jobs.Create(ctx, model.JobKindUniverseUpdate, len(isins))
	if errors.Is(err, repository.ErrJobAlreadyRunning) {
		return nil, nil, s.runningError(ctx, time.Time{})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create job: %w", err)
	}

	acquired = true
	s.metrics.SetUpdateRunning(true)

	s.logger.Info("Universe update started",
		zap.Int64("job_id", job.ID),
		zap.Int("symbols", len(isins)))

	return job, isins, nil
}

// tryGate takes the in-process gate and stamps when it was taken. On
// failure it returns the holder's stamp.
func (s *UpdaterService) tryGate() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		return s.gateSince, false
	}
	s.gateSince = time.Now()
	return s.gateSince, true
}

func (s *UpdaterService) runningError(ctx context.Context, since time.Time) error {
	job, err := s.jobs.Running(ctx, model.JobKindUniverseUpdate)
	if err != nil {
		s.logger.Warn("Failed to read running job", zap.Error(err))
	}
	return &RunningError{Job: job, Since: since}
}

func (s *UpdaterService) run(ctx context.Context, job *model.UpdateJob, isins []string) *model.UpdateJob {
	defer func() {
		s.setCancel(nil)
		s.metrics.SetUpdateRunning(false)
		s.running.Store(false)
	}()

	// ledger writes must land even after cancellation
	ledgerCtx := context.WithoutCancel(ctx)

	progress := model.JobProgress{Total: len(isins)}
	status := model.JobStatusCompleted
	var errMsg string

	func() {
		defer func() {
			if r := recover(); r != nil {
				status = model.JobStatusFailed
				errMsg = fmt.Sprintf("panic: %v", r)
				s.logger.Error("Universe update panicked",
					zap.Int64("job_id", job.ID),
					zap.Any("panic", r))
			}
		}()
		s.walk(ctx, ledgerCtx, job.ID, isins, &progress)
	}()

	if status == model.JobStatusCompleted && ctx.Err() != nil {
		status = model.JobStatusCancelled
		errMsg = "cancelled"
	}

	if err := s.jobs.Finish(ledgerCtx, job.ID, status, progress, errMsg); err != nil {
		s.logger.Error("Failed to finish job", zap.Int64("job_id", job.ID), zap.Error(err))
	}

	if progress.Inserted > 0 {
		if err := s.cache.Invalidate(ledgerCtx); err != nil {
			s.logger.Warn("Failed to invalidate cache", zap.Error(err))
		}
	}

	finished := s.now()
	s.publish(ledgerCtx, job, status, progress, errMsg, finished)
	s.metrics.ObserveRun(status)

	s.logger.Info("Universe update finished",
		zap.Int64("job_id", job.ID),
		zap.String("status", status),
		zap.Int("processed", progress.Processed),
		zap.Int("updated", progress.Updated),
		zap.Int("up_to_date", progress.UpToDate),
		zap.Int("no_data", progress.NoData),
		zap.Int("failed", progress.Failed),
		zap.Int64("inserted", progress.Inserted))

	done := *job
	done.Status = status
	done.ProcessedSymbols = progress.Processed
	done.UpdatedSymbols = progress.Updated
	done.UpToDateSymbols = progress.UpToDate
	done.NoDataSymbols = progress.NoData
	done.FailedSymbols = progress.Failed
	done.BarsInserted = progress.Inserted
	if errMsg != "" {
		done.Error.SetValid(errMsg)
	}
	done.FinishedAt.SetValid(finished)
	return &done
}

// walk processes the universe batch by batch
func (s *UpdaterService) walk(ctx, ledgerCtx context.Context, jobID int64, isins []string, progress *model.JobProgress) {
	today := model.Day(s.now())
	batchSize := max(s.cfg.BatchSize, 1)
	workers := max(s.cfg.Workers, 1)

	for start := 0; start < len(isins); start += batchSize {
		if ctx.Err() != nil {
			return
		}
		end := min(start+batchSize, len(isins))

		var mu sync.Mutex
		var g errgroup.Group
		g.SetLimit(workers)

		for _, isin := range isins[start:end] {
			isin := isin
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				out := s.safeUpdate(ctx, isin, today)

				mu.Lock()
				progress.Record(out)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if err := s.jobs.UpdateProgress(ledgerCtx, jobID, *progress); err != nil {
			s.logger.Warn("Failed to record progress", zap.Int64("job_id", jobID), zap.Error(err))
		}

		s.logger.Info("Batch processed",
			zap.Int64("job_id", jobID),
			zap.Int("processed", progress.Processed),
			zap.Int("total", progress.Total))

		if end < len(isins) && s.cfg.BatchDelay > 0 {
			timer := time.NewTimer(s.cfg.BatchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// safeUpdate turns a panic in one symbol into a failed outcome
func (s *UpdaterService) safeUpdate(ctx context.Context, isin string, today time.Time) (out model.SymbolOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Symbol update panicked", zap.String("isin", isin), zap.Any("panic", r))
			out = model.SymbolOutcome{ISIN: isin, Outcome: model.OutcomeFailed, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	out, _ = s.UpdateSymbol(ctx, isin, today)
	return out
}

func (s *UpdaterService) publish(ctx context.Context, job *model.UpdateJob, status string, p model.JobProgress, errMsg string, finished time.Time) {
	eventType := events.TypeUpdateCompleted
	switch status {
	case model.JobStatusFailed:
		eventType = events.TypeUpdateFailed
	case model.JobStatusCancelled:
		eventType = events.TypeUpdateCancelled
	}

	msg := events.NewMessage(fmt.Sprintf("job-%d", job.ID), events.JobEvent{
		Type:       eventType,
		JobID:      job.ID,
		Status:     status,
		Progress:   p,
		Error:      errMsg,
		StartedAt:  job.StartedAt,
		FinishedAt: finished,
	})
	if err := s.publisher.Publish(ctx, s.topic, msg); err != nil {
		s.logger.Warn("Failed to publish job event", zap.Int64("job_id", job.ID), zap.Error(err))
	}
}

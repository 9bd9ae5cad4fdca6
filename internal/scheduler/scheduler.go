// Package scheduler runs the daily refresh jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/kavish224/financial-tools/internal/client"
	"github.com/kavish224/financial-tools/internal/config"
	"github.com/kavish224/financial-tools/internal/model"
	"github.com/kavish224/financial-tools/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UniverseUpdater starts a background universe update
type UniverseUpdater interface {
	Start(ctx context.Context) (*model.UpdateJob, error)
}

// BhavcopyImporter imports the exchange archive for a day
type BhavcopyImporter interface {
	DownloadAndImport(ctx context.Context, date time.Time) (*model.ImportSummary, error)
	Today() time.Time
}

// SignalPersister stores the day's proximity signals
type SignalPersister interface {
	PersistToday(ctx context.Context, p service.ProximityParams) (int, error)
}

// Scheduler wraps a cron runner bound to the exchange timezone
type Scheduler struct {
	cron     *cron.Cron
	cfg      config.SchedulerConfig
	ctx      context.Context
	updater  UniverseUpdater
	importer BhavcopyImporter
	signals  SignalPersister
	params   []service.ProximityParams
	logger   *zap.Logger
}

// New creates a scheduler. Jobs run with ctx and stop starting new work once
// it is cancelled.
func New(
	ctx context.Context,
	cfg config.SchedulerConfig,
	updater UniverseUpdater,
	importer BhavcopyImporter,
	signals SignalPersister,
	logger *zap.Logger,
) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Timezone, err)
	}

	params := make([]service.ProximityParams, 0, len(cfg.SignalParams))
	for _, p := range cfg.SignalParams {
		pp := service.ProximityParams{Period: p.Period, Threshold: decimal.NewFromFloat(p.Threshold)}
		if err := pp.Validate(); err != nil {
			return nil, err
		}
		params = append(params, pp)
	}

	cl := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		cfg:      cfg,
		ctx:      ctx,
		updater:  updater,
		importer: importer,
		signals:  signals,
		params:   params,
		logger:   logger,
	}

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"universe_update", cfg.UpdateSpec, s.RunUpdate},
		{"bhavcopy_download", cfg.BhavcopySpec, s.RunBhavcopy},
		{"signal_persist", cfg.SignalSpec, s.RunSignals},
	}
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, job.run); err != nil {
			return nil, fmt.Errorf("invalid schedule for %s: %w", job.name, err)
		}
	}

	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.logger.Info("Scheduler started",
		zap.String("timezone", s.cfg.Timezone),
		zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop stops the scheduler. The returned context is done when running jobs
// have completed.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries lists the registered jobs
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// RunUpdate starts the universe update. A run already in flight is not an
// error.
func (s *Scheduler) RunUpdate() {
	if s.ctx.Err() != nil {
		return
	}

	job, err := s.updater.Start(s.ctx)
	if errors.Is(err, service.ErrUpdateRunning) {
		s.logger.Info("Scheduled update skipped, run in progress", zap.Error(err))
		return
	}
	if err != nil {
		s.logger.Error("Scheduled update failed to start", zap.Error(err))
		return
	}

	s.logger.Info("Scheduled update started", zap.Int64("job_id", job.ID))
}

// RunBhavcopy imports today's exchange archive
func (s *Scheduler) RunBhavcopy() {
	if s.ctx.Err() != nil {
		return
	}

	today := s.importer.Today()
	summary, err := s.importer.DownloadAndImport(s.ctx, today)
	if errors.Is(err, client.ErrArchiveNotFound) {
		s.logger.Info("No bhav-copy published", zap.Time("date", today))
		return
	}
	if err != nil {
		s.logger.Error("Scheduled bhav-copy import failed", zap.Time("date", today), zap.Error(err))
		return
	}

	s.logger.Info("Scheduled bhav-copy imported",
		zap.Time("date", today),
		zap.Int("inserted", summary.Inserted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors))
}

// RunSignals persists proximity signals for every configured parameter set
func (s *Scheduler) RunSignals() {
	for _, p := range s.params {
		if s.ctx.Err() != nil {
			return
		}

		inserted, err := s.signals.PersistToday(s.ctx, p)
		if err != nil {
			s.logger.Error("Scheduled signal run failed",
				zap.Int("period", p.Period),
				zap.String("threshold", p.Threshold.String()),
				zap.Error(err))
			continue
		}

		s.logger.Info("Scheduled signals persisted",
			zap.Int("period", p.Period),
			zap.String("threshold", p.Threshold.String()),
			zap.Int("inserted", inserted))
	}
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

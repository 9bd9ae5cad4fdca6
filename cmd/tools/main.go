package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kavish224/financial-tools/internal/cache"
	"github.com/kavish224/financial-tools/internal/client"
	"github.com/kavish224/financial-tools/internal/config"
	"github.com/kavish224/financial-tools/internal/events"
	"github.com/kavish224/financial-tools/internal/model"
	"github.com/kavish224/financial-tools/internal/repository"
	"github.com/kavish224/financial-tools/internal/service"
	"github.com/kavish224/financial-tools/internal/storage"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// env holds everything a command needs once config and the database are up
type env struct {
	logger   *zap.Logger
	bars     *repository.PriceBarRepository
	symbols  *repository.SymbolRepository
	updater  *service.UpdaterService
	bhavcopy *service.BhavcopyService
	signals  *service.SignalService
	registry *service.SymbolService
}

func main() {
	app := &cli.App{
		Name:  "fintools",
		Usage: "operate the daily bar store and signal tables",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config/config.yaml", Usage: "path to the config file"},
		},
		Commands: []*cli.Command{
			{
				Name:   "update",
				Usage:  "append missing daily bars for every symbol",
				Action: withEnv(runUpdate),
			},
			{
				Name:      "update-symbol",
				Usage:     "append missing daily bars for one ISIN or ticker",
				ArgsUsage: "<isin|ticker>",
				Action:    withEnv(runUpdateSymbol),
			},
			{
				Name:      "import-bhavcopy",
				Usage:     "import a bhav-copy CSV or zip from disk",
				ArgsUsage: "<file>",
				Action:    withEnv(runImportBhavcopy),
			},
			{
				Name:   "download-bhavcopy",
				Usage:  "download and import the exchange bhav-copy for a day",
				Flags:  []cli.Flag{dateFlag()},
				Action: withEnv(runDownloadBhavcopy),
			},
			{
				Name:      "import-symbols",
				Usage:     "load a symbol master CSV",
				ArgsUsage: "<file>",
				Action:    withEnv(runImportSymbols),
			},
			{
				Name:   "persist-signals",
				Usage:  "evaluate and store today's near-SMA signals",
				Flags:  proximityFlags(),
				Action: withEnv(runPersistSignals),
			},
			{
				Name:  "backfill",
				Usage: "evaluate near-SMA signals for the trailing days",
				Flags: append(proximityFlags(),
					&cli.IntFlag{Name: "days", Value: 1, Usage: fmt.Sprintf("trailing days, at most %d", service.MaxBackfillDays)},
				),
				Action: withEnv(runBackfill),
			},
			{
				Name:  "crossovers",
				Usage: "store the latest golden and death crosses",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "short", Value: 50},
					&cli.IntFlag{Name: "long", Value: 200},
				},
				Action: withEnv(runCrossovers),
			},
			{
				Name:   "coverage",
				Usage:  "report how many symbols have history and a bar on a day",
				Flags:  []cli.Flag{dateFlag()},
				Action: withEnv(runCoverage),
			},
		},
	}

	// an interrupted update is recorded as cancelled
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func dateFlag() cli.Flag {
	return &cli.StringFlag{Name: "date", Usage: "trading day as YYYY-MM-DD, defaults to today"}
}

func proximityFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "period", Value: 50},
		&cli.Float64Flag{Name: "threshold", Value: 2.0, Usage: "maximum distance from the SMA in percent"},
	}
}

// withEnv loads config, opens the database and builds the services before
// running fn
func withEnv(fn func(*cli.Context, *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.LoadConfig(c.String("config"))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := createLogger(cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer logger.Sync()

		db, err := repository.Connect(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		e, err := newEnv(c, cfg, logger, db)
		if err != nil {
			return err
		}
		return fn(c, e)
	}
}

func newEnv(c *cli.Context, cfg *config.Config, logger *zap.Logger, db *sqlx.DB) (*env, error) {
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange timezone: %w", err)
	}
	today := func() time.Time { return time.Now().In(loc) }

	archive, err := storage.NewArchive(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive storage: %w", err)
	}

	// the CLI only invalidates cached results, it never serves them
	var queryCache service.QueryCache = cache.Nop{}
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisClient(c.Context, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, cached results will not be invalidated", zap.Error(err))
		} else {
			queryCache = cache.NewRedisCache(rc, cfg.Redis.Prefix, cfg.Signals.CacheTTL, logger)
		}
	}

	bars := repository.NewPriceBarRepository(db, logger)
	symbols := repository.NewSymbolRepository(db, logger)
	signals := repository.NewSignalRepository(db, logger)
	jobs := repository.NewJobRepository(db, logger)

	publisher := events.NopPublisher{}

	return &env{
		logger:  logger,
		bars:    bars,
		symbols: symbols,
		updater: service.NewUpdaterService(c.Context, bars, symbols, jobs,
			client.NewUpstoxClient(cfg.Upstox, logger),
			queryCache, publisher, "", nil, cfg.Updater, logger).WithClock(today),
		bhavcopy: service.NewBhavcopyService(bars, symbols,
			client.NewBhavcopyClient(cfg.Bhavcopy, logger),
			archive, queryCache, publisher, "", nil, cfg.Bhavcopy.BatchSize, logger).WithClock(today),
		signals: service.NewSignalService(bars, symbols, signals,
			queryCache, publisher, "", nil, cfg.Signals, logger).WithClock(today),
		registry: service.NewSymbolService(symbols, queryCache, logger),
	}, nil
}

func runUpdate(c *cli.Context, e *env) error {
	if _, err := e.updater.RecoverStale(c.Context); err != nil {
		return err
	}

	job, err := e.updater.Run(c.Context)
	if err != nil {
		return err
	}

	e.logger.Info("Universe update finished",
		zap.Int64("job_id", job.ID),
		zap.String("status", job.Status),
		zap.Int("total", job.TotalSymbols),
		zap.Int("updated", job.UpdatedSymbols),
		zap.Int("up_to_date", job.UpToDateSymbols),
		zap.Int("no_data", job.NoDataSymbols),
		zap.Int("failed", job.FailedSymbols),
		zap.Int64("bars_inserted", job.BarsInserted))

	if job.Status != model.JobStatusCompleted {
		return fmt.Errorf("update %d ended %s", job.ID, job.Status)
	}
	return nil
}

func runUpdateSymbol(c *cli.Context, e *env) error {
	key := c.Args().First()
	if key == "" {
		return cli.Exit("an ISIN or ticker is required", 2)
	}

	out, err := e.updater.UpdateOne(c.Context, key)
	if err != nil {
		return err
	}

	e.logger.Info("Symbol updated",
		zap.String("isin", out.ISIN),
		zap.String("outcome", out.Outcome),
		zap.Int("inserted", out.Inserted))
	return nil
}

func runImportBhavcopy(c *cli.Context, e *env) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("a bhav-copy file is required", 2)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	summary, err := e.bhavcopy.ImportFile(c.Context, filepath.Base(path), data)
	if err != nil {
		return err
	}

	logImport(e.logger, summary)
	return nil
}

func runDownloadBhavcopy(c *cli.Context, e *env) error {
	date, err := dayArg(c, e.bhavcopy.Today())
	if err != nil {
		return err
	}

	summary, err := e.bhavcopy.DownloadAndImport(c.Context, date)
	if err != nil {
		return err
	}

	logImport(e.logger.With(zap.String("date", date.Format(model.DateLayout))), summary)
	return nil
}

func logImport(logger *zap.Logger, summary *model.ImportSummary) {
	logger.Info("Bhav-copy imported",
		zap.Int("inserted", summary.Inserted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.Int("total_processed", summary.TotalProcessed),
		zap.String("archive_key", summary.ArchiveKey))
}

func runImportSymbols(c *cli.Context, e *env) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("a symbol master CSV is required", 2)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	summary, err := e.registry.Import(c.Context, f)
	if err != nil {
		return err
	}

	e.logger.Info("Symbols imported",
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("renamed", summary.Renamed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors))
	return nil
}

func proximityParams(c *cli.Context) service.ProximityParams {
	return service.ProximityParams{
		Period:    c.Int("period"),
		Threshold: decimal.NewFromFloat(c.Float64("threshold")),
	}
}

func runPersistSignals(c *cli.Context, e *env) error {
	p := proximityParams(c)
	inserted, err := e.signals.PersistToday(c.Context, p)
	if err != nil {
		return err
	}

	e.logger.Info("Signals persisted",
		zap.Int("period", p.Period),
		zap.String("threshold", p.Threshold.String()),
		zap.Int("inserted", inserted))
	return nil
}

func runBackfill(c *cli.Context, e *env) error {
	p := proximityParams(c)
	inserted, err := e.signals.Backfill(c.Context, p, c.Int("days"))
	if err != nil {
		return err
	}

	e.logger.Info("Signals backfilled",
		zap.Int("period", p.Period),
		zap.Int("days", c.Int("days")),
		zap.Int("inserted", inserted))
	return nil
}

func runCrossovers(c *cli.Context, e *env) error {
	inserted, err := e.signals.PersistCrossovers(c.Context, c.Int("short"), c.Int("long"))
	if err != nil {
		return err
	}

	e.logger.Info("Crossover signals persisted",
		zap.Int("short", c.Int("short")),
		zap.Int("long", c.Int("long")),
		zap.Int("inserted", inserted))
	return nil
}

func runCoverage(c *cli.Context, e *env) error {
	date, err := dayArg(c, e.bhavcopy.Today())
	if err != nil {
		return err
	}

	universe, err := e.symbols.ListISINs(c.Context)
	if err != nil {
		return err
	}
	withHistory, err := e.bars.DistinctISINs(c.Context)
	if err != nil {
		return err
	}
	onDay, err := e.bars.ExistingDates(c.Context, universe, date)
	if err != nil {
		return err
	}

	var missing []string
	for _, isin := range universe {
		if !onDay[isin] {
			missing = append(missing, isin)
		}
	}

	e.logger.Info("Coverage",
		zap.String("date", date.Format(model.DateLayout)),
		zap.Int("symbols", len(universe)),
		zap.Int("with_history", len(withHistory)),
		zap.Int("with_bar_on_date", len(onDay)),
		zap.Int("missing", len(missing)))
	for _, isin := range missing {
		e.logger.Debug("Missing bar", zap.String("isin", isin))
	}
	return nil
}

func dayArg(c *cli.Context, fallback time.Time) (time.Time, error) {
	raw := c.String("date")
	if raw == "" {
		return model.Day(fallback), nil
	}
	d, err := model.ParseDay(raw)
	if err != nil {
		return time.Time{}, cli.Exit("date must be YYYY-MM-DD", 2)
	}
	return d, nil
}

func createLogger(level string) (*zap.Logger, error) {
	// Parse log level
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Console output for operators
	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

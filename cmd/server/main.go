package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kavish224/financial-tools/internal/cache"
	"github.com/kavish224/financial-tools/internal/client"
	"github.com/kavish224/financial-tools/internal/config"
	"github.com/kavish224/financial-tools/internal/events"
	"github.com/kavish224/financial-tools/internal/handler"
	"github.com/kavish224/financial-tools/internal/metrics"
	"github.com/kavish224/financial-tools/internal/middleware"
	"github.com/kavish224/financial-tools/internal/repository"
	"github.com/kavish224/financial-tools/internal/scheduler"
	"github.com/kavish224/financial-tools/internal/service"
	"github.com/kavish224/financial-tools/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logger.Fatal("Invalid exchange timezone", zap.String("timezone", cfg.Scheduler.Timezone), zap.Error(err))
	}
	today := func() time.Time { return time.Now().In(loc) }

	// Background work is bound to this context and stops on shutdown
	baseCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Connect to database
	db, err := repository.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Optional Redis cache for read paths
	var queryCache service.QueryCache = cache.Nop{}
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(baseCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
		} else {
			defer redisClient.Close()
			queryCache = cache.NewRedisCache(redisClient, cfg.Redis.Prefix, cfg.Signals.CacheTTL, logger)
			logger.Info("Redis cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	// Optional Kafka event stream
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer := events.NewProducer(cfg.Kafka.BrokerList(), cfg.Kafka.ClientID, logger)
		defer producer.Close()
		publisher = producer
		logger.Info("Kafka events enabled", zap.Strings("brokers", cfg.Kafka.BrokerList()))
	}
	jobsTopic := cfg.Kafka.Topic(events.StreamJobs)
	signalsTopic := cfg.Kafka.Topic(events.StreamSignals)

	archive, err := storage.NewArchive(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize archive storage", zap.Error(err))
	}

	m := metrics.New()

	// Initialize repositories
	priceBarRepo := repository.NewPriceBarRepository(db, logger)
	symbolRepo := repository.NewSymbolRepository(db, logger)
	signalRepo := repository.NewSignalRepository(db, logger)
	jobRepo := repository.NewJobRepository(db, logger)

	// Initialize clients
	upstoxClient := client.NewUpstoxClient(cfg.Upstox, logger)
	bhavcopyClient := client.NewBhavcopyClient(cfg.Bhavcopy, logger)

	// Initialize services
	updaterService := service.NewUpdaterService(
		baseCtx,
		priceBarRepo,
		symbolRepo,
		jobRepo,
		upstoxClient,
		queryCache,
		publisher,
		jobsTopic,
		m,
		cfg.Updater,
		logger,
	).WithClock(today)
	signalService := service.NewSignalService(
		priceBarRepo,
		symbolRepo,
		signalRepo,
		queryCache,
		publisher,
		signalsTopic,
		m,
		cfg.Signals,
		logger,
	).WithClock(today)
	bhavcopyService := service.NewBhavcopyService(
		priceBarRepo,
		symbolRepo,
		bhavcopyClient,
		archive,
		queryCache,
		publisher,
		jobsTopic,
		m,
		cfg.Bhavcopy.BatchSize,
		logger,
	).WithClock(today)
	analyticsService := service.NewAnalyticsService(priceBarRepo, symbolRepo, cfg.Signals.Workers, logger)
	symbolService := service.NewSymbolService(symbolRepo, queryCache, logger)

	// A crashed process can leave a running row behind
	if _, err := updaterService.RecoverStale(baseCtx); err != nil {
		logger.Warn("Failed to release stale update jobs", zap.Error(err))
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(baseCtx, cfg.Scheduler, updaterService, bhavcopyService, signalService, logger)
		if err != nil {
			logger.Fatal("Failed to create scheduler", zap.Error(err))
		}
		sched.Start()
	}

	// Initialize handlers
	checks := map[string]handler.HealthCheck{
		"database": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	healthHandler := handler.NewHealthHandler(version, checks, logger)
	updateHandler := handler.NewUpdateHandler(updaterService, logger)
	bhavcopyHandler := handler.NewBhavcopyHandler(bhavcopyService, logger)
	signalHandler := handler.NewSignalHandler(signalService, logger)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsService, logger)
	symbolHandler := handler.NewSymbolHandler(symbolService, logger)

	// Set up HTTP server with Gin
	router := setupRouter(
		healthHandler,
		updateHandler,
		bhavcopyHandler,
		signalHandler,
		analyticsHandler,
		symbolHandler,
		m,
		redisClient,
		logger,
		cfg,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Stop scheduling, then cancel in-flight runs so they record their state
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-ctx.Done():
			logger.Warn("Scheduled jobs still running at shutdown")
		}
	}
	stopBackground()

	done := make(chan struct{})
	go func() {
		updaterService.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Universe update did not stop before the shutdown deadline")
	}

	logger.Info("Server exited properly")
}

func createLogger(level, format string) (*zap.Logger, error) {
	// Parse log level
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if format != "console" {
		format = "json"
	}

	// Create logger config
	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         format,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func setupRouter(
	healthHandler *handler.HealthHandler,
	updateHandler *handler.UpdateHandler,
	bhavcopyHandler *handler.BhavcopyHandler,
	signalHandler *handler.SignalHandler,
	analyticsHandler *handler.AnalyticsHandler,
	symbolHandler *handler.SymbolHandler,
	m *metrics.Metrics,
	redisClient *redis.Client,
	logger *zap.Logger,
	cfg *config.Config,
) *gin.Engine {
	router := gin.New()

	// Use middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	// Health check
	router.GET("/health", healthHandler.Health)
	router.GET("/health/detailed", healthHandler.Detailed)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Mutating routes require the service key when one is configured
	serviceAuth := middleware.ServiceAuthMiddleware(cfg.ServiceKey, logger)

	// Whole-universe scans are limited per client
	var scanLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if cfg.RateLimit.Enabled {
		if redisClient != nil {
			scanLimit = middleware.RedisRateLimit(redisClient, cfg.Redis.Prefix, cfg.RateLimit.RequestsPerMinute, logger)
		} else {
			scanLimit = middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize))
		}
	}

	// API routes
	v1 := router.Group("/api/v1")
	{
		update := v1.Group("/update")
		{
			update.GET("/status", updateHandler.GetStatus)
			update.GET("/jobs", updateHandler.ListJobs)
			update.GET("/jobs/:id", updateHandler.GetJob)

			updateAuth := update.Group("")
			updateAuth.Use(serviceAuth)
			updateAuth.POST("/all-symbols", updateHandler.StartUniverseUpdate)
			updateAuth.POST("/symbols/:isin", updateHandler.UpdateSymbol)
			updateAuth.DELETE("/current", updateHandler.CancelUpdate)
		}

		bhavcopy := v1.Group("/bhavcopy")
		{
			bhavcopy.Use(serviceAuth)
			bhavcopy.POST("", bhavcopyHandler.Upload)
			bhavcopy.POST("/download", bhavcopyHandler.Download)
		}

		signals := v1.Group("/signals")
		{
			signals.GET("", signalHandler.ListSignals)
			signals.GET("/near-sma", scanLimit, signalHandler.GetNearSMA)

			signalsAuth := signals.Group("")
			signalsAuth.Use(serviceAuth)
			signalsAuth.POST("/near-sma", signalHandler.PersistNearSMA)
			signalsAuth.POST("/near-sma/backfill", signalHandler.Backfill)
			signalsAuth.POST("/crossovers", signalHandler.PersistCrossovers)
		}

		analytics := v1.Group("/analytics")
		{
			analytics.Use(scanLimit)
			analytics.GET("/sma-crossings", analyticsHandler.GetPriceCrossings)
			analytics.GET("/golden-cross", analyticsHandler.GetGoldenCrosses)
		}

		symbols := v1.Group("/symbols")
		{
			symbols.GET("", symbolHandler.GetSymbols)
			symbols.GET("/:key", symbolHandler.GetSymbol)
			symbols.GET("/:key/aliases", symbolHandler.GetAliases)

			symbolsAuth := symbols.Group("")
			symbolsAuth.Use(serviceAuth)
			symbolsAuth.POST("/import", symbolHandler.ImportSymbols)
		}
	}
	return router
}

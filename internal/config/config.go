package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DateLayout is the calendar date format used in config values
const DateLayout = "2006-01-02"

// Config holds all configuration for the service
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Upstox     UpstoxConfig
	Bhavcopy   BhavcopyConfig
	Updater    UpdaterConfig
	Signals    SignalsConfig
	Scheduler  SchedulerConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Storage    StorageConfig
	Logging    LoggingConfig
	RateLimit  RateLimitConfig
	ServiceKey string
}

// ServerConfig holds server specific configuration
type ServerConfig struct {
	Port         string `validate:"required"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database specific configuration
type DatabaseConfig struct {
	Host            string `validate:"required"`
	Port            string `validate:"required"`
	User            string `validate:"required"`
	Password        string
	DBName          string `validate:"required"`
	SSLMode         string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int    `validate:"min=1"`
	MaxIdleConns    int    `validate:"min=0"`
	ConnMaxLifetime time.Duration
}

// UpstoxConfig configures the per-symbol historical candle API
type UpstoxConfig struct {
	BaseURL         string        `validate:"required,url"`
	ExchangeSegment string        `validate:"required"`
	AccessToken     string
	Timeout         time.Duration `validate:"gt=0"`
	MaxRetries      uint64
	RetryInterval   time.Duration `validate:"gt=0"`
}

// BhavcopyConfig configures the end-of-day bulk archive feed
type BhavcopyConfig struct {
	URLTemplate string        `validate:"required"`
	UserAgent   string        `validate:"required"`
	Referer     string
	Timeout     time.Duration `validate:"gt=0"`
	BatchSize   int           `validate:"min=1"`
}

// UpdaterConfig configures the universe walk
type UpdaterConfig struct {
	EpochStart string        `validate:"required,datetime=2006-01-02"`
	BatchSize  int           `validate:"min=1"`
	Workers    int           `validate:"min=1,max=64"`
	BatchDelay time.Duration `validate:"min=0"`
	StaleAfter time.Duration `validate:"gt=0"`
}

// EpochDate returns the first calendar day requested for a symbol with no history
func (c UpdaterConfig) EpochDate() time.Time {
	t, err := time.Parse(DateLayout, c.EpochStart)
	if err != nil {
		return time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// SignalsConfig configures signal evaluation and retention
type SignalsConfig struct {
	Workers       int           `validate:"min=1,max=64"`
	RetentionDays int           `validate:"min=1"`
	CacheTTL      time.Duration `validate:"min=0"`
}

// SignalParamConfig is one proximity parameter set evaluated by the scheduler
type SignalParamConfig struct {
	Period    int     `validate:"min=1,max=500"`
	Threshold float64 `validate:"min=0,max=100"`
}

// SchedulerConfig holds the cron schedule for daily jobs
type SchedulerConfig struct {
	Enabled      bool
	Timezone     string              `validate:"required"`
	UpdateSpec   string              `validate:"required"`
	BhavcopySpec string              `validate:"required"`
	SignalSpec   string              `validate:"required"`
	SignalParams []SignalParamConfig `validate:"dive"`
}

// RedisConfig holds Redis specific configuration
type RedisConfig struct {
	Enabled  bool
	Addr     string `validate:"required_if=Enabled true"`
	Password string
	DB       int
	Prefix   string
}

// KafkaConfig holds Kafka specific configuration
type KafkaConfig struct {
	Enabled  bool
	Brokers  string `validate:"required_if=Enabled true"`
	ClientID string
	Topics   map[string]string
}

// StorageConfig selects where downloaded archives are kept
type StorageConfig struct {
	Type  string `validate:"oneof=local s3"`
	Local LocalStorageConfig
	S3    S3StorageConfig
}

// LocalStorageConfig holds configuration for filesystem archive storage
type LocalStorageConfig struct {
	BasePath string
}

// S3StorageConfig holds configuration for S3 archive storage
type S3StorageConfig struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

// RateLimitConfig limits the whole-universe read endpoints per client
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int `validate:"min=1"`
	BurstSize         int `validate:"min=1"`
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

// BrokerList splits the comma separated broker string
func (c KafkaConfig) BrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Topic returns the configured topic name for an event stream
func (c KafkaConfig) Topic(name string) string {
	if t, ok := c.Topics[strings.ToLower(name)]; ok && t != "" {
		return t
	}
	return name
}

// LoadConfig loads the configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variables override, e.g. DATABASE_PASSWORD
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "60s")
	v.SetDefault("server.idleTimeout", "120s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "financial_tools")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "30m")

	// Upstox defaults
	v.SetDefault("upstox.baseURL", "https://api.upstox.com/v2")
	v.SetDefault("upstox.exchangeSegment", "NSE_EQ")
	v.SetDefault("upstox.timeout", "30s")
	v.SetDefault("upstox.maxRetries", 3)
	v.SetDefault("upstox.retryInterval", "500ms")

	// Bhav-copy defaults
	v.SetDefault("bhavcopy.urlTemplate", "https://nsearchives.nseindia.com/content/cm/BhavCopy_NSE_CM_0_0_0_%s_F_0000.csv.zip")
	v.SetDefault("bhavcopy.userAgent", "Mozilla/5.0")
	v.SetDefault("bhavcopy.referer", "https://www.nseindia.com/")
	v.SetDefault("bhavcopy.timeout", "20s")
	v.SetDefault("bhavcopy.batchSize", 1000)

	// Updater defaults
	v.SetDefault("updater.epochStart", "2019-01-01")
	v.SetDefault("updater.batchSize", 50)
	v.SetDefault("updater.workers", 1)
	v.SetDefault("updater.batchDelay", "1s")
	v.SetDefault("updater.staleAfter", "15m")

	// Signal defaults
	v.SetDefault("signals.workers", 8)
	v.SetDefault("signals.retentionDays", 7)
	v.SetDefault("signals.cacheTTL", "10m")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.timezone", "Asia/Kolkata")
	v.SetDefault("scheduler.updateSpec", "30 18 * * 1-5")
	v.SetDefault("scheduler.bhavcopySpec", "0 19 * * 1-5")
	v.SetDefault("scheduler.signalSpec", "30 19 * * 1-5")
	v.SetDefault("scheduler.signalParams", []map[string]interface{}{
		{"period": 50, "threshold": 2.0},
		{"period": 200, "threshold": 2.0},
	})

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "fintools")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.clientID", "financial-tools")
	v.SetDefault("kafka.topics.jobs", "market-data-jobs")
	v.SetDefault("kafka.topics.signals", "sma-signals")

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.basePath", "data/archives")
	v.SetDefault("storage.s3.region", "ap-south-1")

	// Rate limit defaults
	v.SetDefault("rateLimit.enabled", false)
	v.SetDefault("rateLimit.requestsPerMinute", 30)
	v.SetDefault("rateLimit.burstSize", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

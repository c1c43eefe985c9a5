package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:",squash"`
	Redis     RedisConfig     `mapstructure:",squash"`
	Scheduler SchedulerConfig `mapstructure:",squash"`
	Logging   LoggingConfig   `mapstructure:",squash"`
	Business  BusinessConfig  `mapstructure:",squash"`
	Health    HealthConfig    `mapstructure:",squash"`
}

type ServerConfig struct {
	Port         string `mapstructure:"SERVER_PORT"`
	Host         string `mapstructure:"SERVER_HOST"`
	Env          string `mapstructure:"ENV"`
	ReadTimeout  string `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout string `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"DATABASE_URL"`
	Host     string `mapstructure:"DATABASE_HOST"`
	Port     string `mapstructure:"DATABASE_PORT"`
	Name     string `mapstructure:"DATABASE_NAME"`
	User     string `mapstructure:"DATABASE_USER"`
	Password string `mapstructure:"DATABASE_PASSWORD"`
	SSLMode  string `mapstructure:"DATABASE_SSLMODE"`

	MaxOpenConns    int    `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime string `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`

	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath string `mapstructure:"SQLITE_PATH"`
}

// DSN returns DATABASE_URL when set, otherwise builds one from the parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     d.Name,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	URL      string `mapstructure:"REDIS_URL"`
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

// Addr is host:port for the redis client.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type SchedulerConfig struct {
	// AccrualSchedule is a cron expression for the fine accrual job.
	AccrualSchedule string `mapstructure:"SCHEDULER_ACCRUAL_CRON"`
	Timezone        string `mapstructure:"SCHEDULER_TIMEZONE"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type BusinessConfig struct {
	AllowOverpayment    bool   `mapstructure:"ALLOW_OVERPAYMENT"`
	DisbursementAccount string `mapstructure:"DISBURSEMENT_ACCOUNT"`
	ProductsFile        string `mapstructure:"PRODUCTS_FILE"`
	StorageBackend      string `mapstructure:"STORAGE_BACKEND"`
	LockBackend         string `mapstructure:"LOCK_BACKEND"`
	LockTimeout         string `mapstructure:"LOCK_TIMEOUT"`
	CommitRetries       int    `mapstructure:"COMMIT_RETRIES"`
	StatementCacheTTL   string `mapstructure:"STATEMENT_CACHE_TTL"`
}

type HealthConfig struct {
	Timeout string `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Load reads configuration from environment variables and files
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Read from environment variables
	v.AutomaticEnv()

	// Try to read from .env file (optional)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./deployments")

	// Don't fail if .env file doesn't exist
	_ = v.ReadInConfig()

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("ENV", "development")
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "loan_ledger")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("SQLITE_PATH", "loan_ledger.db")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SCHEDULER_ACCRUAL_CRON", "0 1 * * *")
	v.SetDefault("SCHEDULER_TIMEZONE", "UTC")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ALLOW_OVERPAYMENT", true)
	v.SetDefault("DISBURSEMENT_ACCOUNT", "bank")
	v.SetDefault("PRODUCTS_FILE", "deployments/products.yaml")
	v.SetDefault("STORAGE_BACKEND", BackendMemory)
	v.SetDefault("LOCK_BACKEND", BackendMemory)
	v.SetDefault("LOCK_TIMEOUT", "5s")
	v.SetDefault("COMMIT_RETRIES", 3)
	v.SetDefault("STATEMENT_CACHE_TTL", "0s")
	v.SetDefault("HEALTH_CHECK_TIMEOUT", "5s")
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	switch c.Business.StorageBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.URL == "" && c.Database.Host == "" {
			return fmt.Errorf("DATABASE_URL or DATABASE_HOST is required for the postgres backend")
		}
	case BackendSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of %q, %q, %q", BackendMemory, BackendPostgres, BackendSQLite)
	}

	switch c.Business.LockBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q", BackendMemory, BackendRedis)
	}

	if c.Business.DisbursementAccount == "" {
		return fmt.Errorf("DISBURSEMENT_ACCOUNT is required")
	}

	if c.Business.CommitRetries < 1 {
		return fmt.Errorf("COMMIT_RETRIES must be at least 1")
	}

	durations := map[string]string{
		"SERVER_READ_TIMEOUT":        c.Server.ReadTimeout,
		"SERVER_WRITE_TIMEOUT":       c.Server.WriteTimeout,
		"DATABASE_CONN_MAX_LIFETIME": c.Database.ConnMaxLifetime,
		"LOCK_TIMEOUT":               c.Business.LockTimeout,
		"STATEMENT_CACHE_TTL":        c.Business.StatementCacheTTL,
		"HEALTH_CHECK_TIMEOUT":       c.Health.Timeout,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", name, err)
		}
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid location: %w", err)
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

func (c *Config) GetReadTimeout() time.Duration {
	return mustDuration(c.Server.ReadTimeout)
}

func (c *Config) GetWriteTimeout() time.Duration {
	return mustDuration(c.Server.WriteTimeout)
}

func (c *Config) GetConnMaxLifetime() time.Duration {
	return mustDuration(c.Database.ConnMaxLifetime)
}

func (c *Config) GetLockTimeout() time.Duration {
	return mustDuration(c.Business.LockTimeout)
}

// GetStatementCacheTTL returns zero when statement caching is disabled.
func (c *Config) GetStatementCacheTTL() time.Duration {
	return mustDuration(c.Business.StatementCacheTTL)
}

// GetHealthTimeout returns the health check timeout as duration
func (c *Config) GetHealthTimeout() time.Duration {
	return mustDuration(c.Health.Timeout)
}

// GetSchedulerLocation returns the time zone the accrual job runs in.
func (c *Config) GetSchedulerLocation() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// mustDuration is only called on values Validate has already parsed.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

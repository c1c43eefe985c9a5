// Package app assembles the loan service and its dependencies from
// configuration. Both the API server and the scheduler start from here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/segyhp/loan-ledger/internal/cache"
	"github.com/segyhp/loan-ledger/internal/catalog"
	"github.com/segyhp/loan-ledger/internal/config"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/internal/lock"
	"github.com/segyhp/loan-ledger/internal/repository"
	"github.com/segyhp/loan-ledger/internal/repository/memory"
	"github.com/segyhp/loan-ledger/internal/repository/sqlstore"
	"github.com/segyhp/loan-ledger/internal/service"
	"github.com/sirupsen/logrus"
)

// lockTTL bounds how long a crashed instance can hold a loan's Redis lock.
const lockTTL = 30 * time.Second

// App holds the wired service. DB and Redis are nil when the configuration
// does not need them.
type App struct {
	Service  *service.LoanService
	Registry *catalog.Registry
	Store    repository.Store
	DB       *sqlx.DB
	Redis    *redis.Client
}

// New builds an App from cfg. The caller owns the result and must Close it.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	registry := catalog.NewRegistry()
	count, err := registry.LoadFile(cfg.Business.ProductsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	log.WithFields(logrus.Fields{
		"file":     cfg.Business.ProductsFile,
		"products": count,
	}).Info("product catalog loaded")

	a := &App{Registry: registry}

	if err := a.initStore(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	log.WithField("backend", cfg.Business.StorageBackend).Info("storage ready")

	opts := []service.Option{service.WithLogger(log)}

	if cfg.Business.LockBackend == config.BackendRedis || cfg.GetStatementCacheTTL() > 0 {
		client, err := initRedis(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
	}
	if cfg.Business.LockBackend == config.BackendRedis {
		opts = append(opts, service.WithLocker(lock.NewRedisLocker(a.Redis, lockTTL, log)))
	}
	if ttl := cfg.GetStatementCacheTTL(); ttl > 0 {
		opts = append(opts, service.WithStatementCache(cache.NewRedisStatementCache(a.Redis, ttl)))
	}

	svc, err := service.NewLoanService(a.Store, registry, domain.DefaultAccountCatalog(), service.SettingsFromConfig(cfg), opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create loan service: %w", err)
	}
	a.Service = svc

	return a, nil
}

func (a *App) initStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Business.StorageBackend {
	case config.BackendPostgres:
		db, err := sqlx.Connect(sqlstore.DriverPostgres, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.GetConnMaxLifetime())
		a.DB = db
	case config.BackendSQLite:
		db, err := sqlx.Connect(sqlstore.DriverSQLite, cfg.Database.SQLitePath+"?_busy_timeout=5000&_foreign_keys=on")
		if err != nil {
			return fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
		a.DB = db
	default:
		a.Store = memory.NewStore()
		return nil
	}

	store, err := sqlstore.New(a.DB)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	a.Store = store
	return nil
}

func initRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}), nil
}

// Close releases the store and any external connections.
func (a *App) Close() {
	// The SQL store closes the database it wraps.
	if a.Store != nil {
		_ = a.Store.Close()
	} else if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}

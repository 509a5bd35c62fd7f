package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medinet/medinet/internal/api"
	"github.com/medinet/medinet/internal/availability"
	"github.com/medinet/medinet/internal/booking"
	"github.com/medinet/medinet/internal/config"
	"github.com/medinet/medinet/internal/db"
	redisclient "github.com/medinet/medinet/internal/redis"
)

// app holds the wired core for one storage driver.
type app struct {
	store   *availability.Store
	booking *booking.Reconciler
	pool    *pgxpool.Pool
	checks  []api.HealthCheck
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func connectPostgres(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolConfig{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
}

func buildApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}

	var (
		slotRepo availability.Repository
		apptRepo booking.Repository
		tx       db.Transactor
	)
	switch cfg.StorageDriver {
	case config.DriverMemory:
		memTx := db.NewMemoryTransactor()
		slotRepo = availability.NewMemoryRepository(memTx)
		apptRepo = booking.NewMemoryRepository(memTx)
		tx = memTx
		logger.Warn().Msg("using in-memory storage, data is lost on exit")
	default:
		pool, err := connectPostgres(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		a.checks = append(a.checks, api.PostgresCheck(pool))
		logger.Info().Msg("connected to Postgres")

		slotRepo = availability.NewPgRepository(pool)
		apptRepo = booking.NewPgRepository(pool)
		tx = db.NewPgTransactor(pool)
	}

	var locker redisclient.Locker = redisclient.NopLocker{}
	if cfg.LockEnabled {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		})
		a.checks = append(a.checks, api.RedisCheck(rdb))
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWaitTimeout, logger.With().Str("component", "slot-lock").Logger())
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	usage := booking.NewSlotUsage(apptRepo)
	a.store = availability.NewStore(slotRepo, tx, usage,
		availability.WithMaxBulkDays(cfg.MaxBulkDays),
		availability.WithLogger(logger.With().Str("component", "availability").Logger()),
	)
	a.booking = booking.NewReconciler(a.store, apptRepo, tx, locker,
		booking.WithLocation(cfg.Location),
		booking.WithLogger(logger.With().Str("component", "booking").Logger()),
	)
	return a, nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/equiprent/equiprent/cmd/equiprent/cli"
	"github.com/equiprent/equiprent/internal/app"
	"github.com/equiprent/equiprent/internal/catalog"
	"github.com/equiprent/equiprent/internal/observability"
	"github.com/equiprent/equiprent/internal/platform/cache"
	"github.com/equiprent/equiprent/internal/platform/db"
	"github.com/equiprent/equiprent/internal/rentals"
	"github.com/equiprent/equiprent/internal/shared"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	inv, err := cli.Parse(os.Args[1:])
	if err != nil {
		slog.Default().Error("parse arguments", slog.Any("error", err))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	idempotencyStore := shared.NewIdempotencyStore(pool)
	maintenance := cli.NewMaintenanceCLI(pool, idempotencyStore)

	switch inv.Command {
	case cli.CommandMigrate:
		if err := maintenance.Migrate(ctx); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("schema applied")
		return
	case cli.CommandPurgeKeys:
		n, err := maintenance.PurgeKeys(ctx, inv.Retention)
		if err != nil {
			logger.Error("purge idempotency keys", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("idempotency keys purged", slog.Int64("deleted", n), slog.Duration("retention", inv.Retention))
		return
	}

	if cfg.AppAutoMigrate {
		if err := maintenance.Migrate(ctx); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	if err := serve(ctx, cfg, logger, pool, idempotencyStore); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool, keys *shared.IdempotencyStore) error {
	if !cfg.CachingEnabled() {
		logger.Info("REDIS_ADDR empty, read cache disabled")
	}
	redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		// Listings fall back to PostgreSQL.
		logger.Warn("redis unavailable, read cache disabled", slog.Any("error", err))
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}
	readCache := cache.NewVersioned(redisClient, "equiprent:listings", cfg.CacheTTL)

	locale, err := cfg.Locale()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	catalogService := catalog.NewService(catalog.NewRepository(pool), readCache, auditLogger, catalog.ServiceConfig{Logger: logger})
	rentalService := rentals.NewService(rentals.NewRepository(pool), rentals.Dependencies{
		Cache:       readCache,
		Audit:       auditLogger,
		Idempotency: keys,
		Metrics:     metrics.Engine(),
		Logger:      logger,
	}, rentals.ServiceConfig{
		RevertRemovedOnUpdate: cfg.RevertRemovedOnUpdate,
		Locale:                locale,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		CatalogHandler: catalog.NewHandler(logger, catalogService),
		RentalHandler:  rentals.NewHandler(logger, rentalService),
		Metrics:        metrics,
		DB:             pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Bool("cache", redisClient != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

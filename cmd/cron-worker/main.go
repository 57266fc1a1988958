package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/cocledger-backend/internal/coc"
	"github.com/angelmondragon/cocledger-backend/internal/cocsync"
	"github.com/angelmondragon/cocledger-backend/internal/cron"
	"github.com/angelmondragon/cocledger-backend/pkg/config"
	"github.com/angelmondragon/cocledger-backend/pkg/db"
	"github.com/angelmondragon/cocledger-backend/pkg/instance"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
	"github.com/angelmondragon/cocledger-backend/pkg/metrics"
	"github.com/angelmondragon/cocledger-backend/pkg/migrate"
	"github.com/angelmondragon/cocledger-backend/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ledger, err := coc.NewService(coc.ServiceParams{
		Tx:            dbClient,
		Repo:          coc.NewRepository(dbClient.DB()),
		Logger:        logg,
		Metrics:       metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
		CommitRetries: cfg.Allocation.CommitRetries,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create coc ledger", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, ledger, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"once":        *once,
		"instance":    instance.ID(),
	})
	logg.Info(ctx, "starting cron worker")

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, ledger coc.Service, redisClient *redis.Client) (*cron.Registry, error) {
	registry := cron.NewRegistry()

	if cfg.Sync.FeedURL != "" {
		client, err := cocsync.NewClient(cfg.Sync.FeedURL,
			cocsync.WithToken(cfg.Sync.FeedToken),
			cocsync.WithTimeout(cfg.Sync.Timeout),
		)
		if err != nil {
			return nil, fmt.Errorf("coc feed client: %w", err)
		}
		syncer, err := cocsync.NewSyncer(cocsync.SyncerParams{
			Feed:         client,
			Ledger:       ledger,
			Cursor:       redisClient,
			Logger:       logg,
			Metrics:      metrics.NewSyncMetrics(prometheus.DefaultRegisterer),
			LookbackDays: cfg.Sync.LookbackDays,
		})
		if err != nil {
			return nil, fmt.Errorf("coc syncer: %w", err)
		}
		job, err := cron.NewCOCSyncJob(cron.COCSyncJobParams{Logger: logg, Syncer: syncer})
		if err != nil {
			return nil, err
		}
		registry.Register(job)
	} else {
		logg.Warn(context.Background(), "coc feed url not configured, receipt sync disabled")
	}

	audit, err := cron.NewLedgerAuditJob(cron.LedgerAuditJobParams{Logger: logg, Ledger: ledger})
	if err != nil {
		return nil, err
	}
	registry.Register(audit)
	return registry, nil
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}

// The worker binary runs the background reconciliation loop: it sweeps
// mobile-money payments stuck in PENDING past the SLA window, queries the
// gateway for their final status and pushes the answer through the same
// callback path the webhook uses.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shulehub/shule-fees-hub/config"
	"github.com/shulehub/shule-fees-hub/internal/application/command"
	"github.com/shulehub/shule-fees-hub/internal/application/eventhandler"
	"github.com/shulehub/shule-fees-hub/internal/application/query"
	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
	"github.com/shulehub/shule-fees-hub/internal/infrastructure/external/daraja"
	"github.com/shulehub/shule-fees-hub/internal/infrastructure/messaging"
	"github.com/shulehub/shule-fees-hub/internal/infrastructure/persistence/postgres"
	"github.com/shulehub/shule-fees-hub/internal/infrastructure/persistence/redis"
	"github.com/shulehub/shule-fees-hub/internal/infrastructure/scheduler"
	"github.com/shulehub/shule-fees-hub/internal/infrastructure/scheduler/jobs"
	"github.com/shulehub/shule-fees-hub/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.Observability.LogCaller,
	})
	log.Info("starting worker",
		logger.String("app", cfg.App.Name),
		logger.String("version", cfg.App.Version),
		logger.String("environment", string(cfg.App.Environment)),
	)

	if !cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler is disabled, nothing to run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────────
	// PostgreSQL
	// ─────────────────────────────────────────────────────────────────────────
	conn, err := connectPostgres(ctx, cfg)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer conn.Close()

	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	ledger := postgres.NewLedgerStore(conn)
	payments := postgres.NewPaymentRepository(conn)
	transactions := postgres.NewGatewayRepository(conn)
	obligations := postgres.NewObligationRepository(conn)
	credits := postgres.NewCreditRepository(conn)

	// ─────────────────────────────────────────────────────────────────────────
	// Redis (optional, for cache invalidation on resolved payments)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		cache        *redis.Cache
		balanceCache query.BalanceCache
	)
	if !cfg.Redis.Disabled {
		cache, err = redis.NewCache(redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			log.Warn("redis unavailable, cache invalidation disabled", logger.Err(err))
		} else {
			defer cache.Close()
			balanceCache = redis.NewBalanceCache(cache)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Mobile-money gateway
	// ─────────────────────────────────────────────────────────────────────────
	darajaCfg := daraja.Config{
		BaseURL:         cfg.Gateway.BaseURL,
		ConsumerKey:     cfg.Gateway.ConsumerKey,
		ConsumerSecret:  cfg.Gateway.ConsumerSecret,
		ShortCode:       cfg.Gateway.ShortCode,
		Passkey:         cfg.Gateway.Passkey,
		CallbackURL:     cfg.Gateway.CallbackURL,
		TransactionType: cfg.Gateway.TransactionType,
		Timeout:         cfg.Gateway.RequestTimeout,
	}
	if err := darajaCfg.Validate(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	processor := daraja.NewClient(darajaCfg, log)

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus and resolution pipeline
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := buildEventBus(cache, log)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer bus.Close()

	onCompleted := eventhandler.NewOnPaymentCompleted(eventhandler.NewLogNotifier(log), balanceCache, log)
	if err := bus.Subscribe(shared.EventPaymentCompleted, onCompleted.Handle); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	allocator := command.NewAllocator(log)
	handleCallback := command.NewHandleCallbackHandler(ledger, allocator, bus, log)
	resolvePending := command.NewResolvePendingHandler(processor, handleCallback, log)
	failAbandoned := command.NewFailAbandonedHandler(ledger, bus, log)

	// ─────────────────────────────────────────────────────────────────────────
	// Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:     log,
		Timezone:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
	})

	reconcile := jobs.NewReconcilePending(payments, transactions, resolvePending, failAbandoned, cfg.Scheduler.PendingSLAWindow, log)
	if err := sched.Register(reconcile, scheduler.NewIntervalSchedule(cfg.Scheduler.ReconcileInterval)); err != nil {
		return fmt.Errorf("register %s: %w", reconcile.Name(), err)
	}

	if balanceCache != nil {
		rebuildCron, err := scheduler.ParseCron(cfg.Scheduler.RebuildCron)
		if err != nil {
			return fmt.Errorf("SCHEDULER_REBUILD_CRON: %w", err)
		}
		balances := query.NewGetStudentBalanceHandler(obligations, credits, balanceCache, cfg.Redis.BalanceCacheTTL, log)
		rebuild := jobs.NewRebuildBalances(obligations, balances, log)
		if err := sched.Register(rebuild, rebuildCron); err != nil {
			return fmt.Errorf("register %s: %w", rebuild.Name(), err)
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start: %w", err)
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	if err := sched.Stop(); err != nil {
		return fmt.Errorf("scheduler stop: %w", err)
	}
	log.Info("worker stopped")
	return nil
}

func connectPostgres(ctx context.Context, cfg *config.Config) (*postgres.Connection, error) {
	if cfg.Database.URL != "" {
		return postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	}
	return postgres.NewConnection(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
}

func buildEventBus(cache *redis.Cache, log *logger.Logger) (messaging.EventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log

	if cache == nil {
		return messaging.NewInMemoryEventBus(local), nil
	}

	hostname, _ := os.Hostname()
	return messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         cache.Client(),
		InstanceID:     fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		LocalBusConfig: local,
		Logger:         log,
	})
}

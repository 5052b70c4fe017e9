// The server binary runs the fee ledger REST API: payment intake, the
// gateway webhook, balance queries and fee administration.
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
	httpapi "github.com/shulehub/shule-fees-hub/internal/interface/http"
	"github.com/shulehub/shule-fees-hub/internal/interface/http/handlers"
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
	log.Info("starting server",
		logger.String("app", cfg.App.Name),
		logger.String("version", cfg.App.Version),
		logger.String("environment", string(cfg.App.Environment)),
	)

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
	templates := postgres.NewTemplateRepository(conn)
	obligations := postgres.NewObligationRepository(conn)
	credits := postgres.NewCreditRepository(conn)
	payments := postgres.NewPaymentRepository(conn)
	transactions := postgres.NewGatewayRepository(conn)

	// ─────────────────────────────────────────────────────────────────────────
	// Redis (optional read-side cache)
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
			// The database remains the source of truth; degraded reads beat
			// a refused boot.
			log.Warn("redis unavailable, balance reads fall through to postgres", logger.Err(err))
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
		if cfg.IsProduction() {
			return fmt.Errorf("gateway config: %w", err)
		}
		log.Warn("gateway not fully configured, mobile money initiation will fail", logger.Err(err))
	}
	processor := daraja.NewClient(darajaCfg, log)

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus
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

	// ─────────────────────────────────────────────────────────────────────────
	// Application handlers
	// ─────────────────────────────────────────────────────────────────────────
	allocator := command.NewAllocator(log)
	createPayment := command.NewCreatePaymentHandler(ledger, allocator, processor, bus, log)
	handleCallback := command.NewHandleCallbackHandler(ledger, allocator, bus, log)
	resolvePending := command.NewResolvePendingHandler(processor, handleCallback, log)
	createTemplate := command.NewCreateTemplateHandler(ledger, log)
	assignObligation := command.NewAssignObligationHandler(ledger, bus, log)

	getBalance := query.NewGetStudentBalanceHandler(obligations, credits, balanceCache, cfg.Redis.BalanceCacheTTL, log)
	getClassBalances := query.NewGetClassBalancesHandler(obligations)
	getTermCollections := query.NewGetTermCollectionsHandler(obligations)

	// ─────────────────────────────────────────────────────────────────────────
	// HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("postgres", handlers.NewPingCheck(conn))
	if cache != nil {
		health.AddCheck("redis", handlers.NewPingCheck(cache))
	}

	serverCfg := httpapi.DefaultConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	serverCfg.IdleTimeout = cfg.Server.IdleTimeout
	serverCfg.RequestTimeout = cfg.Server.RequestTimeout
	serverCfg.MaxBodyBytes = cfg.Server.MaxBodyBytes
	serverCfg.EnableCORS = cfg.Server.EnableCORS
	serverCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	serverCfg.RateLimitPerMinute = cfg.Server.RateLimitPerMinute
	serverCfg.APIKeyHeader = cfg.Server.APIKeyHeader
	serverCfg.APIKeys = cfg.Server.APIKeys

	server := httpapi.NewServer(serverCfg, httpapi.Dependencies{
		CreatePayment:      createPayment,
		HandleCallback:     handleCallback,
		ResolvePending:     resolvePending,
		CreateTemplate:     createTemplate,
		AssignObligation:   assignObligation,
		GetStudentBalance:  getBalance,
		GetClassBalances:   getClassBalances,
		GetTermCollections: getTermCollections,
		Payments:           payments,
		Templates:          templates,
		Obligations:        obligations,
		Credits:            credits,
		Transactions:       transactions,
		Logger:             log,
		HealthChecker:      health,
	})

	errCh := server.StartAsync()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
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

// buildEventBus picks a Redis-backed bus when Redis is up so multiple
// instances see each other's events, and falls back to in-process delivery.
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

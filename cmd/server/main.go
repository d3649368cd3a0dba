package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/textress/backend/internal/bootstrap"
	"github.com/textress/backend/internal/domain/shared"
	"github.com/textress/backend/internal/infrastructure/cache"
	"github.com/textress/backend/internal/infrastructure/config"
	"github.com/textress/backend/internal/infrastructure/event"
	"github.com/textress/backend/internal/infrastructure/logger"
	"github.com/textress/backend/internal/infrastructure/migration"
	"github.com/textress/backend/internal/infrastructure/notification"
	"github.com/textress/backend/internal/infrastructure/persistence"
	"github.com/textress/backend/internal/infrastructure/scheduler"
	"github.com/textress/backend/internal/infrastructure/telemetry"
	"github.com/textress/backend/internal/interfaces/http/handler"
	"github.com/textress/backend/internal/interfaces/http/middleware"
	"github.com/textress/backend/internal/interfaces/http/router"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.FromAppConfig(cfg.App, cfg.Log))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting Textress billing",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	tracer, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}
	meters, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := meters.Shutdown(shutdownCtx); err != nil {
			log.Warn("Meter provider shutdown failed", zap.Error(err))
		}
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Tracer provider shutdown failed", zap.Error(err))
		}
	}()

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), cfg.Telemetry.DBSlowQueryThresh)
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := migrate(ctx, db, log); err != nil {
		return err
	}
	log.Info("Database ready", zap.String("driver", db.Driver))

	dbSystem := "postgresql"
	if db.Driver == config.DriverSQLite {
		dbSystem = "sqlite"
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBSystem:        dbSystem,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log); err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Billing.Locker == config.LockerRedis {
		if redisClient, err = cache.NewRedisClient(ctx, cfg.Redis); err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
	}
	locker, err := cache.NewTenantLocker(cfg.Billing, redisClient, log)
	if err != nil {
		return err
	}

	gateway, err := bootstrap.NewGateway(cfg.App, cfg.Payment, log)
	if err != nil {
		return err
	}
	recorder, err := telemetry.NewBillingMetrics(telemetry.BillingMetricsConfig{
		Meter:  meters.Meter("textress/billing"),
		Logger: log,
	})
	if err != nil {
		return err
	}

	billing := bootstrap.NewBilling(db.DB, cfg.Billing, bootstrap.Deps{
		Locker:   locker,
		Gateway:  gateway,
		Notifier: notification.NewEmailNotifier(cfg.Email, log),
		Recorder: recorder,
	}, log)

	if err := billing.Types.Warm(ctx); err != nil {
		return err
	}
	if cfg.Billing.SeedPricing {
		seeded, err := billing.Pricing.SeedDefaults(ctx)
		if err != nil {
			return err
		}
		if seeded {
			log.Info("Seeded default pricing table")
		}
	}

	billingScheduler, err := scheduler.NewBillingScheduler(scheduler.ConfigFrom(cfg.Billing), billing.Tick, log)
	if err != nil {
		return err
	}

	var dedup shared.IdempotencyStore
	if redisClient != nil {
		dedup = cache.NewRedisDeliveryDedup(redisClient)
	} else {
		dedup = cache.NewInMemoryDeliveryDedup()
	}
	reconcileCfg := scheduler.DefaultReconcileConfig()
	if cfg.Billing.ReconcileDelay > 0 {
		reconcileCfg.Delay = cfg.Billing.ReconcileDelay
	}
	reconciler, err := scheduler.NewReconcileScheduler(reconcileCfg, billing.Usage, dedup, log)
	if err != nil {
		return err
	}

	engine, err := router.NewEngine(router.EngineConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		HTTP:        cfg.HTTP,
		Tracing:     cfg.Telemetry.Enabled,
		Meter:       meters.Meter("textress/http"),
		Logger:      log,
	})
	if err != nil {
		return err
	}
	checks := map[string]handler.Pinger{"database": db}
	if redisClient != nil {
		checks["redis"] = redisPinger{redisClient}
	}
	router.NewRouter(engine, router.WithTenantMiddleware(
		middleware.TenantMiddlewareWithConfig(middleware.TenantMiddlewareConfig{
			SkipPaths: middleware.DefaultTenantConfig().SkipPaths,
			Validator: router.TenantRepositoryValidator{Repo: billing.Tenants},
			Logger:    log,
		}))).
		Public(handler.NewSystemHandler(version, checks)).
		Register(handler.NewPricingHandler(billing.Pricing)).
		Register(handler.NewAccountHandler(billing.Ledger, billing.Statements, billing.Costs, billing.Recharge, billing.Accounts)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := billingScheduler.Start(gctx); err != nil {
		return err
	}
	if err := reconciler.Start(gctx); err != nil {
		return err
	}

	if cfg.Kafka.Enabled {
		consumer, err := event.NewConsumer(cfg.Kafka, log)
		if err != nil {
			return err
		}
		defer func() { _ = consumer.Close() }()
		deliveries := event.NewDeliveryHandler(billing.Messages, dedup, log, event.WithReconcileQueue(reconciler))
		consumer.AddHandler(cfg.Kafka.Topic, deliveries.Handle)
		g.Go(func() error {
			if err := consumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if stopErr := billingScheduler.Stop(shutdownCtx); stopErr != nil {
			log.Warn("Billing scheduler stop failed", zap.Error(stopErr))
		}
		if stopErr := reconciler.Stop(shutdownCtx); stopErr != nil {
			log.Warn("Reconcile scheduler stop failed", zap.Error(stopErr))
		}
		return err
	})

	return g.Wait()
}

// migrate applies the embedded migrations on postgres. SQLite is used for
// development only and is auto-migrated from the models.
func migrate(ctx context.Context, db *persistence.Database, log *zap.Logger) error {
	if db.Driver == config.DriverSQLite {
		return db.AutoMigrate(ctx)
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, "", log)
	if err != nil {
		return err
	}
	return m.Up()
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

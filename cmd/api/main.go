package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/medcare-service/internal/api/http"
	"github.com/spec-kit/medcare-service/internal/api/http/handlers"
	"github.com/spec-kit/medcare-service/internal/auth"
	"github.com/spec-kit/medcare-service/internal/config"
	"github.com/spec-kit/medcare-service/internal/events"
	"github.com/spec-kit/medcare-service/internal/observability"
	"github.com/spec-kit/medcare-service/internal/persistence"
	"github.com/spec-kit/medcare-service/internal/repository"
	"github.com/spec-kit/medcare-service/internal/service"
	"github.com/spec-kit/medcare-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, pingers, closeStores := openStores(ctx, cfg, logger)
	defer closeStores()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, logger, cfg.Notification))

	if purger, ok := store.(repository.ExpiredSessionPurger); ok {
		go worker.NewSessionSweeper(purger, cfg.Store.SessionSweepInterval, logger).Run(ctx)
	}

	codec := auth.NewTokenCodec(cfg.Auth)
	verificationService := service.NewVerificationService(service.VerificationDependencies{
		Store:      store,
		Tokens:     codec,
		Notifier:   service.NewEventNotifier(dispatcher),
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	sessionService := service.NewSessionService(service.SessionDependencies{
		Store:        store,
		Tokens:       codec,
		Verification: verificationService,
		Dispatcher:   dispatcher,
		Metrics:      metrics,
		Logger:       logger,
		BcryptCost:   cfg.Auth.BcryptCost,
		PhoneRegion:  cfg.App.PhoneRegion,
	})

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:       handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pingers),
		Users:        handlers.NewUsersHandler(sessionService),
		Verification: handlers.NewVerificationHandler(verificationService),
		Guard:        auth.NewGuard(codec, store, logger),
		Metrics:      metrics,
	})

	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.App.Addr()),
			zap.String("store", cfg.Store.Backend),
			zap.String("sessions", cfg.Store.SessionBackend))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

// openStores builds the credential store selected by config and returns the dependencies the
// readiness probe should check.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.CredentialStore, map[string]handlers.Pinger, func()) {
	pingers := map[string]handlers.Pinger{}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var store repository.CredentialStore
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		closers = append(closers, pg.Close)
		pingers["postgres"] = pg

		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		store = repository.NewPostgresStore(pg.PoolHandle())
	case config.StoreBackendMongo:
		mongo, err := persistence.NewMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			logger.Fatal("failed to connect mongo", zap.Error(err))
		}
		closers = append(closers, func() { mongo.Close(context.Background()) })
		pingers["mongo"] = mongo

		mongoStore, err := repository.NewMongoStore(ctx, mongo.Database)
		if err != nil {
			logger.Fatal("failed to prepare mongo collections", zap.Error(err))
		}
		store = mongoStore
	default:
		logger.Warn("using in-memory credential store; data is lost on restart")
		store = repository.NewMemoryStore()
	}

	if cfg.Store.SessionBackend == config.SessionBackendRedis {
		redis := persistence.NewRedis(ctx, cfg.Redis, logger)
		closers = append(closers, redis.Close)
		pingers["redis"] = redis
		store = repository.Compose(store, repository.NewRedisSessionRepository(redis.Client, cfg.Redis.KeyPrefix))
	}

	return store, pingers, closeAll
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

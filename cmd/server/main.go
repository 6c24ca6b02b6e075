package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/cache"
	"github.com/segyhp/lending-engine/internal/config"
	"github.com/segyhp/lending-engine/internal/events"
	"github.com/segyhp/lending-engine/internal/gateway"
	"github.com/segyhp/lending-engine/internal/handler"
	"github.com/segyhp/lending-engine/internal/logger"
	"github.com/segyhp/lending-engine/internal/metrics"
	"github.com/segyhp/lending-engine/internal/repository"
	"github.com/segyhp/lending-engine/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	log := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	// Initialize database
	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis
	redisClient := initRedis(cfg)
	defer redisClient.Close()

	publisher := initPublisher(cfg, log)
	defer publisher.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	opts := service.OptionsFromConfig(cfg)
	redisCache := cache.NewRedisCache(redisClient, cfg.Business.AccountCacheTTL, cfg.Business.SettlementGuardTTL, log)
	gw := gateway.NewClient(cfg.Gateway, m, log)

	// Initialize repositories
	repos := repository.NewRepositories(db)
	txm := repository.NewTxManager(db)

	// Initialize services
	applications := service.NewApplicationService(repos, txm, publisher, m, log)
	approvals := service.NewApprovalService(repos, txm, gw, publisher, m, opts, log)
	ledger := service.NewLedgerService(repos, txm, gw, redisCache, redisCache, publisher, m, opts, log)
	reconciler := service.NewReconcilerService(repos, ledger, gw, m, opts, log)
	accounts := service.NewAccountService(repos, redisCache, log)
	products := service.NewProductService(repos)

	// Setup routes
	router := handler.NewRouter(handler.Handlers{
		Applications: handler.NewApplicationHandler(applications, approvals),
		Accounts:     handler.NewAccountHandler(accounts, reconciler),
		Products:     handler.NewProductHandler(products),
		Webhooks:     handler.NewWebhookHandler(reconciler, log),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": db,
			"redis":    handler.RedisPinger{Client: redisClient},
		}, cfg.GetHealthTimeout()),
		Metrics: promhttp.Handler(),
	}, log)

	// Start server
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Server.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	log.Info("Server exited")
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// initPublisher falls back to logging events when no broker is configured.
func initPublisher(cfg *config.Config, log *zap.Logger) events.Publisher {
	if len(cfg.Kafka.BrokerList()) == 0 {
		log.Warn("KAFKA_BROKERS not set, domain events are only logged")
		return events.NewLogPublisher(log)
	}
	return events.NewKafkaPublisher(cfg.Kafka, log)
}

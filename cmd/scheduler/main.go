package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/cache"
	"github.com/segyhp/lending-engine/internal/config"
	"github.com/segyhp/lending-engine/internal/events"
	"github.com/segyhp/lending-engine/internal/logger"
	"github.com/segyhp/lending-engine/internal/metrics"
	"github.com/segyhp/lending-engine/internal/repository"
	"github.com/segyhp/lending-engine/internal/service"
)

// sweepTimeout bounds a single overdue run.
const sweepTimeout = 30 * time.Minute

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
	log.Info("Starting lending scheduler...")

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	var publisher events.Publisher = events.NewLogPublisher(log)
	if len(cfg.Kafka.BrokerList()) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka, log)
	}
	defer publisher.Close()

	overdue := service.NewOverdueService(
		repository.NewRepositories(db),
		repository.NewTxManager(db),
		cache.NewRedisCache(redisClient, cfg.Business.AccountCacheTTL, cfg.Business.SettlementGuardTTL, log),
		publisher,
		metrics.New(prometheus.DefaultRegisterer),
		service.OptionsFromConfig(cfg),
		log,
	)

	// Initialize cron scheduler
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(cfg.GetSchedulerLocation()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	// Schedule tasks
	if err := setupCronJobs(c, cfg, overdue, log); err != nil {
		log.Fatal("Failed to schedule jobs", zap.Error(err))
	}

	// Start the scheduler
	c.Start()
	log.Info("Scheduler started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down scheduler...")
	<-c.Stop().Done()
	log.Info("Scheduler stopped")
}

func setupCronJobs(c *cron.Cron, cfg *config.Config, overdue *service.OverdueService, log *zap.Logger) error {
	// Daily sweep marking late installments and defaulting long overdue accounts
	_, err := c.AddFunc(cfg.Scheduler.OverdueSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		log.Info("Running overdue sweep job...")
		result, err := overdue.SweepOverdue(ctx)
		if err != nil {
			log.Error("Overdue sweep failed", zap.Error(err))
			return
		}
		log.Info("Overdue sweep finished",
			zap.Int("accounts", result.Accounts),
			zap.Int("rows_marked", result.RowsMarked),
			zap.Int("defaulted", result.Defaulted),
			zap.Int("failed", result.Failed),
		)
	})
	if err != nil {
		return err
	}

	log.Info("Cron jobs scheduled successfully", zap.String("overdue_spec", cfg.Scheduler.OverdueSpec))
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tableorder/api/internal/config"
	"github.com/tableorder/api/internal/database"
	"github.com/tableorder/api/internal/enum"
	"github.com/tableorder/api/internal/events"
	"github.com/tableorder/api/internal/idempotency"
	"github.com/tableorder/api/internal/logging"
	"github.com/tableorder/api/internal/metrics"
	"github.com/tableorder/api/internal/router"
	"github.com/tableorder/api/internal/ws"
)

const purgeInterval = 10 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", zap.String("dir", cfg.MigrationsDir))
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	queries := database.New(pool)

	reg := metrics.NewRegistry()

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	publisher := events.NewMultiPublisher(logger, reg)
	publisher.Add("websocket", hub)
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kafka := events.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		defer kafka.Close() //nolint:errcheck
		publisher.Add("kafka", kafka)
		logger.Info("kafka sink enabled", zap.Strings("brokers", brokers), zap.String("topic", cfg.KafkaTopic))
	}
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nats.Close() //nolint:errcheck
		publisher.Add("nats", nats)
		logger.Info("nats sink enabled", zap.String("url", cfg.NATSURL))
	}

	var store idempotency.Store
	switch cfg.IdempotencyBackend {
	case "pebble":
		ps, err := idempotency.NewPebbleStore(cfg.IdempotencyPebbleDir)
		if err != nil {
			return fmt.Errorf("open idempotency store: %w", err)
		}
		defer ps.Close() //nolint:errcheck
		store = ps
	default:
		store = idempotency.NewPostgresStore(queries)
	}
	guard := idempotency.NewGuard(store, idempotency.Options{
		PendingTTL:  cfg.IdempotencyPendingTTL,
		FailOpen:    cfg.IdempotencyFailOpen,
		Reclaimable: enum.ReclaimableOps,
		Logger:      logger,
		Metrics:     reg,
	})
	go guard.RunPurger(ctx, purgeInterval, cfg.IdempotencyRetention)

	if cfg.PaymentWebhookSecret == "" {
		logger.Warn("PAYMENT_WEBHOOK_SECRET is empty, payment webhooks will be rejected")
	}

	r := router.New(cfg, queries, pool, hub, router.Options{
		Guard:     guard,
		Publisher: publisher,
		Metrics:   reg,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("port", cfg.Port),
			zap.String("idempotency_backend", cfg.IdempotencyBackend),
			zap.Int("event_sinks", publisher.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

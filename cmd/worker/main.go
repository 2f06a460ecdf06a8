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

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/agora/internal/app"
	notificationSubscribers "github.com/felixgeelhaar/agora/internal/notification/application/subscribers"
	notificationInfra "github.com/felixgeelhaar/agora/internal/notification/infrastructure"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/agora/pkg/config"
	"github.com/felixgeelhaar/agora/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	lc := observability.DefaultLogConfig("agora-worker")
	if cfg.IsProduction() {
		lc = observability.ProductionLogConfig("agora-worker")
	}
	lc.Level = cfg.LogLevel
	logger := observability.NewLogger(lc)
	slog.SetDefault(logger)
	logger.Info("starting agora worker")

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	if err := run(ctx, cfg, container, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, c *app.Container, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := c.StartOutbox(ctx); err != nil {
		return err
	}

	// Without a broker the container already dispatches events in process.
	if cfg.RabbitMQURL != "" && c.InProcessBus == nil {
		registry := eventbus.NewConsumerRegistry(logger)
		registry.Register(notificationSubscribers.NewEntitlementSubscriber(notificationInfra.NewLogDispatcher(logger), logger))
		consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
			URL:    cfg.RabbitMQURL,
			Logger: logger,
		}, registry)
		if err != nil {
			return err
		}
		defer consumer.Close()

		g.Go(func() error {
			err := consumer.Start(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if cfg.WorkerHealthAddr != "" {
		srv := &http.Server{
			Addr:              cfg.WorkerHealthAddr,
			Handler:           healthHandler(c.Health, c.OutboxProcessor),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("health server starting", "addr", cfg.WorkerHealthAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		c.OutboxProcessor.Stop()
		return nil
	})
	return g.Wait()
}

func healthHandler(health *observability.HealthRegistry, processor *outbox.Processor) http.Handler {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		stats := processor.GetStats()
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"running":           stats.IsRunning,
			"published":         stats.PublishedCount,
			"failed":            stats.FailedCount,
			"dead":              stats.DeadCount,
			"lag_seconds":       stats.LagSeconds,
			"last_processed_at": stats.LastProcessedAt,
			"last_error_at":     stats.LastErrorAt,
			"last_error":        stats.LastError,
		})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		result := health.Check(ctx)
		c.JSON(result.HTTPStatus(), result)
	})
	return r
}

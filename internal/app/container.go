// Package app wires the service's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/agora/internal/entitlement/application"
	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/entitlement/infrastructure/gateway"
	entitlementPersistence "github.com/felixgeelhaar/agora/internal/entitlement/infrastructure/persistence"
	notificationSubscribers "github.com/felixgeelhaar/agora/internal/notification/application/subscribers"
	notificationInfra "github.com/felixgeelhaar/agora/internal/notification/infrastructure"
	settingsApplication "github.com/felixgeelhaar/agora/internal/settings/application"
	settingsDomain "github.com/felixgeelhaar/agora/internal/settings/domain"
	settingsPersistence "github.com/felixgeelhaar/agora/internal/settings/infrastructure/persistence"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/agora/internal/shared/infrastructure/database/postgres"
	_ "github.com/felixgeelhaar/agora/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/lock"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/agora/pkg/config"
	"github.com/felixgeelhaar/agora/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Database
	DB         database.Connection
	UnitOfWork *database.UnitOfWork

	// Redis, nil when locks are process-local.
	RedisClient *redis.Client

	// Entitlements
	EntitlementStore *entitlementPersistence.Store
	AuditLog         *entitlementPersistence.AuditLog
	Locker           lock.Locker
	Verifier         domain.PaymentVerifier
	Reconciler       *application.Reconciler
	Queries          *application.Queries

	// Settings
	Settings *settingsApplication.Service

	// Events
	OutboxRepo      outbox.Repository
	EventPublisher  eventbus.Publisher
	InProcessBus    *eventbus.InProcessEventBus
	OutboxProcessor *outbox.Processor

	Health *observability.HealthRegistry
}

// NewContainer connects to the configured backends and builds every service.
// Redis and RabbitMQ are optional in development and fall back to
// process-local implementations.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config: cfg,
		Logger: logger,
		Health: observability.NewHealthRegistry(),
	}

	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     database.Driver(cfg.DatabaseDriver),
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = conn
	logger.Info("connected to database", "driver", conn.Driver())

	// The local database migrates itself; server databases use "agora migrate".
	if conn.Driver() == database.DriverSQLite {
		if _, err := c.Migrate(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	c.Health.Register("database", observability.PingChecker("database", true, conn.Ping))

	if err := c.connectRedis(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.connectPublisher(); err != nil {
		c.Close()
		return nil, err
	}
	verifier, err := newVerifier(cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Verifier = verifier

	c.UnitOfWork = database.NewUnitOfWork(conn)
	c.EntitlementStore = entitlementPersistence.NewStore(conn)
	c.AuditLog = entitlementPersistence.NewAuditLog(conn)
	c.OutboxRepo = outbox.NewSQLRepository(conn)

	opts := []application.Option{application.WithHooks(application.NewNotificationHook(c.OutboxRepo))}
	if c.Verifier != nil {
		opts = append(opts, application.WithPaymentVerifier(c.Verifier))
	}
	c.Reconciler = application.NewReconciler(c.EntitlementStore, c.AuditLog, c.UnitOfWork, c.Locker, logger, opts...)
	c.Queries = application.NewQueries(c.EntitlementStore, c.AuditLog)
	c.Settings = settingsApplication.NewService(settingsPersistence.NewRepository(conn), c.UnitOfWork, logger)

	c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher, outbox.ProcessorConfig{
		PollInterval:     cfg.OutboxPollInterval,
		BatchSize:        cfg.OutboxBatchSize,
		MaxRetries:       cfg.OutboxMaxRetries,
		RetryBackoffBase: outbox.DefaultProcessorConfig().RetryBackoffBase,
		RetryBackoffMax:  outbox.DefaultProcessorConfig().RetryBackoffMax,
		Retention:        cfg.OutboxRetention(),
		CleanupInterval:  cfg.OutboxCleanupInterval,
	}, logger)

	return c, nil
}

func (c *Container) connectRedis(ctx context.Context) error {
	cfg, logger := c.Config, c.Logger
	c.Locker = lock.NewMemoryLocker(cfg.ReconcileLockTimeout)
	if cfg.RedisURL == "" {
		return nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		if !cfg.IsDevelopment() {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		logger.Warn("invalid Redis URL, using in-process locks", "error", err)
		return nil
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if !cfg.IsDevelopment() {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Warn("Redis not available, using in-process locks", "error", err)
		return nil
	}

	c.RedisClient = client
	lockCfg := lock.DefaultRedisConfig()
	lockCfg.Wait = cfg.ReconcileLockTimeout
	c.Locker = lock.NewRedisLocker(client, lockCfg, logger)
	c.Health.Register("redis", observability.PingChecker("redis", true, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	logger.Info("connected to Redis")
	return nil
}

// connectPublisher uses RabbitMQ when configured. Without it, outbox events
// are dispatched in process to the notification subscriber.
func (c *Container) connectPublisher() error {
	cfg, logger := c.Config, c.Logger
	if cfg.RabbitMQURL != "" {
		publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
		if err == nil {
			c.EventPublisher = publisher
			return nil
		}
		if !cfg.IsDevelopment() {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		logger.Warn("RabbitMQ not available, dispatching events in process", "error", err)
	}

	bus := eventbus.NewInProcessEventBus(logger)
	bus.RegisterConsumer(notificationSubscribers.NewEntitlementSubscriber(notificationInfra.NewLogDispatcher(logger), logger))
	c.InProcessBus = bus
	c.EventPublisher = bus
	return nil
}

func newVerifier(cfg *config.Config, logger *slog.Logger) (domain.PaymentVerifier, error) {
	if cfg.PaymentSimulate {
		logger.Warn("payment verification is simulated; every payment is accepted")
		return gateway.NewSimulatedVerifier(logger), nil
	}
	if !cfg.PaymentGatewayConfigured() {
		if cfg.IsDevelopment() {
			logger.Warn("no payment gateway configured, simulating verification")
			return gateway.NewSimulatedVerifier(logger), nil
		}
		logger.Warn("no payment gateway configured, payment confirmation is disabled")
		return nil, nil
	}

	gwCfg := gateway.DefaultConfig(cfg.PaymentGatewayURL)
	gwCfg.TokenURL = cfg.PaymentGatewayTokenURL
	gwCfg.ClientID = cfg.PaymentGatewayClientID
	gwCfg.ClientSecret = cfg.PaymentGatewayClientSecret
	gwCfg.Scopes = cfg.PaymentGatewayScopes
	gwCfg.Timeout = cfg.PaymentGatewayTimeout
	v, err := gateway.NewHTTPVerifier(gwCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure payment gateway: %w", err)
	}
	return v, nil
}

// Migrate applies pending schema migrations and returns their versions.
func (c *Container) Migrate(ctx context.Context) ([]string, error) {
	applied, err := migrations.Run(ctx, c.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if len(applied) > 0 {
		c.Logger.Info("applied migrations", "versions", applied)
	}
	return applied, nil
}

// OperatorPrincipal is the identity CLI commands act as. The operator holds
// every administrative capability.
func (c *Container) OperatorPrincipal() domain.Principal {
	return domain.NewPrincipal(c.Config.OperatorID, domain.CapabilityAdmin, settingsDomain.CapabilityAdmin)
}

// StartOutbox starts the outbox processor unless it is disabled.
func (c *Container) StartOutbox(ctx context.Context) error {
	if !c.Config.OutboxProcessorEnabled {
		c.Logger.Info("outbox processor disabled")
		return nil
	}
	return c.OutboxProcessor.Start(ctx)
}

// Close cleans up all resources.
func (c *Container) Close() {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			c.Logger.Warn("error closing Redis connection", "error", err)
		}
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Warn("error closing database", "error", err)
		} else {
			c.Logger.Info("database connection closed")
		}
	}
}

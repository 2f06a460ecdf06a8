package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/felixgeelhaar/agora/adapter/api"
	"github.com/felixgeelhaar/agora/adapter/cli"
	cliEntitlement "github.com/felixgeelhaar/agora/adapter/cli/entitlement"
	cliPayment "github.com/felixgeelhaar/agora/adapter/cli/payment"
	cliSettings "github.com/felixgeelhaar/agora/adapter/cli/settings"
	"github.com/felixgeelhaar/agora/internal/app"
	"github.com/felixgeelhaar/agora/internal/client"
	"github.com/felixgeelhaar/agora/internal/projection"
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

	logger := observability.NewLogger(logConfig(cfg))
	slog.SetDefault(logger)
	cli.SetLogger(logger)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	cliApp, err := newCLIApp(cfg, container, logger)
	if err != nil {
		logger.Error("failed to initialize CLI", "error", err)
		os.Exit(1)
	}
	cli.SetApp(cliApp)

	cli.AddCommand(cliEntitlement.Cmd)
	cli.AddCommand(cliPayment.Cmd)
	cli.AddCommand(cliSettings.Cmd)

	cli.Execute(ctx)
}

func newCLIApp(cfg *config.Config, c *app.Container, logger *slog.Logger) (*cli.App, error) {
	principal := c.OperatorPrincipal()

	var remote projection.Remote = projection.NewReconcilerRemote(c.Reconciler, principal, logger)
	if cfg.APIURL != "" {
		apiClient, err := client.New(client.Config{
			BaseURL: cfg.APIURL,
			Token:   cfg.APIToken,
			Timeout: cfg.ProjectionTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		remote = apiClient
	}

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = cfg.HTTPAddr
	server := api.NewServer(serverCfg, api.Handlers{
		Entitlements: api.NewEntitlementHandler(c.Reconciler, c.Queries, logger),
		Settings:     api.NewSettingsHandler(c.Settings, logger),
		Tokens:       api.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Health:       c.Health,
	}, logger)

	cliApp := &cli.App{
		Reconciler:        c.Reconciler,
		Queries:           c.Queries,
		Settings:          c.Settings,
		Remote:            remote,
		ProjectionTimeout: cfg.ProjectionTimeout,
		Principal:         principal,
		Health:            c.Health,
		Server:            server,
		Migrate:           c.Migrate,
	}
	// With RabbitMQ the worker drains the outbox; in process the server does.
	if c.InProcessBus != nil && cfg.OutboxProcessorEnabled {
		cliApp.Outbox = c.OutboxProcessor
	}
	return cliApp, nil
}

func logConfig(cfg *config.Config) observability.LogConfig {
	lc := observability.DefaultLogConfig("agora")
	if cfg.IsProduction() {
		lc = observability.ProductionLogConfig("agora")
	}
	if cfg.LogFormat != "" {
		lc.Format = observability.LogFormat(cfg.LogFormat)
	}
	lc.Level = cfg.LogLevel
	return lc
}

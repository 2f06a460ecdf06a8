package cli

import (
	"context"
	"time"

	"github.com/felixgeelhaar/agora/adapter/api"
	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/projection"
	"github.com/felixgeelhaar/agora/pkg/observability"
)

// Server is the API server the serve command runs.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// BackgroundWorker runs alongside the server.
type BackgroundWorker interface {
	Start(ctx context.Context) error
	Stop()
}

// App holds the CLI application dependencies.
type App struct {
	Reconciler api.Reconciler
	Queries    api.EntitlementQueries
	Settings   api.SettingsService

	// Remote confirms toggles. It is the in-process reconciler, or the
	// HTTP API when AGORA_API_URL is set.
	Remote            projection.Remote
	ProjectionTimeout time.Duration

	// Principal is who commands act as.
	Principal domain.Principal

	Health  *observability.HealthRegistry
	Server  Server
	Outbox  BackgroundWorker
	Migrate func(ctx context.Context) ([]string, error)
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}

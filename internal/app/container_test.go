package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/entitlement/infrastructure/gateway"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/agora/pkg/config"
	"github.com/felixgeelhaar/agora/pkg/observability"
)

func localConfig(t *testing.T) *config.Config {
	return &config.Config{
		AppEnv:                 "development",
		OperatorID:             "ops",
		LocalMode:              true,
		DatabaseDriver:         "sqlite",
		SQLitePath:             filepath.Join(t.TempDir(), "agora.db"),
		ReconcileLockTimeout:   time.Second,
		OutboxPollInterval:     10 * time.Millisecond,
		OutboxBatchSize:        10,
		OutboxMaxRetries:       3,
		OutboxRetentionDays:    1,
		OutboxCleanupInterval:  time.Hour,
		OutboxProcessorEnabled: true,
	}
}

func TestNewContainer_LocalMode(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, localConfig(t), nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, database.DriverSQLite, c.DB.Driver())
	assert.Nil(t, c.RedisClient)
	assert.NotNil(t, c.InProcessBus)
	assert.IsType(t, &gateway.SimulatedVerifier{}, c.Verifier)

	health := c.Health.Check(ctx)
	assert.Equal(t, observability.HealthStatusHealthy, health.Status)
}

func TestNewContainer_EndToEnd(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, localConfig(t), nil)
	require.NoError(t, err)
	defer c.Close()

	alice := domain.NewPrincipal("alice")
	res, err := c.Reconciler.Reconcile(ctx, alice, domain.Intent{
		ResourceID:      "post-1",
		Kind:            domain.KindLike,
		NotifySubjectID: "bob",
	})
	require.NoError(t, err)
	assert.True(t, res.Enabled())

	pending, err := c.OutboxRepo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	require.NoError(t, c.OutboxProcessor.ProcessOnce(ctx))
	pending, err = c.OutboxRepo.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	paid, err := c.Reconciler.ConfirmPayment(ctx, alice, domain.PaymentConfirmation{
		SubjectID: "alice", PlanID: "gold", PaymentMethod: "card",
		TransactionReference: "TX1", Amount: 500, Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, paid.Record.State)

	updated, err := c.Settings.Update(ctx, c.OperatorPrincipal(), map[string]string{"site_title": "Riverside"})
	require.NoError(t, err)
	assert.Equal(t, "Riverside", updated.SiteTitle)
	assert.Equal(t, "ops", updated.UpdatedBy)
}

func TestNewContainer_ProductionWithoutGateway(t *testing.T) {
	cfg := localConfig(t)
	cfg.AppEnv = "production"

	c, err := NewContainer(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Verifier)
	_, err = c.Reconciler.ConfirmPayment(context.Background(), domain.NewPrincipal("alice"), domain.PaymentConfirmation{
		SubjectID: "alice", PlanID: "gold", PaymentMethod: "card",
		TransactionReference: "TX1", Amount: 500, Currency: "USD",
	})
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestNewContainer_RedisRequiredOutsideDevelopment(t *testing.T) {
	cfg := localConfig(t)
	cfg.AppEnv = "staging"
	cfg.RedisURL = "not-a-redis-url"

	_, err := NewContainer(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "Redis")
}

func TestContainer_StartOutboxDisabled(t *testing.T) {
	cfg := localConfig(t)
	cfg.OutboxProcessorEnabled = false

	c, err := NewContainer(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.StartOutbox(context.Background()))
	assert.False(t, c.OutboxProcessor.IsRunning())
}

func TestContainer_MigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, localConfig(t), nil)
	require.NoError(t, err)
	defer c.Close()

	applied, err := c.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

package persistence_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/agora/internal/settings/domain"
	"github.com/felixgeelhaar/agora/internal/settings/infrastructure/persistence"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/migrations"
)

func openTestDB(t *testing.T) database.Connection {
	t.Helper()
	ctx := context.Background()

	conn, err := sqlite.NewConnection(ctx, database.Config{SQLitePath: filepath.Join(t.TempDir(), "settings.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = migrations.Run(ctx, conn)
	require.NoError(t, err)
	return conn
}

func TestRepository_SaveLoad(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewRepository(openTestDB(t))

	values, by, at, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.Empty(t, by)
	assert.True(t, at.IsZero())

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, map[string]string{
		domain.KeySiteTitle:    "Riverside",
		domain.KeyContactEmail: "hello@example.com",
	}, "admin-1", first))

	second := first.Add(time.Hour)
	require.NoError(t, repo.Save(ctx, map[string]string{domain.KeySiteTitle: "Riverside Forum"}, "admin-2", second))

	values, by, at, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		domain.KeySiteTitle:    "Riverside Forum",
		domain.KeyContactEmail: "hello@example.com",
	}, values)
	assert.Equal(t, "admin-2", by)
	assert.True(t, second.Equal(at))
}

func TestRepository_SaveInsideTransaction(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	repo := persistence.NewRepository(conn)
	uow := database.NewUnitOfWork(conn)

	txCtx, err := uow.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Save(txCtx, map[string]string{domain.KeySiteTitle: "Draft"}, "admin-1", time.Now()))
	require.NoError(t, uow.Rollback(txCtx))

	values, _, _, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)
}

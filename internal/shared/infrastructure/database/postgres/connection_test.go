package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database"
)

func TestNewConnection_RequiresURL(t *testing.T) {
	_, err := NewConnection(context.Background(), database.Config{Driver: database.DriverPostgres})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestNewConnection_RejectsMalformedURL(t *testing.T) {
	_, err := NewConnection(context.Background(), database.Config{URL: "postgres://%zz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse database URL")
}

func TestResult(t *testing.T) {
	res := result(pgconn.NewCommandTag("UPDATE 3"))

	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = res.LastInsertId()
	assert.ErrorIs(t, err, errNoInsertID)

	assert.ErrorIs(t, database.ExpectOneRow(result(pgconn.NewCommandTag("DELETE 0"))), database.ErrNoRows)
}

func TestRebind(t *testing.T) {
	assert.Equal(t,
		"SELECT * FROM entitlements WHERE subject_id = $1 AND kind = $2",
		rebind("SELECT * FROM entitlements WHERE subject_id = ? AND kind = ?"))
}

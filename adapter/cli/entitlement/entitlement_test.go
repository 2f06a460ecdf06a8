package entitlement

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/agora/adapter/cli"
	"github.com/felixgeelhaar/agora/internal/entitlement/application"
	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/entitlement/infrastructure/persistence"
	"github.com/felixgeelhaar/agora/internal/projection"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/lock"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/migrations"
)

func resetFlags() {
	subjectID = ""
	outputJSON = false
	setEnabled = true
	setNotify = ""
	setReason = ""
	setAttrs = nil
	prefsOnPost = ""
	prefsOnReply = ""
	listKind = ""
	historyLimit = 50
}

func newTestApp(t *testing.T, principal domain.Principal) *cli.App {
	t.Helper()
	ctx := context.Background()

	conn, err := sqlite.NewConnection(ctx, database.Config{SQLitePath: filepath.Join(t.TempDir(), "cli.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_, err = migrations.Run(ctx, conn)
	require.NoError(t, err)

	store := persistence.NewStore(conn)
	audit := persistence.NewAuditLog(conn)
	reconciler := application.NewReconciler(store, audit, database.NewUnitOfWork(conn), lock.NewMemoryLocker(time.Second), nil)

	app := &cli.App{
		Reconciler:        reconciler,
		Queries:           application.NewQueries(store, audit),
		Remote:            projection.NewReconcilerRemote(reconciler, principal, nil),
		ProjectionTimeout: time.Second,
		Principal:         principal,
	}
	cli.SetApp(app)
	t.Cleanup(func() { cli.SetApp(nil) })
	return app
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetContext(context.Background())
	err := cmd.RunE(cmd, args)
	return out.String(), err
}

func TestCommands_NoApp(t *testing.T) {
	resetFlags()
	cli.SetApp(nil)

	for _, cmd := range []*cobra.Command{toggleCmd, setCmd, getCmd, listCmd, auditCmd} {
		t.Run(cmd.Name(), func(t *testing.T) {
			_, err := run(t, cmd, "like", "post-1")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "require database connection")
		})
	}
}

func TestToggleCmd(t *testing.T) {
	resetFlags()
	newTestApp(t, domain.NewPrincipal("alice"))

	out, err := run(t, toggleCmd, "like", "post-1")
	require.NoError(t, err)
	assert.Equal(t, "post-1: liked\n", out)

	out, err = run(t, countCmd, "like", "post-1")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run(t, toggleCmd, "like", "post-1")
	require.NoError(t, err)
	assert.Equal(t, "post-1: not liked\n", out)

	out, err = run(t, countCmd, "like", "post-1")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestToggleCmd_Errors(t *testing.T) {
	resetFlags()
	newTestApp(t, domain.NewPrincipal("alice"))

	t.Run("unknown kind", func(t *testing.T) {
		_, err := run(t, toggleCmd, "bookmark", "post-1")
		assert.ErrorIs(t, err, domain.ErrInvalidIntent)
	})

	t.Run("other subject", func(t *testing.T) {
		defer resetFlags()
		subjectID = "bob"
		_, err := run(t, toggleCmd, "like", "post-1")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("anonymous", func(t *testing.T) {
		cli.GetApp().Principal = domain.Anonymous
		defer func() { cli.GetApp().Principal = domain.NewPrincipal("alice") }()
		_, err := run(t, toggleCmd, "like", "post-1")
		assert.Error(t, err)
	})
}

func TestSetAndPrefsCmd(t *testing.T) {
	resetFlags()
	newTestApp(t, domain.NewPrincipal("alice"))

	setAttrs = []string{"notify_on_reply=false"}
	setReason = "following"
	out, err := run(t, setCmd, "subscription", "thread-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Outcome: created")
	assert.Contains(t, out, "notify_on_reply=false")

	resetFlags()
	out, err = run(t, setCmd, "subscription", "thread-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Outcome: unchanged")

	prefsOnPost = "false"
	prefsOnReply = "true"
	out, err = run(t, prefsCmd, "thread-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Outcome: updated")
	assert.Contains(t, out, "notify_on_post=false")
	assert.Contains(t, out, "notify_on_reply=true")

	resetFlags()
	outputJSON = true
	out, err = run(t, getCmd, "subscription", "thread-7")
	require.NoError(t, err)
	var got struct {
		Enabled bool `json:"enabled"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Enabled)

	resetFlags()
	setEnabled = false
	out, err = run(t, setCmd, "subscription", "thread-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Outcome: deleted")
}

func TestSetCmd_InvalidAttribute(t *testing.T) {
	resetFlags()
	defer resetFlags()
	newTestApp(t, domain.NewPrincipal("alice"))

	setAttrs = []string{"no-separator"}
	_, err := run(t, setCmd, "subscription", "thread-7")
	assert.ErrorIs(t, err, domain.ErrInvalidAttributes)

	setAttrs = []string{"colour=blue"}
	_, err = run(t, setCmd, "subscription", "thread-7")
	assert.ErrorIs(t, err, domain.ErrInvalidAttributes)
}

func TestPrefsCmd_Errors(t *testing.T) {
	resetFlags()
	defer resetFlags()
	newTestApp(t, domain.NewPrincipal("alice"))

	_, err := run(t, prefsCmd, "thread-7")
	assert.EqualError(t, err, "set --on-post or --on-reply")

	prefsOnPost = "maybe"
	_, err = run(t, prefsCmd, "thread-7")
	assert.ErrorIs(t, err, domain.ErrInvalidAttributes)
}

func TestQueryCmds(t *testing.T) {
	resetFlags()
	newTestApp(t, domain.NewPrincipal("ops", domain.CapabilityAdmin))

	subjectID = "carol"
	_, err := run(t, setCmd, "like", "post-1")
	require.NoError(t, err)
	_, err = run(t, setCmd, "subscription", "thread-1")
	require.NoError(t, err)

	t.Run("get missing", func(t *testing.T) {
		out, err := run(t, getCmd, "like", "post-9")
		require.NoError(t, err)
		assert.Equal(t, "No like record for post-9\n", out)
	})

	t.Run("list", func(t *testing.T) {
		out, err := run(t, listCmd)
		require.NoError(t, err)
		assert.Contains(t, out, "post-1")
		assert.Contains(t, out, "thread-1")

		listKind = "like"
		defer func() { listKind = "" }()
		out, err = run(t, listCmd)
		require.NoError(t, err)
		assert.Contains(t, out, "post-1")
		assert.NotContains(t, out, "thread-1")
	})

	t.Run("history", func(t *testing.T) {
		out, err := run(t, historyCmd, "like", "post-1")
		require.NoError(t, err)
		assert.Contains(t, out, "absent -> on  by ops")
	})

	t.Run("audit", func(t *testing.T) {
		out, err := run(t, auditCmd)
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(out, "by ops"))
	})

	t.Run("count json", func(t *testing.T) {
		outputJSON = true
		defer func() { outputJSON = false }()
		out, err := run(t, countCmd, "subscription", "thread-1")
		require.NoError(t, err)
		assert.Contains(t, out, `"count": 1`)
	})
}

package application_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/agora/internal/entitlement/application"
	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/entitlement/infrastructure/persistence"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/lock"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/outbox"
)

type countingVerifier struct {
	calls atomic.Int32
	ok    bool
}

func (v *countingVerifier) Verify(context.Context, string, string) (bool, error) {
	v.calls.Add(1)
	return v.ok, nil
}

type harness struct {
	reconciler *application.Reconciler
	queries    *application.Queries
	audit      *persistence.AuditLog
	outbox     *outbox.SQLRepository
	verifier   *countingVerifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	conn, err := sqlite.NewConnection(ctx, database.Config{SQLitePath: filepath.Join(t.TempDir(), "agora.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_, err = migrations.Run(ctx, conn)
	require.NoError(t, err)

	store := persistence.NewStore(conn)
	audit := persistence.NewAuditLog(conn)
	outboxRepo := outbox.NewSQLRepository(conn)
	verifier := &countingVerifier{ok: true}

	return &harness{
		reconciler: application.NewReconciler(store, audit, database.NewUnitOfWork(conn), lock.NewMemoryLocker(5*time.Second), nil,
			application.WithPaymentVerifier(verifier),
			application.WithHooks(application.NewNotificationHook(outboxRepo)),
		),
		queries:  application.NewQueries(store, audit),
		audit:    audit,
		outbox:   outboxRepo,
		verifier: verifier,
	}
}

func TestReconcilerSQLite_ToggleTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := domain.NewPrincipal("alice")
	intent := domain.Intent{ResourceID: "post-42", Kind: domain.KindLike}

	first, err := h.reconciler.Reconcile(ctx, alice, intent)
	require.NoError(t, err)
	assert.True(t, first.Enabled())

	count, err := h.queries.Count(ctx, "post-42", domain.KindLike)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	second, err := h.reconciler.Reconcile(ctx, alice, intent)
	require.NoError(t, err)
	assert.False(t, second.Enabled())
	assert.Equal(t, application.OutcomeDeleted, second.Outcome)

	key := domain.Key{SubjectID: "alice", ResourceID: "post-42", Kind: domain.KindLike}
	history, err := h.queries.History(ctx, alice, key, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, []domain.State{domain.StateAbsent, domain.StateOn}, []domain.State{history[0].OldState, history[0].NewState})
	assert.Equal(t, []domain.State{domain.StateOn, domain.StateAbsent}, []domain.State{history[1].OldState, history[1].NewState})
	assert.Less(t, history[0].ID, history[1].ID)

	record, err := h.queries.Get(ctx, alice, key)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestReconcilerSQLite_PaymentReplay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := domain.NewPrincipal("alice")
	payment := domain.PaymentConfirmation{
		PlanID:               "gold",
		PaymentMethod:        "card",
		TransactionReference: "TX1",
		Amount:               999,
		Currency:             "USD",
	}

	first, err := h.reconciler.ConfirmPayment(ctx, alice, payment)
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeCreated, first.Outcome)
	assert.Equal(t, domain.StateActive, first.Record.State)

	second, err := h.reconciler.ConfirmPayment(ctx, alice, payment)
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeReplayed, second.Outcome)
	assert.Equal(t, first.Audit.ID, second.Audit.ID)
	assert.Equal(t, first.Record.Version, second.Record.Version)
	assert.Equal(t, int32(1), h.verifier.calls.Load())

	entries, err := h.queries.SubjectAudit(ctx, alice, "", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	t.Run("admin expiry then a new payment reactivates", func(t *testing.T) {
		admin := domain.NewPrincipal("operator", domain.CapabilityAdmin)
		expired, err := h.reconciler.SetPaymentStatus(ctx, admin, "alice", "gold", domain.StateExpired, "lapsed")
		require.NoError(t, err)
		assert.Equal(t, domain.StateExpired, expired.Record.State)

		payment.TransactionReference = "TX2"
		renewed, err := h.reconciler.ConfirmPayment(ctx, alice, payment)
		require.NoError(t, err)
		assert.Equal(t, domain.StateExpired, renewed.Audit.OldState)
		assert.Equal(t, domain.StateActive, renewed.Record.State)
		assert.Equal(t, "TX2", renewed.Record.Attribute(domain.AttrLastTransactionReference))
	})
}

func TestReconcilerSQLite_PaymentReplayForAnotherSubject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	payment := domain.PaymentConfirmation{
		PlanID:               "gold",
		PaymentMethod:        "card",
		TransactionReference: "TX1",
		Amount:               999,
		Currency:             "USD",
	}

	_, err := h.reconciler.ConfirmPayment(ctx, domain.NewPrincipal("bob"), payment)
	require.NoError(t, err)

	t.Run("another subject is refused and sees nothing", func(t *testing.T) {
		res, err := h.reconciler.ConfirmPayment(ctx, domain.NewPrincipal("mallory"), payment)

		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.Nil(t, res.Record)
		assert.Nil(t, res.Audit)
		assert.Equal(t, int32(1), h.verifier.calls.Load())

		record, err := h.queries.Get(ctx, domain.NewPrincipal("mallory"), domain.Key{SubjectID: "mallory", ResourceID: "gold", Kind: domain.KindPaymentStatus})
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("an admin is shown the original application", func(t *testing.T) {
		admin := domain.NewPrincipal("operator", domain.CapabilityAdmin)
		p := payment
		p.SubjectID = "mallory"

		res, err := h.reconciler.ConfirmPayment(ctx, admin, p)

		require.NoError(t, err)
		assert.Equal(t, application.OutcomeReplayed, res.Outcome)
		assert.Equal(t, "bob", res.Record.SubjectID)
	})
}

func TestReconcilerSQLite_ConcurrentTogglesAreLinearized(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := domain.NewPrincipal("alice")
	key := domain.Key{SubjectID: "alice", ResourceID: "forum-7", Kind: domain.KindSubscription}

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.reconciler.Reconcile(ctx, alice, domain.Intent{ResourceID: "forum-7", Kind: domain.KindSubscription})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	record, err := h.queries.Get(ctx, alice, key)
	require.NoError(t, err)
	assert.Nil(t, record, "an even number of toggles leaves the key absent")

	history, err := h.queries.History(ctx, alice, key, 0)
	require.NoError(t, err)
	require.Len(t, history, workers)
	for i, entry := range history {
		if i%2 == 0 {
			assert.Equal(t, domain.StateAbsent, entry.OldState)
		} else {
			assert.Equal(t, domain.StateOn, entry.OldState)
		}
	}
}

func TestReconcilerSQLite_ConcurrentEnablesCreateOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := domain.NewPrincipal("alice")

	const workers = 8
	var created atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.reconciler.Reconcile(ctx, alice, domain.Intent{ResourceID: "post-1", Kind: domain.KindLike, Action: domain.ActionEnable})
			if assert.NoError(t, err) && res.Outcome == application.OutcomeCreated {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	count, err := h.queries.Count(ctx, "post-1", domain.KindLike)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReconcilerSQLite_NotificationIsQueued(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := domain.NewPrincipal("alice")

	_, err := h.reconciler.Reconcile(ctx, alice, domain.Intent{
		ResourceID:      "post-9",
		Kind:            domain.KindLike,
		NotifySubjectID: "author-1",
		Reason:          "liked your post",
	})
	require.NoError(t, err)

	t.Run("self notifications are skipped", func(t *testing.T) {
		_, err := h.reconciler.Reconcile(ctx, alice, domain.Intent{ResourceID: "post-10", Kind: domain.KindLike, NotifySubjectID: "alice"})
		require.NoError(t, err)
	})

	msgs, err := h.outbox.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoutingKeyNotificationRequested, msgs[0].RoutingKey)

	var envelope eventbus.ConsumedEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &envelope))
	assert.Equal(t, "alice", envelope.Metadata.SubjectID)

	var req domain.NotificationRequest
	require.NoError(t, envelope.Decode(&req))
	assert.Equal(t, "author-1", req.NotifySubjectID)
	assert.Equal(t, "alice", req.ActorSubjectID)
	assert.Equal(t, "post-9", req.ResourceID)
	assert.Equal(t, "liked your post", req.Reason)
}

func TestQueries_Authorization(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key := domain.Key{SubjectID: "alice", ResourceID: "post-1", Kind: domain.KindLike}

	_, err := h.queries.Get(ctx, domain.Anonymous, key)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.queries.History(ctx, domain.NewPrincipal("bob"), key, 10)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.queries.List(ctx, domain.NewPrincipal("operator", domain.CapabilityAdmin), "alice", "")
	assert.NoError(t, err)

	_, err = h.queries.Count(ctx, "gold", domain.KindPaymentStatus)
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)
}

package subscribers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	entitlementDomain "github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/notification/domain"
	sharedDomain "github.com/felixgeelhaar/agora/internal/shared/domain"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/eventbus"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func envelope(t *testing.T, event sharedDomain.DomainEvent) *eventbus.ConsumedEvent {
	t.Helper()
	env, err := eventbus.NewEnvelope(event)
	require.NoError(t, err)
	return env
}

func TestEntitlementSubscriber_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches a like notification to the requested recipient", func(t *testing.T) {
		dispatcher := new(mockDispatcher)
		sub := NewEntitlementSubscriber(dispatcher, nil)
		event := entitlementDomain.NewNotificationRequested(uuid.New(), entitlementDomain.NotificationRequest{
			NotifySubjectID: "author-1",
			ActorSubjectID:  "alice",
			ResourceID:      "post-9",
			Kind:            entitlementDomain.KindLike,
		})

		dispatcher.On("Dispatch", ctx, mock.MatchedBy(func(n domain.Notification) bool {
			return n.ID == event.EventID() &&
				n.RecipientID == "author-1" &&
				n.ActorID == "alice" &&
				n.Template == domain.TemplateLikeReceived
		})).Return(nil)

		require.NoError(t, sub.Handle(ctx, envelope(t, event)))
		dispatcher.AssertExpectations(t)
	})

	t.Run("uses the subscriber template for subscriptions", func(t *testing.T) {
		dispatcher := new(mockDispatcher)
		sub := NewEntitlementSubscriber(dispatcher, nil)
		event := entitlementDomain.NewNotificationRequested(uuid.New(), entitlementDomain.NotificationRequest{
			NotifySubjectID: "moderator",
			ActorSubjectID:  "alice",
			ResourceID:      "forum-1",
			Kind:            entitlementDomain.KindSubscription,
		})

		dispatcher.On("Dispatch", ctx, mock.MatchedBy(func(n domain.Notification) bool {
			return n.Template == domain.TemplateNewSubscriber
		})).Return(nil)

		require.NoError(t, sub.Handle(ctx, envelope(t, event)))
		dispatcher.AssertExpectations(t)
	})

	t.Run("sends a receipt for a confirmed payment", func(t *testing.T) {
		dispatcher := new(mockDispatcher)
		sub := NewEntitlementSubscriber(dispatcher, nil)
		event := entitlementDomain.NewPaymentConfirmed(uuid.New(), entitlementDomain.PaymentConfirmedPayload{
			SubjectID:            "alice",
			PlanID:               "gold",
			OldState:             entitlementDomain.StateActive,
			NewState:             entitlementDomain.StateActive,
			PaymentMethod:        "card",
			TransactionReference: "TX9",
			Amount:               2500,
			Currency:             "EUR",
		})

		var got domain.Notification
		dispatcher.On("Dispatch", ctx, mock.Anything).
			Run(func(args mock.Arguments) { got = args.Get(1).(domain.Notification) }).
			Return(nil)

		require.NoError(t, sub.Handle(ctx, envelope(t, event)))
		assert.Equal(t, "alice", got.RecipientID)
		assert.Equal(t, domain.TemplatePaymentRenewal, got.Template)
		assert.Equal(t, "2500", got.Data["amount"])
		assert.Equal(t, "TX9", got.Data["transaction_reference"])
	})

	t.Run("drops malformed payloads", func(t *testing.T) {
		dispatcher := new(mockDispatcher)
		sub := NewEntitlementSubscriber(dispatcher, nil)

		err := sub.Handle(ctx, &eventbus.ConsumedEvent{
			EventID:    uuid.New(),
			RoutingKey: entitlementDomain.RoutingKeyNotificationRequested,
			Payload:    json.RawMessage(`{"notify_subject_id":""}`),
		})

		require.NoError(t, err)
		dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})

	t.Run("ignores unknown routing keys", func(t *testing.T) {
		dispatcher := new(mockDispatcher)
		sub := NewEntitlementSubscriber(dispatcher, nil)

		require.NoError(t, sub.Handle(ctx, &eventbus.ConsumedEvent{RoutingKey: "forum.post.created"}))
		dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})

	t.Run("returns dispatcher errors for redelivery", func(t *testing.T) {
		dispatcher := new(mockDispatcher)
		sub := NewEntitlementSubscriber(dispatcher, nil)
		event := entitlementDomain.NewNotificationRequested(uuid.New(), entitlementDomain.NotificationRequest{
			NotifySubjectID: "author-1",
			Kind:            entitlementDomain.KindLike,
		})
		dispatcher.On("Dispatch", ctx, mock.Anything).Return(errors.New("smtp down"))

		err := sub.Handle(ctx, envelope(t, event))
		assert.ErrorContains(t, err, "smtp down")
	})

	t.Run("handles both entitlement routing keys", func(t *testing.T) {
		sub := NewEntitlementSubscriber(new(mockDispatcher), nil)
		assert.ElementsMatch(t, []string{
			entitlementDomain.RoutingKeyNotificationRequested,
			entitlementDomain.RoutingKeyPaymentConfirmed,
		}, sub.EventTypes())
	})
}

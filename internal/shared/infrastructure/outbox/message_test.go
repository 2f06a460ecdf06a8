package outbox

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/agora/internal/shared/domain"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/eventbus"
)

type testEvent struct {
	domain.BaseEvent
	ResourceID string
}

func (e *testEvent) Payload() any {
	return map[string]string{"resource_id": e.ResourceID}
}

func newTestEvent(aggregateID uuid.UUID, resourceID string) *testEvent {
	return &testEvent{
		BaseEvent:  domain.NewBaseEvent(aggregateID, "Entitlement", "entitlement.notification.requested"),
		ResourceID: resourceID,
	}
}

func TestNewMessage(t *testing.T) {
	t.Run("copies event identity", func(t *testing.T) {
		aggregateID := uuid.New()
		event := newTestEvent(aggregateID, "post-1")

		msg, err := NewMessage(event)

		require.NoError(t, err)
		assert.Equal(t, int64(0), msg.ID)
		assert.Equal(t, event.EventID(), msg.EventID)
		assert.Equal(t, "Entitlement", msg.AggregateType)
		assert.Equal(t, aggregateID, msg.AggregateID)
		assert.Equal(t, "entitlement.notification.requested", msg.EventType)
		assert.Equal(t, "entitlement.notification.requested", msg.RoutingKey)
		assert.Equal(t, event.OccurredAt(), msg.CreatedAt)
		assert.False(t, msg.IsPublished())
		assert.Zero(t, msg.RetryCount)
	})

	t.Run("payload is a decodable envelope", func(t *testing.T) {
		event := newTestEvent(uuid.New(), "post-7")
		event.SetMetadata(domain.EventMetadata{CorrelationID: uuid.New(), SubjectID: "user-3"})

		msg, err := NewMessage(event)
		require.NoError(t, err)

		var envelope eventbus.ConsumedEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &envelope))
		assert.Equal(t, event.EventID(), envelope.EventID)
		assert.Equal(t, "user-3", envelope.Metadata.SubjectID)

		var body map[string]string
		require.NoError(t, envelope.Decode(&body))
		assert.Equal(t, "post-7", body["resource_id"])
		assert.Contains(t, string(msg.Metadata), event.Metadata().CorrelationID.String())
	})
}

func TestMessage_LastAttempt(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"first of several", 0, 3, false},
		{"one left", 1, 3, false},
		{"final attempt", 2, 3, true},
		{"already past max", 10, 5, true},
		{"single attempt allowed", 0, 1, true},
		{"no retries configured", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{RetryCount: tt.retryCount}
			assert.Equal(t, tt.want, msg.LastAttempt(tt.maxRetries))
		})
	}
}

func TestMessage_Trace(t *testing.T) {
	event := newTestEvent(uuid.New(), "post-2")
	correlation := uuid.New()
	event.SetMetadata(domain.EventMetadata{CorrelationID: correlation, SubjectID: "user-9"})

	msg, err := NewMessage(event)
	require.NoError(t, err)

	trace := msg.Trace()
	assert.Equal(t, correlation.String(), trace.CorrelationID)
	assert.Equal(t, "user-9", trace.SubjectID)

	assert.Zero(t, (&Message{Metadata: json.RawMessage(`not json`)}).Trace())
}

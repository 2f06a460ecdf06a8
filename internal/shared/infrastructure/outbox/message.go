package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/agora/internal/shared/domain"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/eventbus"
)

// Message is one row of the outbox. Payload is the complete eventbus
// envelope and is handed to the publisher unchanged.
type Message struct {
	ID            int64
	EventID       uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	RoutingKey    string
	Payload       json.RawMessage
	// Metadata duplicates the envelope metadata so it can be logged
	// without decoding the payload.
	Metadata    json.RawMessage
	CreatedAt   time.Time
	PublishedAt *time.Time

	RetryCount  int
	NextRetryAt *time.Time
	LastError   *string

	DeadLetteredAt   *time.Time
	DeadLetterReason *string
}

// NewMessage wraps event in an envelope and stores it as an outbox row.
func NewMessage(event domain.DomainEvent) (*Message, error) {
	envelope, err := eventbus.NewEnvelope(event)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		EventID:       envelope.EventID,
		AggregateType: envelope.AggregateType,
		AggregateID:   envelope.AggregateID,
		EventType:     envelope.RoutingKey,
		RoutingKey:    envelope.RoutingKey,
		CreatedAt:     envelope.OccurredAt,
	}
	if msg.Payload, err = json.Marshal(envelope); err != nil {
		return nil, err
	}
	if msg.Metadata, err = json.Marshal(envelope.Metadata); err != nil {
		return nil, err
	}
	return msg, nil
}

// IsPublished reports whether the message reached the broker.
func (m *Message) IsPublished() bool {
	return m.PublishedAt != nil
}

// LastAttempt reports whether a failure of the next publish attempt
// should dead-letter the message instead of scheduling a retry.
func (m *Message) LastAttempt(maxRetries int) bool {
	return maxRetries <= 0 || m.RetryCount+1 >= maxRetries
}

// Trace returns the tracing metadata, or the zero value when absent or
// unreadable.
func (m *Message) Trace() eventbus.EventMetadata {
	var meta eventbus.EventMetadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return meta
}

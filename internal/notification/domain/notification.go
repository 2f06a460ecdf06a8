package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Template names a notification message.
type Template string

const (
	TemplateLikeReceived   Template = "like.received"
	TemplateNewSubscriber  Template = "subscription.received"
	TemplatePaymentReceipt Template = "payment.receipt"
	TemplatePaymentRenewal Template = "payment.renewal"
)

// Notification is one message for one recipient.
type Notification struct {
	// ID is the source event id; delivery is keyed on it.
	ID          uuid.UUID
	RecipientID string
	ActorID     string
	ResourceID  string
	Template    Template
	Reason      string
	Data        map[string]string
	OccurredAt  time.Time
}

// Dispatcher delivers notifications. Delivery is at least once, so
// implementations should tolerate a repeated ID.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

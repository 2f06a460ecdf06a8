package domain

import (
	"github.com/google/uuid"

	shared "github.com/felixgeelhaar/agora/internal/shared/domain"
)

const (
	AggregateType = "Entitlement"

	RoutingKeyNotificationRequested = "entitlement.notification.requested"
	RoutingKeyPaymentConfirmed      = "entitlement.payment.confirmed"
)

// NotificationRequest asks for NotifySubjectID to be told about a new entitlement.
type NotificationRequest struct {
	NotifySubjectID string `json:"notify_subject_id"`
	ActorSubjectID  string `json:"actor_subject_id"`
	ResourceID      string `json:"resource_id"`
	Kind            Kind   `json:"kind"`
	Reason          string `json:"reason,omitempty"`
}

// NotificationRequested is emitted after a like or subscription is created.
type NotificationRequested struct {
	shared.BaseEvent
	Request NotificationRequest
}

// NewNotificationRequested builds the event for record.
func NewNotificationRequested(recordID uuid.UUID, req NotificationRequest) *NotificationRequested {
	return &NotificationRequested{
		BaseEvent: shared.NewBaseEvent(recordID, AggregateType, RoutingKeyNotificationRequested),
		Request:   req,
	}
}

func (e *NotificationRequested) Payload() any { return e.Request }

// PaymentConfirmedPayload describes an applied payment.
type PaymentConfirmedPayload struct {
	SubjectID            string `json:"subject_id"`
	PlanID               string `json:"plan_id"`
	OldState             State  `json:"old_state"`
	NewState             State  `json:"new_state"`
	PaymentMethod        string `json:"payment_method"`
	TransactionReference string `json:"transaction_reference"`
	Amount               int64  `json:"amount"`
	Currency             string `json:"currency"`
}

// PaymentConfirmed is emitted after a payment moves a plan to active.
type PaymentConfirmed struct {
	shared.BaseEvent
	Body PaymentConfirmedPayload
}

// NewPaymentConfirmed builds the event for record.
func NewPaymentConfirmed(recordID uuid.UUID, body PaymentConfirmedPayload) *PaymentConfirmed {
	return &PaymentConfirmed{
		BaseEvent: shared.NewBaseEvent(recordID, AggregateType, RoutingKeyPaymentConfirmed),
		Body:      body,
	}
}

func (e *PaymentConfirmed) Payload() any { return e.Body }

var (
	_ shared.DomainEvent = (*NotificationRequested)(nil)
	_ shared.DomainEvent = (*PaymentConfirmed)(nil)
)

package subscribers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	entitlementDomain "github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/notification/domain"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/eventbus"
)

// EntitlementSubscriber turns entitlement events into notifications.
type EntitlementSubscriber struct {
	dispatcher domain.Dispatcher
	logger     *slog.Logger
}

// NewEntitlementSubscriber creates a subscriber handing notifications to dispatcher.
func NewEntitlementSubscriber(dispatcher domain.Dispatcher, logger *slog.Logger) *EntitlementSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementSubscriber{dispatcher: dispatcher, logger: logger}
}

// EventTypes returns the event types this subscriber handles.
func (s *EntitlementSubscriber) EventTypes() []string {
	return []string{
		entitlementDomain.RoutingKeyNotificationRequested,
		entitlementDomain.RoutingKeyPaymentConfirmed,
	}
}

// Handle processes an entitlement event. Malformed payloads are logged and
// dropped; dispatcher errors are returned so the broker redelivers.
func (s *EntitlementSubscriber) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	var (
		n   domain.Notification
		err error
	)
	switch event.RoutingKey {
	case entitlementDomain.RoutingKeyNotificationRequested:
		n, err = s.fromNotificationRequest(event)
	case entitlementDomain.RoutingKeyPaymentConfirmed:
		n, err = s.fromPaymentConfirmed(event)
	default:
		s.logger.Warn("unknown event type", "routing_key", event.RoutingKey)
		return nil
	}
	if err != nil {
		s.logger.Error("failed to decode entitlement event",
			"routing_key", event.RoutingKey,
			"event_id", event.EventID,
			"error", err,
		)
		return nil
	}

	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		return fmt.Errorf("dispatch %s: %w", n.Template, err)
	}
	return nil
}

func (s *EntitlementSubscriber) fromNotificationRequest(event *eventbus.ConsumedEvent) (domain.Notification, error) {
	var req entitlementDomain.NotificationRequest
	if err := event.Decode(&req); err != nil {
		return domain.Notification{}, err
	}
	if req.NotifySubjectID == "" {
		return domain.Notification{}, errors.New("notification without recipient")
	}

	template := domain.TemplateLikeReceived
	if req.Kind == entitlementDomain.KindSubscription {
		template = domain.TemplateNewSubscriber
	}
	return domain.Notification{
		ID:          event.EventID,
		RecipientID: req.NotifySubjectID,
		ActorID:     req.ActorSubjectID,
		ResourceID:  req.ResourceID,
		Template:    template,
		Reason:      req.Reason,
		OccurredAt:  event.OccurredAt,
	}, nil
}

func (s *EntitlementSubscriber) fromPaymentConfirmed(event *eventbus.ConsumedEvent) (domain.Notification, error) {
	var body entitlementDomain.PaymentConfirmedPayload
	if err := event.Decode(&body); err != nil {
		return domain.Notification{}, err
	}

	template := domain.TemplatePaymentReceipt
	if body.OldState == entitlementDomain.StateActive {
		template = domain.TemplatePaymentRenewal
	}
	return domain.Notification{
		ID:          event.EventID,
		RecipientID: body.SubjectID,
		ActorID:     event.Metadata.SubjectID,
		ResourceID:  body.PlanID,
		Template:    template,
		Data: map[string]string{
			"plan":                  body.PlanID,
			"amount":                strconv.FormatInt(body.Amount, 10),
			"currency":              body.Currency,
			"payment_method":        body.PaymentMethod,
			"transaction_reference": body.TransactionReference,
		},
		OccurredAt: event.OccurredAt,
	}, nil
}

var _ eventbus.EventConsumer = (*EntitlementSubscriber)(nil)

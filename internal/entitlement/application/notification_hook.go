package application

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	sharedApplication "github.com/felixgeelhaar/agora/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/agora/internal/shared/domain"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/outbox"
)

// NotificationHook enqueues notification and payment events in the outbox.
type NotificationHook struct {
	outboxRepo outbox.Repository
}

// NewNotificationHook creates a hook writing to outboxRepo.
func NewNotificationHook(outboxRepo outbox.Repository) *NotificationHook {
	return &NotificationHook{outboxRepo: outboxRepo}
}

func (h *NotificationHook) Name() string { return "notification" }

// AfterCommit writes the events describing change, if any.
func (h *NotificationHook) AfterCommit(ctx context.Context, change Change) error {
	events := h.eventsFor(change)
	if len(events) == 0 {
		return nil
	}
	sharedApplication.ApplyEventMetadata(events, sharedApplication.NewEventMetadata(ctx, change.Principal.SubjectID))

	msgs := make([]*outbox.Message, 0, len(events))
	for _, event := range events {
		msg, err := outbox.NewMessage(event)
		if err != nil {
			return fmt.Errorf("encode %s: %w", event.RoutingKey(), err)
		}
		msgs = append(msgs, msg)
	}
	return h.outboxRepo.SaveBatch(ctx, msgs)
}

func (h *NotificationHook) eventsFor(change Change) []sharedDomain.DomainEvent {
	var events []sharedDomain.DomainEvent

	if change.Outcome == OutcomeCreated && change.After != nil && change.Key.Kind.IsToggle() &&
		change.NotifySubjectID != "" && change.NotifySubjectID != change.Principal.SubjectID {
		req := domain.NotificationRequest{
			NotifySubjectID: change.NotifySubjectID,
			ActorSubjectID:  change.Key.SubjectID,
			ResourceID:      change.Key.ResourceID,
			Kind:            change.Key.Kind,
		}
		if change.Audit != nil {
			req.Reason = change.Audit.Reason
		}
		events = append(events, domain.NewNotificationRequested(change.After.ID, req))
	}

	if change.Payment != nil && change.After != nil && change.Outcome.Applied() {
		from := domain.StateAbsent
		if change.Before != nil {
			from = change.Before.State
		}
		p := change.Payment
		events = append(events, domain.NewPaymentConfirmed(change.After.ID, domain.PaymentConfirmedPayload{
			SubjectID:            p.SubjectID,
			PlanID:               p.PlanID,
			OldState:             from,
			NewState:             change.After.State,
			PaymentMethod:        p.PaymentMethod,
			TransactionReference: p.TransactionReference,
			Amount:               p.Amount,
			Currency:             p.Currency,
		}))
	}

	return events
}

var _ PostCommitHook = (*NotificationHook)(nil)

package application

import (
	"context"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

// Outcome describes what a reconciliation did.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDeleted   Outcome = "deleted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeReplayed reports a transaction reference that was already applied.
	OutcomeReplayed Outcome = "replayed"
)

// Applied reports whether the outcome mutated storage.
func (o Outcome) Applied() bool {
	switch o {
	case OutcomeCreated, OutcomeDeleted, OutcomeUpdated:
		return true
	default:
		return false
	}
}

// Result is the confirmed state of a key after a reconciliation.
type Result struct {
	// Record is nil when no record exists after the call.
	Record  *domain.Record
	Outcome Outcome
	// Audit is the entry written by this call, or the prior entry on replay.
	Audit *domain.AuditEntry
}

// Enabled reports whether a toggle-kind record exists after the call.
func (r Result) Enabled() bool {
	return r.Record.Enabled()
}

// Change is handed to post-commit hooks after a mutation commits.
type Change struct {
	Principal domain.Principal
	Key       domain.Key
	Outcome   Outcome
	Before    *domain.Record
	After     *domain.Record
	Audit     *domain.AuditEntry
	// NotifySubjectID is set for likes and subscriptions that should notify someone.
	NotifySubjectID string
	// Payment is set for payment confirmations.
	Payment *domain.PaymentConfirmation
}

// PostCommitHook runs after a mutation commits. Its error is logged and
// never undoes the mutation.
type PostCommitHook interface {
	Name() string
	AfterCommit(ctx context.Context, change Change) error
}

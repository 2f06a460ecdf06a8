package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	sharedApplication "github.com/felixgeelhaar/agora/internal/shared/application"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/lock"
)

// Reconciler is the only writer of entitlement records and audit entries.
type Reconciler struct {
	store    domain.Store
	audit    domain.AuditLog
	uow      sharedApplication.UnitOfWork
	locker   lock.Locker
	verifier domain.PaymentVerifier
	hooks    []PostCommitHook
	logger   *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPaymentVerifier sets the gateway used by ConfirmPayment.
func WithPaymentVerifier(v domain.PaymentVerifier) Option {
	return func(r *Reconciler) { r.verifier = v }
}

// WithHooks appends post-commit hooks, run in order.
func WithHooks(hooks ...PostCommitHook) Option {
	return func(r *Reconciler) { r.hooks = append(r.hooks, hooks...) }
}

// NewReconciler creates a reconciler.
func NewReconciler(
	store domain.Store,
	audit domain.AuditLog,
	uow sharedApplication.UnitOfWork,
	locker lock.Locker,
	logger *slog.Logger,
	opts ...Option,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		store:  store,
		audit:  audit,
		uow:    uow,
		locker: locker,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// pending is the mutation decided inside the unit of work.
type pending struct {
	before  *domain.Record
	after   *domain.Record
	outcome Outcome
	entry   *domain.AuditEntry
}

// Reconcile applies intent to one like or subscription key.
func (r *Reconciler) Reconcile(ctx context.Context, principal domain.Principal, intent domain.Intent) (res Result, err error) {
	start := time.Now()
	defer func() { observe("reconcile", intent.Kind, start, res.Outcome, err) }()

	if !principal.IsAuthenticated() {
		return Result{}, domain.ErrUnauthorized
	}
	if intent.SubjectID == "" {
		intent.SubjectID = principal.SubjectID
	}
	if intent.Action == "" {
		intent.Action = domain.ActionToggle
	}
	if err := authorize(principal, intent.SubjectID, intent.Kind); err != nil {
		return Result{}, err
	}
	if err := intent.Validate(); err != nil {
		return Result{}, err
	}

	key := intent.Key()
	unlock, err := r.lock(ctx, "entitlement:"+key.String())
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var p pending
	err = sharedApplication.WithUnitOfWork(ctx, r.uow, func(txCtx context.Context) error {
		current, err := r.store.Get(txCtx, key)
		if err != nil {
			return err
		}
		p, err = r.decide(txCtx, principal, intent, key, current)
		return err
	})
	if err != nil {
		return Result{}, classify(err)
	}

	res = Result{Record: p.after, Outcome: p.outcome}
	if !p.outcome.Applied() {
		return res, nil
	}

	change := Change{
		Principal: principal,
		Key:       key,
		Outcome:   p.outcome,
		Before:    p.before,
		After:     p.after,
		Audit:     p.entry,
	}
	if p.outcome == OutcomeCreated {
		change.NotifySubjectID = intent.NotifySubjectID
	}
	return r.finish(ctx, res, p.entry, change)
}

func (r *Reconciler) decide(ctx context.Context, principal domain.Principal, intent domain.Intent, key domain.Key, current *domain.Record) (pending, error) {
	exists := current != nil

	switch {
	case intent.Action == domain.ActionUpdate:
		if !exists {
			return pending{}, fmt.Errorf("%w: %s has no record to update", domain.ErrInvalidIntent, key)
		}
		return r.updateAttributes(ctx, principal, intent, current)

	case exists && (intent.Action == domain.ActionToggle || intent.Action == domain.ActionDisable):
		if err := r.store.Delete(ctx, key, current.Version); err != nil {
			return pending{}, err
		}
		entry := domain.NewAuditEntry(key, current.State, domain.StateAbsent, principal.SubjectID, intent.Reason)
		entry.Metadata[domain.MetaAction] = string(intent.Action)
		return pending{before: current, outcome: OutcomeDeleted, entry: entry}, nil

	case !exists && (intent.Action == domain.ActionToggle || intent.Action == domain.ActionEnable):
		record, err := domain.NewRecord(key, domain.StateOn, intent.Attributes)
		if err != nil {
			return pending{}, err
		}
		if err := r.store.Put(ctx, record); err != nil {
			return pending{}, err
		}
		entry := domain.NewAuditEntry(key, domain.StateAbsent, domain.StateOn, principal.SubjectID, intent.Reason)
		entry.Metadata[domain.MetaAction] = string(intent.Action)
		return pending{after: record, outcome: OutcomeCreated, entry: entry}, nil

	default:
		// enable on present or disable on absent
		return pending{before: current, after: current, outcome: OutcomeUnchanged}, nil
	}
}

func (r *Reconciler) updateAttributes(ctx context.Context, principal domain.Principal, intent domain.Intent, current *domain.Record) (pending, error) {
	next := current.Clone()
	if err := next.MergeAttributes(intent.Attributes); err != nil {
		return pending{}, err
	}
	if maps.Equal(current.Attributes, next.Attributes) {
		return pending{before: current, after: current, outcome: OutcomeUnchanged}, nil
	}
	if err := r.store.Put(ctx, next); err != nil {
		return pending{}, err
	}

	entry := domain.NewAuditEntry(current.Key(), current.State, next.State, principal.SubjectID, intent.Reason)
	entry.Metadata[domain.MetaAction] = string(domain.ActionUpdate)
	for name, value := range intent.Attributes {
		entry.Metadata["attr."+name] = value
	}
	return pending{before: current, after: next, outcome: OutcomeUpdated, entry: entry}, nil
}

// ConfirmPayment applies a gateway-verified payment at most once per
// transaction reference.
func (r *Reconciler) ConfirmPayment(ctx context.Context, principal domain.Principal, payment domain.PaymentConfirmation) (res Result, err error) {
	start := time.Now()
	defer func() { observe("confirm_payment", domain.KindPaymentStatus, start, res.Outcome, err) }()

	if !principal.IsAuthenticated() {
		return Result{}, domain.ErrUnauthorized
	}
	if payment.SubjectID == "" {
		payment.SubjectID = principal.SubjectID
	}
	if payment.SubjectID != principal.SubjectID && !principal.HasCapability(domain.CapabilityAdmin) {
		return Result{}, domain.ErrForbidden
	}
	if err := payment.Validate(); err != nil {
		return Result{}, err
	}
	if r.verifier == nil {
		return Result{}, fmt.Errorf("%w: no payment verifier configured", domain.ErrGatewayUnavailable)
	}

	unlockRef, err := r.lock(ctx, "txref:"+payment.TransactionReference)
	if err != nil {
		return Result{}, err
	}
	defer unlockRef()

	if prior, err := r.replay(ctx, principal, payment); prior != nil || err != nil {
		if err != nil {
			return Result{}, err
		}
		return *prior, nil
	}

	verified, err := r.verifier.Verify(ctx, payment.PaymentMethod, payment.TransactionReference)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	if !verified {
		return Result{}, domain.ErrPaymentNotVerified
	}

	key := payment.Key()
	unlock, err := r.lock(ctx, "entitlement:"+key.String())
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var p pending
	err = sharedApplication.WithUnitOfWork(ctx, r.uow, func(txCtx context.Context) error {
		current, err := r.store.Get(txCtx, key)
		if err != nil {
			return err
		}
		p, err = r.activate(txCtx, principal, payment, current)
		return err
	})
	if err != nil {
		return Result{}, classify(err)
	}

	res = Result{Record: p.after, Outcome: p.outcome}
	return r.finish(ctx, res, p.entry, Change{
		Principal: principal,
		Key:       key,
		Outcome:   p.outcome,
		Before:    p.before,
		After:     p.after,
		Audit:     p.entry,
		Payment:   &payment,
	})
}

// replay returns the result recorded for an already applied transaction
// reference. A reference applied to another key is only disclosed to
// admins; anyone else is refused.
func (r *Reconciler) replay(ctx context.Context, principal domain.Principal, payment domain.PaymentConfirmation) (*Result, error) {
	prior, err := r.audit.FindByTransactionReference(ctx, payment.TransactionReference)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	if prior == nil {
		return nil, nil
	}

	if prior.Key() != payment.Key() {
		r.logger.Warn("transaction reference replayed for a different key",
			"transaction_reference", payment.TransactionReference,
			"applied_to", prior.Key().String(),
			"requested", payment.Key().String(),
			"principal", principal.SubjectID,
		)
		if !principal.HasCapability(domain.CapabilityAdmin) {
			return nil, fmt.Errorf("%w: transaction reference belongs to another entitlement", domain.ErrForbidden)
		}
	}

	current, err := r.store.Get(ctx, prior.Key())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	r.logger.Info("payment replay ignored",
		"transaction_reference", payment.TransactionReference,
		"subject_id", prior.SubjectID,
		"plan_id", prior.ResourceID,
		"reason", domain.ErrDuplicateTransaction.Error(),
	)
	return &Result{Record: current, Outcome: OutcomeReplayed, Audit: prior}, nil
}

func (r *Reconciler) activate(ctx context.Context, principal domain.Principal, payment domain.PaymentConfirmation, current *domain.Record) (pending, error) {
	from := domain.StateAbsent
	if current != nil {
		from = current.State
	}
	if !domain.CanConfirm(from) {
		return pending{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, domain.StateActive)
	}

	attrs := domain.Attributes{
		domain.AttrPlan:                     payment.PlanID,
		domain.AttrLastTransactionReference: payment.TransactionReference,
		domain.AttrLastPaymentMethod:        payment.PaymentMethod,
		domain.AttrRenewedAt:                time.Now().UTC().Format(time.RFC3339),
	}

	var (
		next    *domain.Record
		outcome Outcome
		err     error
	)
	if current == nil {
		next, err = domain.NewRecord(payment.Key(), domain.StateActive, attrs)
		if err != nil {
			return pending{}, err
		}
		outcome = OutcomeCreated
	} else {
		next = current.Clone()
		next.State = domain.StateActive
		if err := next.MergeAttributes(attrs); err != nil {
			return pending{}, err
		}
		outcome = OutcomeUpdated
	}
	if err := r.store.Put(ctx, next); err != nil {
		return pending{}, err
	}

	reason := "payment confirmed"
	if from == domain.StateActive {
		reason = "payment renewed"
	}
	entry := domain.NewAuditEntry(payment.Key(), from, domain.StateActive, principal.SubjectID, reason)
	entry.TransactionReference = payment.TransactionReference
	maps.Copy(entry.Metadata, payment.AuditMetadata())

	return pending{before: current, after: next, outcome: outcome, entry: entry}, nil
}

// SetPaymentStatus is the administrative path for payment status,
// and the only way to reach expired.
func (r *Reconciler) SetPaymentStatus(ctx context.Context, principal domain.Principal, subjectID, planID string, status domain.State, reason string) (res Result, err error) {
	start := time.Now()
	defer func() { observe("set_payment_status", domain.KindPaymentStatus, start, res.Outcome, err) }()

	if !principal.IsAuthenticated() {
		return Result{}, domain.ErrUnauthorized
	}
	if !principal.HasCapability(domain.CapabilityAdmin) {
		return Result{}, domain.ErrForbidden
	}
	key, err := domain.NewKey(subjectID, planID, domain.KindPaymentStatus)
	if err != nil {
		return Result{}, err
	}
	if _, err := domain.ParsePaymentState(string(status)); err != nil {
		return Result{}, err
	}

	unlock, err := r.lock(ctx, "entitlement:"+key.String())
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var p pending
	err = sharedApplication.WithUnitOfWork(ctx, r.uow, func(txCtx context.Context) error {
		current, err := r.store.Get(txCtx, key)
		if err != nil {
			return err
		}

		from := domain.StateAbsent
		if current != nil {
			from = current.State
		}
		if current != nil && from == status {
			p = pending{before: current, after: current, outcome: OutcomeUnchanged}
			return nil
		}
		if !domain.CanSet(from, status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, status)
		}

		var next *domain.Record
		if current == nil {
			next, err = domain.NewRecord(key, status, domain.Attributes{domain.AttrPlan: planID})
			if err != nil {
				return err
			}
			p.outcome = OutcomeCreated
		} else {
			next = current.Clone()
			next.State = status
			p.outcome = OutcomeUpdated
		}
		if err := r.store.Put(txCtx, next); err != nil {
			return err
		}

		entry := domain.NewAuditEntry(key, from, status, principal.SubjectID, reason)
		entry.Metadata[domain.MetaAction] = "set_status"
		p.before, p.after, p.entry = current, next, entry
		return nil
	})
	if err != nil {
		return Result{}, classify(err)
	}

	res = Result{Record: p.after, Outcome: p.outcome}
	if !p.outcome.Applied() {
		return res, nil
	}
	return r.finish(ctx, res, p.entry, Change{
		Principal: principal,
		Key:       key,
		Outcome:   p.outcome,
		Before:    p.before,
		After:     p.after,
		Audit:     p.entry,
	})
}

// finish appends the audit entry and runs hooks for a committed mutation.
// Neither step is cancelled by the caller once the mutation has committed.
func (r *Reconciler) finish(ctx context.Context, res Result, entry *domain.AuditEntry, change Change) (Result, error) {
	ctx = context.WithoutCancel(ctx)

	var partial error
	if err := r.audit.Append(ctx, entry); err != nil {
		partialFailures.Inc()
		r.logger.Error("audit append failed after commit; repair required",
			"subject_id", entry.SubjectID,
			"resource_id", entry.ResourceID,
			"kind", entry.Kind,
			"old_state", entry.OldState,
			"new_state", entry.NewState,
			"transaction_reference", entry.TransactionReference,
			"error", err,
		)
		partial = &domain.PartialFailureError{Entry: entry, Err: err}
	} else {
		res.Audit = entry
	}

	change.Audit = res.Audit
	r.runHooks(ctx, change)
	return res, partial
}

func (r *Reconciler) runHooks(ctx context.Context, change Change) {
	for _, hook := range r.hooks {
		if err := hook.AfterCommit(ctx, change); err != nil {
			hookFailures.WithLabelValues(hook.Name()).Inc()
			r.logger.Warn("post-commit hook failed",
				"hook", hook.Name(),
				"subject_id", change.Key.SubjectID,
				"resource_id", change.Key.ResourceID,
				"kind", change.Key.Kind,
				"error", err,
			)
		}
	}
}

func (r *Reconciler) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := r.locker.Lock(ctx, key)
	if err == nil {
		return unlock, nil
	}
	if errors.Is(err, lock.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s is busy", domain.ErrStorageConflict, key)
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
}

func authorize(principal domain.Principal, subjectID string, kind domain.Kind) error {
	if principal.HasCapability(domain.CapabilityAdmin) {
		return nil
	}
	if subjectID != principal.SubjectID || kind == domain.KindPaymentStatus {
		return domain.ErrForbidden
	}
	return nil
}

// classify keeps domain errors and reports everything else as unavailable storage.
func classify(err error) error {
	for _, known := range []error{
		domain.ErrStorageConflict,
		domain.ErrStorageUnavailable,
		domain.ErrInvalidIntent,
		domain.ErrInvalidAttributes,
		domain.ErrInvalidTransition,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
}

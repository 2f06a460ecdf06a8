package application

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

// Queries answers read-only questions about entitlements and their history.
type Queries struct {
	store domain.Store
	audit domain.AuditLog
}

// NewQueries creates a query service.
func NewQueries(store domain.Store, audit domain.AuditLog) *Queries {
	return &Queries{store: store, audit: audit}
}

// Get returns the record at key, or nil when absent.
func (q *Queries) Get(ctx context.Context, principal domain.Principal, key domain.Key) (*domain.Record, error) {
	if err := q.canRead(principal, key.SubjectID); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	record, err := q.store.Get(ctx, key)
	if err != nil {
		return nil, unavailable(err)
	}
	return record, nil
}

// List returns a subject's entitlements of kind. Empty kind lists all kinds.
func (q *Queries) List(ctx context.Context, principal domain.Principal, subjectID string, kind domain.Kind) ([]*domain.Record, error) {
	if subjectID == "" {
		subjectID = principal.SubjectID
	}
	if err := q.canRead(principal, subjectID); err != nil {
		return nil, err
	}
	if kind != "" && !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidIntent, kind)
	}
	records, err := q.store.ListBySubject(ctx, subjectID, kind)
	if err != nil {
		return nil, unavailable(err)
	}
	return records, nil
}

// Count returns how many likes or subscriptions a resource has. Counts are public.
func (q *Queries) Count(ctx context.Context, resourceID string, kind domain.Kind) (int, error) {
	if resourceID == "" || !kind.IsToggle() {
		return 0, fmt.Errorf("%w: count needs a resource and a like or subscription kind", domain.ErrInvalidIntent)
	}
	n, err := q.store.CountByResource(ctx, resourceID, kind)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// History returns the audit trail of one key, oldest first.
func (q *Queries) History(ctx context.Context, principal domain.Principal, key domain.Key, limit int) ([]*domain.AuditEntry, error) {
	if err := q.canRead(principal, key.SubjectID); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	entries, err := q.audit.ListByKey(ctx, key, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	return entries, nil
}

// SubjectAudit returns a subject's most recent audit entries, newest first.
func (q *Queries) SubjectAudit(ctx context.Context, principal domain.Principal, subjectID string, limit int) ([]*domain.AuditEntry, error) {
	if subjectID == "" {
		subjectID = principal.SubjectID
	}
	if err := q.canRead(principal, subjectID); err != nil {
		return nil, err
	}
	entries, err := q.audit.ListBySubject(ctx, subjectID, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	return entries, nil
}

func (q *Queries) canRead(principal domain.Principal, subjectID string) error {
	if !principal.IsAuthenticated() {
		return domain.ErrUnauthorized
	}
	if subjectID != principal.SubjectID && !principal.HasCapability(domain.CapabilityAdmin) {
		return domain.ErrForbidden
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
}

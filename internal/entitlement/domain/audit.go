package domain

import (
	"context"
	"maps"
	"time"
)

// Audit metadata keys written for payment transitions.
const (
	MetaPaymentMethod        = "payment_method"
	MetaTransactionReference = "transaction_reference"
	MetaAmount               = "amount"
	MetaCurrency             = "currency"
	MetaAction               = "action"
)

// AuditEntry records one state transition. Entries are never updated or deleted.
type AuditEntry struct {
	// ID is assigned by storage on append.
	ID                   int64
	SubjectID            string
	ResourceID           string
	Kind                 Kind
	OldState             State
	NewState             State
	Reason               string
	ChangedBy            string
	OccurredAt           time.Time
	TransactionReference string
	Metadata             map[string]string
}

// NewAuditEntry describes a transition on key made by changedBy.
func NewAuditEntry(key Key, oldState, newState State, changedBy, reason string) *AuditEntry {
	return &AuditEntry{
		SubjectID:  key.SubjectID,
		ResourceID: key.ResourceID,
		Kind:       key.Kind,
		OldState:   oldState,
		NewState:   newState,
		Reason:     reason,
		ChangedBy:  changedBy,
		OccurredAt: time.Now().UTC(),
		Metadata:   map[string]string{},
	}
}

// Key returns the entitlement key the entry belongs to.
func (e *AuditEntry) Key() Key {
	return Key{SubjectID: e.SubjectID, ResourceID: e.ResourceID, Kind: e.Kind}
}

// Clone returns a deep copy.
func (e *AuditEntry) Clone() *AuditEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Metadata = maps.Clone(e.Metadata)
	return &c
}

// AuditLog is the append-only writer and reader for audit entries.
type AuditLog interface {
	// Append stores entry and sets its ID.
	Append(ctx context.Context, entry *AuditEntry) error
	// FindByTransactionReference returns nil, nil when ref was never applied.
	FindByTransactionReference(ctx context.Context, ref string) (*AuditEntry, error)
	// ListByKey returns entries oldest first, capped at limit.
	ListByKey(ctx context.Context, key Key, limit int) ([]*AuditEntry, error)
	// ListBySubject returns the subject's most recent entries, newest first.
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]*AuditEntry, error)
}

package domain

import "context"

// Store persists entitlement records. Implementations join the
// transaction carried in ctx.
type Store interface {
	// Get returns nil, nil when no record exists for key.
	Get(ctx context.Context, key Key) (*Record, error)
	// Put inserts when Version is zero and otherwise updates state and
	// attributes if the stored version matches. Version is advanced on success.
	Put(ctx context.Context, record *Record) error
	// Delete removes the record at key if its version matches.
	Delete(ctx context.Context, key Key, version int64) error
	// ListBySubject returns the subject's records of kind; empty kind means all.
	ListBySubject(ctx context.Context, subjectID string, kind Kind) ([]*Record, error)
	// CountByResource counts records of kind held on a resource.
	CountByResource(ctx context.Context, resourceID string, kind Kind) (int, error)
}

package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database"
)

const defaultAuditLimit = 100

// AuditLog implements domain.AuditLog for PostgreSQL and SQLite.
type AuditLog struct {
	conn database.Connection
}

// NewAuditLog creates a new audit log.
func NewAuditLog(conn database.Connection) *AuditLog {
	return &AuditLog{conn: conn}
}

const selectAudit = `
	SELECT id, subject_id, resource_id, kind, old_state, new_state, reason, changed_by,
	       occurred_at, transaction_reference, metadata
	FROM entitlement_audit`

// Append inserts entry and assigns its ID.
func (l *AuditLog) Append(ctx context.Context, entry *domain.AuditEntry) error {
	meta, err := encodeAttributes(entry.Metadata)
	if err != nil {
		return err
	}

	var txRef any
	if entry.TransactionReference != "" {
		txRef = entry.TransactionReference
	}

	err = database.ExecutorFromContext(ctx, l.conn).QueryRow(ctx, `
		INSERT INTO entitlement_audit (
			subject_id, resource_id, kind, old_state, new_state, reason, changed_by,
			occurred_at, transaction_reference, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		entry.SubjectID, entry.ResourceID, string(entry.Kind),
		string(entry.OldState), string(entry.NewState), entry.Reason, entry.ChangedBy,
		database.TimeArg(l.conn.Driver(), entry.OccurredAt), txRef, meta,
	).Scan(&entry.ID)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: transaction %s already recorded", domain.ErrStorageConflict, entry.TransactionReference)
	}
	return err
}

// FindByTransactionReference returns the entry that applied ref, or nil.
func (l *AuditLog) FindByTransactionReference(ctx context.Context, ref string) (*domain.AuditEntry, error) {
	row := database.ExecutorFromContext(ctx, l.conn).QueryRow(ctx,
		selectAudit+` WHERE transaction_reference = ? ORDER BY id LIMIT 1`, ref)

	entry, err := scanAudit(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	return entry, err
}

// ListByKey returns the key's history, oldest first.
func (l *AuditLog) ListByKey(ctx context.Context, key domain.Key, limit int) ([]*domain.AuditEntry, error) {
	return l.list(ctx,
		selectAudit+` WHERE subject_id = ? AND resource_id = ? AND kind = ? ORDER BY occurred_at, id LIMIT ?`,
		key.SubjectID, key.ResourceID, string(key.Kind), normalizeLimit(limit))
}

// ListBySubject returns the subject's latest entries, newest first.
func (l *AuditLog) ListBySubject(ctx context.Context, subjectID string, limit int) ([]*domain.AuditEntry, error) {
	return l.list(ctx,
		selectAudit+` WHERE subject_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		subjectID, normalizeLimit(limit))
}

func (l *AuditLog) list(ctx context.Context, query string, args ...any) ([]*domain.AuditEntry, error) {
	rows, err := database.ExecutorFromContext(ctx, l.conn).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanAudit(row database.Row) (*domain.AuditEntry, error) {
	var (
		e                domain.AuditEntry
		kind, oldS, newS string
		occurredAt       database.Timestamp
		txRef            sql.NullString
		meta             []byte
	)
	err := row.Scan(&e.ID, &e.SubjectID, &e.ResourceID, &kind, &oldS, &newS, &e.Reason, &e.ChangedBy,
		&occurredAt, &txRef, &meta)
	if err != nil {
		return nil, err
	}

	e.Kind = domain.Kind(kind)
	e.OldState = domain.State(oldS)
	e.NewState = domain.State(newS)
	e.OccurredAt = occurredAt.Time
	e.TransactionReference = txRef.String

	decoded, err := decodeAttributes(meta)
	if err != nil {
		return nil, fmt.Errorf("audit entry %d: %w", e.ID, err)
	}
	e.Metadata = decoded
	return &e, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultAuditLimit
	}
	return limit
}

var _ domain.AuditLog = (*AuditLog)(nil)

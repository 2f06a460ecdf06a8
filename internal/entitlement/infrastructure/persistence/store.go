package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/database"
)

// Store implements domain.Store for PostgreSQL and SQLite.
type Store struct {
	conn database.Connection
}

// NewStore creates a new entitlement store.
func NewStore(conn database.Connection) *Store {
	return &Store{conn: conn}
}

const selectRecord = `
	SELECT id, subject_id, resource_id, kind, state, attributes, version, created_at, updated_at
	FROM entitlements`

// Get returns the record at key, or nil when absent.
func (s *Store) Get(ctx context.Context, key domain.Key) (*domain.Record, error) {
	exec := database.ExecutorFromContext(ctx, s.conn)
	row := exec.QueryRow(ctx, selectRecord+` WHERE subject_id = ? AND resource_id = ? AND kind = ?`,
		key.SubjectID, key.ResourceID, string(key.Kind))

	record, err := scanRecord(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Put inserts or compare-and-swaps the record.
func (s *Store) Put(ctx context.Context, record *domain.Record) error {
	attrs, err := encodeAttributes(record.Attributes)
	if err != nil {
		return err
	}

	exec := database.ExecutorFromContext(ctx, s.conn)
	driver := s.conn.Driver()
	now := time.Now().UTC()

	if record.Version == 0 {
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		_, err := exec.Exec(ctx, `
			INSERT INTO entitlements (id, subject_id, resource_id, kind, state, attributes, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			record.ID, record.SubjectID, record.ResourceID, string(record.Kind), string(record.State), attrs,
			database.TimeArg(driver, record.CreatedAt), database.TimeArg(driver, now))
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s already exists", domain.ErrStorageConflict, record.Key())
		}
		if err != nil {
			return err
		}
		record.Version = 1
		record.UpdatedAt = now
		return nil
	}

	res, err := exec.Exec(ctx, `
		UPDATE entitlements
		SET state = ?, attributes = ?, version = version + 1, updated_at = ?
		WHERE subject_id = ? AND resource_id = ? AND kind = ? AND version = ?`,
		string(record.State), attrs, database.TimeArg(driver, now),
		record.SubjectID, record.ResourceID, string(record.Kind), record.Version)
	if err != nil {
		return err
	}
	if err := database.ExpectOneRow(res); err != nil {
		if database.IsNoRows(err) {
			return fmt.Errorf("%w: %s changed since version %d", domain.ErrStorageConflict, record.Key(), record.Version)
		}
		return err
	}
	record.Version++
	record.UpdatedAt = now
	return nil
}

// Delete removes the record at key if version still matches.
func (s *Store) Delete(ctx context.Context, key domain.Key, version int64) error {
	exec := database.ExecutorFromContext(ctx, s.conn)
	res, err := exec.Exec(ctx,
		`DELETE FROM entitlements WHERE subject_id = ? AND resource_id = ? AND kind = ? AND version = ?`,
		key.SubjectID, key.ResourceID, string(key.Kind), version)
	if err != nil {
		return err
	}
	if err := database.ExpectOneRow(res); err != nil {
		if database.IsNoRows(err) {
			return fmt.Errorf("%w: %s changed since version %d", domain.ErrStorageConflict, key, version)
		}
		return err
	}
	return nil
}

// ListBySubject returns the subject's records, newest first.
func (s *Store) ListBySubject(ctx context.Context, subjectID string, kind domain.Kind) ([]*domain.Record, error) {
	query := selectRecord + ` WHERE subject_id = ?`
	args := []any{subjectID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC, resource_id`

	rows, err := database.ExecutorFromContext(ctx, s.conn).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CountByResource counts records of kind on a resource.
func (s *Store) CountByResource(ctx context.Context, resourceID string, kind domain.Kind) (int, error) {
	var n int
	err := database.ExecutorFromContext(ctx, s.conn).QueryRow(ctx,
		`SELECT COUNT(*) FROM entitlements WHERE resource_id = ? AND kind = ?`,
		resourceID, string(kind)).Scan(&n)
	return n, err
}

func scanRecord(row database.Row) (*domain.Record, error) {
	var (
		r                    domain.Record
		kind, state          string
		attrs                []byte
		createdAt, updatedAt database.Timestamp
	)
	if err := row.Scan(&r.ID, &r.SubjectID, &r.ResourceID, &kind, &state, &attrs, &r.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	r.Kind = domain.Kind(kind)
	r.State = domain.State(state)
	r.CreatedAt = createdAt.Time
	r.UpdatedAt = updatedAt.Time

	decoded, err := decodeAttributes(attrs)
	if err != nil {
		return nil, fmt.Errorf("entitlement %s: %w", r.ID, err)
	}
	r.Attributes = decoded
	return &r, nil
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeAttributes(raw []byte) (map[string]string, error) {
	attrs := map[string]string{}
	if len(raw) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return attrs, nil
}

var _ domain.Store = (*Store)(nil)

package application

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, key domain.Key) (*domain.Record, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Record), args.Error(1)
}

func (m *mockStore) Put(ctx context.Context, record *domain.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockStore) Delete(ctx context.Context, key domain.Key, version int64) error {
	args := m.Called(ctx, key, version)
	return args.Error(0)
}

func (m *mockStore) ListBySubject(ctx context.Context, subjectID string, kind domain.Kind) ([]*domain.Record, error) {
	args := m.Called(ctx, subjectID, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Record), args.Error(1)
}

func (m *mockStore) CountByResource(ctx context.Context, resourceID string, kind domain.Kind) (int, error) {
	args := m.Called(ctx, resourceID, kind)
	return args.Int(0), args.Error(1)
}

type mockAuditLog struct {
	mock.Mock
}

func (m *mockAuditLog) Append(ctx context.Context, entry *domain.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockAuditLog) FindByTransactionReference(ctx context.Context, ref string) (*domain.AuditEntry, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AuditEntry), args.Error(1)
}

func (m *mockAuditLog) ListByKey(ctx context.Context, key domain.Key, limit int) ([]*domain.AuditEntry, error) {
	args := m.Called(ctx, key, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AuditEntry), args.Error(1)
}

func (m *mockAuditLog) ListBySubject(ctx context.Context, subjectID string, limit int) ([]*domain.AuditEntry, error) {
	args := m.Called(ctx, subjectID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AuditEntry), args.Error(1)
}

type mockUnitOfWork struct {
	mock.Mock
}

func (m *mockUnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(context.Context), args.Error(1)
}

func (m *mockUnitOfWork) Commit(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockUnitOfWork) Rollback(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, paymentMethod, transactionReference string) (bool, error) {
	args := m.Called(ctx, paymentMethod, transactionReference)
	return args.Bool(0), args.Error(1)
}

// recordingHook keeps every change it sees and fails with err when set.
type recordingHook struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

func (h *recordingHook) Name() string { return "recording" }

func (h *recordingHook) AfterCommit(_ context.Context, change Change) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, change)
	return h.err
}

func (h *recordingHook) Changes() []Change {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Change(nil), h.changes...)
}

var (
	_ domain.Store           = (*mockStore)(nil)
	_ domain.AuditLog        = (*mockAuditLog)(nil)
	_ domain.PaymentVerifier = (*mockVerifier)(nil)
)

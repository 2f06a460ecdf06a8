package projection

import (
	"context"
	"errors"
	"log/slog"

	"github.com/felixgeelhaar/agora/internal/entitlement/application"
	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

// ReconcilerRemote sets keys through an in-process reconciler on behalf of
// one principal.
type ReconcilerRemote struct {
	reconciler *application.Reconciler
	principal  domain.Principal
	logger     *slog.Logger
}

// NewReconcilerRemote creates a remote acting as principal.
func NewReconcilerRemote(reconciler *application.Reconciler, principal domain.Principal, logger *slog.Logger) *ReconcilerRemote {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcilerRemote{reconciler: reconciler, principal: principal, logger: logger}
}

// Set enables or disables key. A committed change whose audit entry failed
// still counts as confirmed.
func (r *ReconcilerRemote) Set(ctx context.Context, key domain.Key, desired bool) (bool, error) {
	action := domain.ActionDisable
	if desired {
		action = domain.ActionEnable
	}

	res, err := r.reconciler.Reconcile(ctx, r.principal, domain.Intent{
		SubjectID:  key.SubjectID,
		ResourceID: key.ResourceID,
		Kind:       key.Kind,
		Action:     action,
	})
	if err != nil && !errors.Is(err, domain.ErrPartialFailure) {
		return false, err
	}
	if err != nil {
		r.logger.Warn("toggle confirmed without audit entry",
			"subject_id", key.SubjectID,
			"resource_id", key.ResourceID,
			"kind", key.Kind,
		)
	}
	return res.Enabled(), nil
}

var _ Remote = (*ReconcilerRemote)(nil)

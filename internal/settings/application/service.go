// Package application exposes reading and editing of site settings.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	entitlementDomain "github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/settings/domain"
	sharedApplication "github.com/felixgeelhaar/agora/internal/shared/application"
)

// Service reads and updates site settings.
type Service struct {
	repo   domain.Repository
	uow    sharedApplication.UnitOfWork
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a settings service.
func NewService(repo domain.Repository, uow sharedApplication.UnitOfWork, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, uow: uow, logger: logger, now: time.Now}
}

// Get returns the current settings over the defaults. Settings are public.
func (s *Service) Get(ctx context.Context) (domain.SiteSettings, error) {
	return s.load(ctx)
}

// Update applies updates as one change. Only principals holding the
// settings admin capability may edit.
func (s *Service) Update(ctx context.Context, principal entitlementDomain.Principal, updates map[string]string) (domain.SiteSettings, error) {
	if !principal.IsAuthenticated() {
		return domain.SiteSettings{}, entitlementDomain.ErrUnauthorized
	}
	if !principal.HasCapability(domain.CapabilityAdmin) {
		return domain.SiteSettings{}, entitlementDomain.ErrForbidden
	}
	if len(updates) == 0 {
		return domain.SiteSettings{}, fmt.Errorf("%w: no settings given", domain.ErrInvalidSetting)
	}

	var result domain.SiteSettings
	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		current, err := s.load(txCtx)
		if err != nil {
			return err
		}
		if err := current.Apply(updates); err != nil {
			return err
		}
		if err := current.Validate(); err != nil {
			return err
		}

		at := s.now().UTC()
		stored := current.Values()
		changed := make(map[string]string, len(updates))
		for key := range updates {
			changed[key] = stored[key]
		}
		if err := s.repo.Save(txCtx, changed, principal.SubjectID, at); err != nil {
			return fmt.Errorf("%w: %w", entitlementDomain.ErrStorageUnavailable, err)
		}

		current.UpdatedBy = principal.SubjectID
		current.UpdatedAt = at
		result = current
		return nil
	})
	if err != nil {
		return domain.SiteSettings{}, err
	}

	s.logger.Info("site settings updated",
		"updated_by", principal.SubjectID,
		"keys", len(updates),
	)
	return result, nil
}

func (s *Service) load(ctx context.Context) (domain.SiteSettings, error) {
	values, updatedBy, updatedAt, err := s.repo.Load(ctx)
	if err != nil {
		return domain.SiteSettings{}, fmt.Errorf("%w: %w", entitlementDomain.ErrStorageUnavailable, err)
	}

	settings := domain.Defaults()
	known := make(map[string]string, len(values))
	for _, key := range domain.Keys() {
		if v, ok := values[key]; ok {
			known[key] = v
		}
	}
	if err := settings.Apply(known); err != nil {
		s.logger.Warn("ignoring unreadable stored settings", "error", err)
		settings = domain.Defaults()
	}
	settings.UpdatedBy = updatedBy
	settings.UpdatedAt = updatedAt
	return settings, nil
}

package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	settingsDomain "github.com/felixgeelhaar/agora/internal/settings/domain"
)

// SettingsService reads and edits site settings.
type SettingsService interface {
	Get(ctx context.Context) (settingsDomain.SiteSettings, error)
	Update(ctx context.Context, principal domain.Principal, updates map[string]string) (settingsDomain.SiteSettings, error)
}

// SettingsHandler serves the site settings.
type SettingsHandler struct {
	service SettingsService
	logger  *slog.Logger
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(service SettingsService, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{service: service, logger: logger}
}

// Get handles GET /api/v1/settings
func (h *SettingsHandler) Get(c *gin.Context) {
	s, err := h.service.Get(c.Request.Context())
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Update handles PUT /api/v1/settings. The body is a flat object of
// setting keys to string values.
func (h *SettingsHandler) Update(c *gin.Context) {
	var updates map[string]string
	if err := c.ShouldBindJSON(&updates); err != nil {
		abortWithError(c, h.logger, badRequest("body must be an object of string values"))
		return
	}

	s, err := h.service.Update(c.Request.Context(), PrincipalFrom(c), updates)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

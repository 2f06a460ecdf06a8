package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/agora/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/agora/pkg/observability"
)

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := observability.NewHealthRegistry()
	dbErr := error(nil)
	registry.Register("database", observability.PingChecker("database", true, func(context.Context) error { return dbErr }))
	processor := outbox.NewProcessor(outbox.NewInMemoryRepository(), eventbus.NewNoopPublisher(nil), outbox.DefaultProcessorConfig(), nil)
	handler := healthHandler(registry, processor)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":false`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	dbErr = errors.New("connection refused")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

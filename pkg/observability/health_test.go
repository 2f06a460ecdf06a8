package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthRegistry_Check(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	t.Run("healthy with no checks", func(t *testing.T) {
		health := NewHealthRegistry().Check(context.Background())
		assert.Equal(t, HealthStatusHealthy, health.Status)
		assert.Equal(t, http.StatusOK, health.HTTPStatus())
	})

	t.Run("optional component failure degrades", func(t *testing.T) {
		r := NewHealthRegistry()
		r.Register("database", PingChecker("database", true, ok))
		r.Register("redis", PingChecker("redis", false, down))

		health := r.Check(context.Background())
		assert.Equal(t, HealthStatusDegraded, health.Status)
		assert.Equal(t, http.StatusOK, health.HTTPStatus())
		assert.Contains(t, health.Checks["redis"].Message, "connection refused")
		assert.Equal(t, HealthStatusHealthy, health.Checks["database"].Status)
	})

	t.Run("critical component failure is unhealthy", func(t *testing.T) {
		r := NewHealthRegistry()
		r.Register("database", PingChecker("database", true, down))
		r.Register("rabbitmq", PingChecker("rabbitmq", false, down))

		health := r.Check(context.Background())
		assert.Equal(t, HealthStatusUnhealthy, health.Status)
		assert.Equal(t, http.StatusServiceUnavailable, health.HTTPStatus())
		assert.Len(t, health.Checks, 2)
	})
}

package application

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

var (
	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_reconcile_total",
		Help: "Reconciliations by operation, kind and outcome",
	}, []string{"operation", "kind", "outcome"})

	reconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agora_reconcile_duration_seconds",
		Help:    "Reconciliation latency including lock wait",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation"})

	partialFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agora_audit_partial_failures_total",
		Help: "Committed entitlement changes whose audit entry could not be appended",
	})

	hookFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_post_commit_hook_failures_total",
		Help: "Post-commit hook failures by hook",
	}, []string{"hook"})
)

func observe(operation string, kind domain.Kind, start time.Time, outcome Outcome, err error) {
	reconcileDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	reconcileTotal.WithLabelValues(operation, kindLabel(kind), outcomeLabel(outcome, err)).Inc()
}

// kindLabel keeps caller-supplied kinds out of the label space.
func kindLabel(kind domain.Kind) string {
	if !kind.IsValid() {
		return "invalid"
	}
	return string(kind)
}

func outcomeLabel(outcome Outcome, err error) string {
	switch {
	case err == nil:
		return string(outcome)
	case errors.Is(err, domain.ErrPartialFailure):
		return "partial_failure"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrStorageConflict):
		return "conflict"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrPaymentNotVerified):
		return "not_verified"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "gateway_unavailable"
	default:
		return "invalid"
	}
}

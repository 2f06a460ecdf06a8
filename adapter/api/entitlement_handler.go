package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/felixgeelhaar/agora/internal/entitlement/application"
	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Reconciler is the write side the handlers drive.
type Reconciler interface {
	Reconcile(ctx context.Context, principal domain.Principal, intent domain.Intent) (application.Result, error)
	ConfirmPayment(ctx context.Context, principal domain.Principal, payment domain.PaymentConfirmation) (application.Result, error)
	SetPaymentStatus(ctx context.Context, principal domain.Principal, subjectID, planID string, status domain.State, reason string) (application.Result, error)
}

// EntitlementQueries is the read side the handlers use.
type EntitlementQueries interface {
	Get(ctx context.Context, principal domain.Principal, key domain.Key) (*domain.Record, error)
	List(ctx context.Context, principal domain.Principal, subjectID string, kind domain.Kind) ([]*domain.Record, error)
	Count(ctx context.Context, resourceID string, kind domain.Kind) (int, error)
	History(ctx context.Context, principal domain.Principal, key domain.Key, limit int) ([]*domain.AuditEntry, error)
	SubjectAudit(ctx context.Context, principal domain.Principal, subjectID string, limit int) ([]*domain.AuditEntry, error)
}

// EntitlementHandler serves likes, subscriptions and payment status.
type EntitlementHandler struct {
	reconciler Reconciler
	queries    EntitlementQueries
	logger     *slog.Logger
}

// NewEntitlementHandler creates an entitlement handler.
func NewEntitlementHandler(reconciler Reconciler, queries EntitlementQueries, logger *slog.Logger) *EntitlementHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementHandler{reconciler: reconciler, queries: queries, logger: logger}
}

type reconcileRequest struct {
	SubjectID       string            `json:"subject_id"`
	ResourceID      string            `json:"resource_id" binding:"required"`
	Kind            string            `json:"kind" binding:"required"`
	Action          string            `json:"action"`
	Attributes      map[string]string `json:"attributes"`
	NotifySubjectID string            `json:"notify_subject_id"`
	Reason          string            `json:"reason" binding:"max=500"`
}

// Reconcile handles POST /api/v1/entitlements/reconcile
func (h *EntitlementHandler) Reconcile(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.logger, badRequest(err.Error()))
		return
	}
	action, err := domain.ParseAction(req.Action)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	res, err := h.reconciler.Reconcile(c.Request.Context(), PrincipalFrom(c), domain.Intent{
		SubjectID:       req.SubjectID,
		ResourceID:      req.ResourceID,
		Kind:            domain.Kind(req.Kind),
		Action:          action,
		Attributes:      req.Attributes,
		NotifySubjectID: req.NotifySubjectID,
		Reason:          req.Reason,
	})
	h.respond(c, res, err)
}

type setRequest struct {
	Enabled         *bool  `json:"enabled" binding:"required"`
	SubjectID       string `json:"subject_id"`
	NotifySubjectID string `json:"notify_subject_id"`
	Reason          string `json:"reason" binding:"max=500"`
}

// Set handles PUT /api/v1/entitlements/:kind/:resource_id with an absolute
// target value, which makes retries safe.
func (h *EntitlementHandler) Set(c *gin.Context) {
	var req setRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.logger, badRequest(err.Error()))
		return
	}

	action := domain.ActionDisable
	if *req.Enabled {
		action = domain.ActionEnable
	}
	res, err := h.reconciler.Reconcile(c.Request.Context(), PrincipalFrom(c), domain.Intent{
		SubjectID:       req.SubjectID,
		ResourceID:      c.Param("resource_id"),
		Kind:            domain.Kind(c.Param("kind")),
		Action:          action,
		NotifySubjectID: req.NotifySubjectID,
		Reason:          req.Reason,
	})
	h.respond(c, res, err)
}

// Get handles GET /api/v1/entitlements/:kind/:resource_id
func (h *EntitlementHandler) Get(c *gin.Context) {
	principal := PrincipalFrom(c)
	key := h.pathKey(c, principal)

	record, err := h.queries.Get(c.Request.Context(), principal, key)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled": record.Enabled(),
		"record":  newRecordView(record),
	})
}

// List handles GET /api/v1/entitlements
func (h *EntitlementHandler) List(c *gin.Context) {
	records, err := h.queries.List(c.Request.Context(), PrincipalFrom(c), c.Query("subject_id"), domain.Kind(c.Query("kind")))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	views := make([]*recordView, 0, len(records))
	for _, r := range records {
		views = append(views, newRecordView(r))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

// History handles GET /api/v1/entitlements/:kind/:resource_id/history
func (h *EntitlementHandler) History(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	principal := PrincipalFrom(c)

	entries, err := h.queries.History(c.Request.Context(), principal, h.pathKey(c, principal), limit)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newAuditViews(entries)})
}

// Count handles GET /api/v1/resources/:kind/:resource_id/count
func (h *EntitlementHandler) Count(c *gin.Context) {
	n, err := h.queries.Count(c.Request.Context(), c.Param("resource_id"), domain.Kind(c.Param("kind")))
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"resource_id": c.Param("resource_id"),
		"kind":        c.Param("kind"),
		"count":       n,
	})
}

type confirmPaymentRequest struct {
	SubjectID            string `json:"subject_id"`
	PlanID               string `json:"plan_id" binding:"required"`
	PaymentMethod        string `json:"payment_method" binding:"required"`
	TransactionReference string `json:"transaction_reference" binding:"required"`
	Amount               int64  `json:"amount" binding:"gte=0"`
	Currency             string `json:"currency" binding:"required,len=3"`
}

// ConfirmPayment handles POST /api/v1/payments/confirm
func (h *EntitlementHandler) ConfirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.logger, badRequest(err.Error()))
		return
	}

	principal := PrincipalFrom(c)
	if req.SubjectID == "" {
		req.SubjectID = principal.SubjectID
	}
	res, err := h.reconciler.ConfirmPayment(c.Request.Context(), principal, domain.PaymentConfirmation{
		SubjectID:            req.SubjectID,
		PlanID:               req.PlanID,
		PaymentMethod:        req.PaymentMethod,
		TransactionReference: req.TransactionReference,
		Amount:               req.Amount,
		Currency:             req.Currency,
	})
	h.respond(c, res, err)
}

type setStatusRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
	PlanID    string `json:"plan_id" binding:"required"`
	Status    string `json:"status" binding:"required"`
	Reason    string `json:"reason" binding:"max=500"`
}

// SetPaymentStatus handles PUT /api/v1/admin/payment-status
func (h *EntitlementHandler) SetPaymentStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.logger, badRequest(err.Error()))
		return
	}

	res, err := h.reconciler.SetPaymentStatus(c.Request.Context(), PrincipalFrom(c),
		req.SubjectID, req.PlanID, domain.State(req.Status), req.Reason)
	h.respond(c, res, err)
}

// SubjectAudit handles GET /api/v1/admin/audit
func (h *EntitlementHandler) SubjectAudit(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	subjectID := c.Query("subject_id")
	if subjectID == "" {
		abortWithError(c, h.logger, badRequest("subject_id is required"))
		return
	}

	entries, err := h.queries.SubjectAudit(c.Request.Context(), PrincipalFrom(c), subjectID, limit)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newAuditViews(entries)})
}

// respond writes the confirmation of a mutation. A partial failure is still
// a confirmed change, so the caller gets the record with 202.
func (h *EntitlementHandler) respond(c *gin.Context, res application.Result, err error) {
	var partial *domain.PartialFailureError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, newResultView(res, nil))
	case errors.As(err, &partial):
		h.logger.WarnContext(c.Request.Context(), "entitlement changed without audit entry",
			"key", partial.Entry.Key().String(),
			"error", partial.Err,
		)
		c.JSON(http.StatusAccepted, newResultView(res, err))
	default:
		abortWithError(c, h.logger, err)
	}
}

func (h *EntitlementHandler) pathKey(c *gin.Context, principal domain.Principal) domain.Key {
	subjectID := c.Query("subject_id")
	if subjectID == "" {
		subjectID = principal.SubjectID
	}
	return domain.Key{SubjectID: subjectID, ResourceID: c.Param("resource_id"), Kind: domain.Kind(c.Param("kind"))}
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultAuditLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, badRequest("limit must be a positive integer")
	}
	return min(n, maxAuditLimit), nil
}

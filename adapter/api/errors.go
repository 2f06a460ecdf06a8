package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	settingsDomain "github.com/felixgeelhaar/agora/internal/settings/domain"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common API errors
var (
	ErrBadRequest = &APIError{
		Status:  http.StatusBadRequest,
		Code:    "bad_request",
		Message: "Invalid request",
	}
	ErrInvalidToken = &APIError{
		Status:  http.StatusUnauthorized,
		Code:    "invalid_token",
		Message: "Bearer token is invalid or expired",
	}
	ErrInternalServer = &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "Internal server error",
	}
)

// errorMapping ties domain sentinels to responses. Order matters: the
// first match wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrInvalidIntent, http.StatusBadRequest, "invalid_intent"},
	{domain.ErrInvalidAttributes, http.StatusBadRequest, "invalid_attributes"},
	{settingsDomain.ErrUnknownSetting, http.StatusBadRequest, "unknown_setting"},
	{settingsDomain.ErrInvalidSetting, http.StatusBadRequest, "invalid_setting"},
	{domain.ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_transition"},
	{domain.ErrPaymentNotVerified, http.StatusPaymentRequired, "payment_not_verified"},
	{domain.ErrGatewayUnavailable, http.StatusBadGateway, "gateway_unavailable"},
	{domain.ErrStorageConflict, http.StatusConflict, "conflict"},
	{domain.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
}

// toAPIError maps a service error to its HTTP representation.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return &APIError{Status: m.status, Code: m.code, Message: err.Error()}
		}
	}
	return ErrInternalServer
}

// abortWithError writes err and stops the handler chain.
func abortWithError(c *gin.Context, logger *slog.Logger, err error) {
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", apiErr.Status,
			"error", err,
		)
	}
	c.AbortWithStatusJSON(apiErr.Status, apiErr)
}

func badRequest(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: ErrBadRequest.Code, Message: message}
}

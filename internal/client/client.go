// Package client talks to the Agora HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
	"github.com/felixgeelhaar/agora/internal/projection"
)

// Config configures the API client.
type Config struct {
	BaseURL string
	// Token is the caller's bearer token. Empty calls the API anonymously.
	Token   string
	Timeout time.Duration
}

// Client is an HTTP client for the entitlement API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("API URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{}
	if cfg.Token != "" {
		httpClient = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Token,
			TokenType:   "Bearer",
		}))
	}
	httpClient.Timeout = cfg.Timeout

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}, nil
}

type setRequest struct {
	Enabled   bool   `json:"enabled"`
	SubjectID string `json:"subject_id,omitempty"`
}

type stateResponse struct {
	Enabled       bool   `json:"enabled"`
	Outcome       string `json:"outcome"`
	AuditRecorded *bool  `json:"audit_recorded"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Set drives key to desired and returns the server-confirmed value.
func (c *Client) Set(ctx context.Context, key domain.Key, desired bool) (bool, error) {
	var resp stateResponse
	status, err := c.do(ctx, http.MethodPut, entitlementPath(key), setRequest{Enabled: desired, SubjectID: key.SubjectID}, &resp)
	if err != nil {
		return false, err
	}
	if status == http.StatusAccepted {
		c.logger.Warn("toggle confirmed without audit entry",
			"subject_id", key.SubjectID,
			"resource_id", key.ResourceID,
			"kind", key.Kind,
		)
	}
	return resp.Enabled, nil
}

// Get returns whether key is currently enabled.
func (c *Client) Get(ctx context.Context, key domain.Key) (bool, error) {
	var resp stateResponse
	path := entitlementPath(key)
	if key.SubjectID != "" {
		path += "?subject_id=" + url.QueryEscape(key.SubjectID)
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Enabled, nil
}

// Count returns the public like or subscriber count of a resource.
func (c *Client) Count(ctx context.Context, resourceID string, kind domain.Kind) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	path := fmt.Sprintf("/api/v1/resources/%s/%s/count", url.PathEscape(string(kind)), url.PathEscape(resourceID))
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	if resp.StatusCode >= 300 {
		var apiErr errorResponse
		_ = json.Unmarshal(raw, &apiErr)
		return resp.StatusCode, statusError(resp.StatusCode, apiErr)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// statusError maps an API status back to the domain error it came from.
func statusError(status int, body errorResponse) error {
	var sentinel error
	switch status {
	case http.StatusUnauthorized:
		sentinel = domain.ErrUnauthorized
	case http.StatusForbidden:
		sentinel = domain.ErrForbidden
	case http.StatusConflict:
		sentinel = domain.ErrStorageConflict
	case http.StatusBadRequest:
		sentinel = domain.ErrInvalidIntent
		if body.Code == "invalid_attributes" {
			sentinel = domain.ErrInvalidAttributes
		}
	case http.StatusPaymentRequired:
		sentinel = domain.ErrPaymentNotVerified
	case http.StatusUnprocessableEntity:
		sentinel = domain.ErrInvalidTransition
	case http.StatusBadGateway:
		sentinel = domain.ErrGatewayUnavailable
	default:
		sentinel = domain.ErrStorageUnavailable
	}

	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("%w: %s (HTTP %d)", sentinel, msg, status)
}

func entitlementPath(key domain.Key) string {
	return fmt.Sprintf("/api/v1/entitlements/%s/%s", url.PathEscape(string(key.Kind)), url.PathEscape(key.ResourceID))
}

var _ projection.Remote = (*Client)(nil)

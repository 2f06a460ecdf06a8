package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

// ErrCircuitOpen is returned while the breaker rejects calls to the gateway.
var ErrCircuitOpen = errors.New("payment gateway circuit open")

// Config configures the HTTP verifier.
type Config struct {
	// BaseURL is the gateway root; verification is POSTed to BaseURL/verify.
	BaseURL string
	// TokenURL, ClientID and ClientSecret enable OAuth2 client credentials.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration

	// Breaker settings.
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// DefaultConfig returns conservative defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:          baseURL,
		Timeout:          5 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// HTTPVerifier asks a payment gateway over HTTP whether a payment happened.
type HTTPVerifier struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[bool]
	logger   *slog.Logger
}

type verifyRequest struct {
	PaymentMethod        string `json:"payment_method"`
	TransactionReference string `json:"transaction_reference"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

// NewHTTPVerifier creates a verifier. When ClientID is set every request
// carries a client-credentials bearer token.
func NewHTTPVerifier(cfg Config, logger *slog.Logger) (*HTTPVerifier, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("payment gateway URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = cc.Client(context.Background())
		client.Timeout = cfg.Timeout
	}

	v := &HTTPVerifier{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/verify",
		client:   client,
		logger:   logger,
	}
	v.breaker = gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return v, nil
}

// Verify returns the gateway's answer. A definite rejection is false, nil.
func (v *HTTPVerifier) Verify(ctx context.Context, paymentMethod, transactionReference string) (bool, error) {
	ok, err := v.breaker.Execute(func() (bool, error) {
		return v.verify(ctx, paymentMethod, transactionReference)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false, ErrCircuitOpen
	}
	return ok, err
}

func (v *HTTPVerifier) verify(ctx context.Context, paymentMethod, transactionReference string) (bool, error) {
	body, err := json.Marshal(verifyRequest{
		PaymentMethod:        paymentMethod,
		TransactionReference: transactionReference,
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify %s: %w", transactionReference, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		v.logger.Info("payment rejected by gateway",
			"transaction_reference", transactionReference,
			"status", resp.StatusCode,
		)
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode gateway response: %w", err)
	}
	return out.Verified, nil
}

// SimulatedVerifier accepts every payment. Development only.
type SimulatedVerifier struct {
	logger *slog.Logger
}

// NewSimulatedVerifier creates a verifier that always answers true.
func NewSimulatedVerifier(logger *slog.Logger) *SimulatedVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedVerifier{logger: logger}
}

func (v *SimulatedVerifier) Verify(_ context.Context, paymentMethod, transactionReference string) (bool, error) {
	v.logger.Warn("payment verification simulated",
		"payment_method", paymentMethod,
		"transaction_reference", transactionReference,
	)
	return true, nil
}

var (
	_ domain.PaymentVerifier = (*HTTPVerifier)(nil)
	_ domain.PaymentVerifier = (*SimulatedVerifier)(nil)
)

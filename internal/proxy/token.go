package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hls-token-proxy/internal/platform/httpclient"
	"hls-token-proxy/internal/platform/logger"
	"hls-token-proxy/internal/platform/metrics"

	"golang.org/x/time/rate"
)

const (
	// DefaultTokenTimeout bounds a single call to the token service.
	DefaultTokenTimeout = 10 * time.Second

	maxTokenResponseBytes = 1 << 20
)

// TokenConfig configures the token service client. It is built by the hosting
// process and passed in explicitly.
type TokenConfig struct {
	// BaseURL is the token service root; requests go to BaseURL + "/token".
	BaseURL string
	// Timeout bounds each call. Zero uses DefaultTokenTimeout.
	Timeout time.Duration
	// RateLimit paces outbound calls in requests per second across the
	// process. Zero or negative disables pacing.
	RateLimit float64
	// RateBurst is the limiter burst size. Values below 1 become 1.
	RateBurst int
}

// TokenIssuer exchanges a source URL for a short-lived tokenized URL.
type TokenIssuer interface {
	Issue(ctx context.Context, sourceURL, streamID string, forceRefresh bool) (string, error)
}

// TokenClient calls the remote token service.
type TokenClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewTokenClient returns a TokenClient for cfg. A nil client gets a copy of
// the shared transport with cfg.Timeout.
func NewTokenClient(cfg TokenConfig, client *http.Client) *TokenClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTokenTimeout
	}
	if client == nil {
		client = httpclient.WithTimeout(cfg.Timeout)
	}
	tc := &TokenClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		tc.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return tc
}

// BaseURL returns the token service root.
func (c *TokenClient) BaseURL() string {
	return c.baseURL
}

// Issue implements TokenIssuer. Any non-2xx status, transport error,
// undecodable body, success=false reply or empty tokenUrl is reported as a
// *TokenServiceError.
func (c *TokenClient) Issue(ctx context.Context, sourceURL, streamID string, forceRefresh bool) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &TokenServiceError{Detail: "rate limiter: " + err.Error()}
		}
	}

	body, err := json.Marshal(TokenRequest{URL: sourceURL, StreamID: streamID, ForceRefresh: forceRefresh})
	if err != nil {
		return "", &TokenServiceError{Detail: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", bytes.NewReader(body))
	if err != nil {
		return "", &TokenServiceError{Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &TokenServiceError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &TokenServiceError{Detail: fmt.Sprintf("token service returned %d", resp.StatusCode)}
	}

	var tr TokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&tr); err != nil {
		return "", &TokenServiceError{Detail: "decode response: " + err.Error()}
	}
	if !tr.Success {
		detail := tr.Error
		if detail == "" {
			detail = "token fetch failed"
		}
		return "", &TokenServiceError{Detail: detail}
	}
	if tr.TokenURL == "" {
		return "", &TokenServiceError{Detail: "response has no tokenUrl"}
	}
	return tr.TokenURL, nil
}

// Health calls GET <base>/health. It returns the status code and the decoded
// JSON body when the service answered 200.
func (c *TokenClient) Health(ctx context.Context) (int, any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil, nil
	}
	var data any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&data); err != nil {
		return resp.StatusCode, nil, nil
	}
	return resp.StatusCode, data, nil
}

// Mediator obtains tokenized URLs, retrying a failed request exactly once
// with forceRefresh set.
type Mediator struct {
	issuer  TokenIssuer
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewMediator returns a Mediator using issuer. Metrics may be nil.
func NewMediator(issuer TokenIssuer, log *slog.Logger, m *metrics.Metrics) *Mediator {
	return &Mediator{issuer: issuer, log: log, metrics: m}
}

// ObtainTokenURL returns a tokenized URL for sourceURL. At most two calls are
// made to the issuer; when both fail the error wraps ErrStreamUnavailable and
// the last token service error.
func (m *Mediator) ObtainTokenURL(ctx context.Context, sourceURL, streamID string) (string, error) {
	log := logger.FromContext(ctx, m.log)

	tokenURL, err := m.issuer.Issue(ctx, sourceURL, streamID, false)
	m.metrics.ObserveTokenRequest(err == nil)
	if err == nil {
		return tokenURL, nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %w", ErrStreamUnavailable, err)
	}

	log.Warn("token request failed, retrying with forced refresh",
		slog.String("stream_id", streamID),
		slog.String("error", err.Error()))
	m.metrics.IncTokenRetries()

	tokenURL, err = m.issuer.Issue(ctx, sourceURL, streamID, true)
	m.metrics.ObserveTokenRequest(err == nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStreamUnavailable, err)
	}
	return tokenURL, nil
}

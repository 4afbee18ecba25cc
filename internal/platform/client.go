// Package platform talks to the upstream fleet-management REST API. It
// covers the slice of that API the updater needs: listing published
// firmware images and driving device firmware updates (DFU).
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/brokkr-labs/brokkr/internal/config"
	"github.com/brokkr-labs/brokkr/internal/observability"
	"github.com/brokkr-labs/brokkr/internal/validation"
)

var (
	// ErrUnauthorized marks credential failures (HTTP 401/403). Retrying
	// without new credentials cannot succeed, so callers should fail fast.
	ErrUnauthorized = errors.New("platform rejected credentials")

	// ErrNotFound marks lookups of devices or resources the platform does
	// not know (HTTP 404).
	ErrNotFound = errors.New("platform resource not found")
)

// APIError carries a platform response that maps to no sentinel error.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform request failed with status %d: %s", e.Status, e.Body)
}

const (
	// tokenSkew renews OAuth tokens slightly before they expire so a
	// request never leaves with a token that dies in flight.
	tokenSkew = 30 * time.Second

	// maxResponseBody caps how much of a platform response is read into
	// memory. Firmware listings are the largest payload and stay well
	// under this.
	maxResponseBody = 4 << 20

	// maxErrorBody caps how much of a failed response is echoed back in
	// error messages.
	maxErrorBody = 4 << 10
)

// Client issues authenticated requests against the platform API.
//
// Authentication is either OAuth2 client credentials, minting and caching
// a bearer token from /oauth2/token, or a pre-issued session token sent
// as X-Session-Token on every request. All v1 calls share a client-side
// rate limiter and retry transient failures with exponential backoff.
type Client struct {
	logger  *slog.Logger
	cfg     config.PlatformConfig
	base    string
	http    *http.Client
	limiter *rate.Limiter

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// now is replaced in tests to control token expiry.
	now func() time.Time
}

// NewClient creates a platform API client from the given config.
func NewClient(logger *slog.Logger, cfg *config.PlatformConfig) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertNotNil(cfg, "platform config")

	return &Client{
		logger:  logger,
		cfg:     *cfg,
		base:    strings.TrimSuffix(cfg.Host, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		now:     time.Now,
	}
}

// v1URL builds {host}/v1/projects/{projectUID}/{path}, encoding the query
// when present.
func (c *Client) v1URL(projectUID, path string, query url.Values) string {
	u := fmt.Sprintf("%s/v1/projects/%s/%s", c.base, projectUID, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// doV1 performs one logical v1 API call: rate limit, authenticate, send,
// retry transient failures. It returns the response body of the final
// attempt.
func (c *Client) doV1(ctx context.Context, operation, method, rawURL string, payload []byte) ([]byte, error) {
	start := time.Now()
	code := "network_error"
	defer func() {
		observability.PlatformReqTotal.WithLabelValues(operation, code).Inc()
		observability.PlatformReqDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = c.cfg.RetryMaxInterval
	if policy.InitialInterval > policy.MaxInterval {
		// Keep the first delay inside the configured bound.
		policy.InitialInterval = policy.MaxInterval
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("platform rate limiter: %w", err)
		}

		respBody, status, err := c.attempt(ctx, method, rawURL, payload)

		if err == nil && status < http.StatusInternalServerError {
			code = strconv.Itoa(status)
			return c.mapResponse(status, respBody)
		}

		if err == nil {
			code = strconv.Itoa(status)
			err = &APIError{Status: status, Body: errorBody(respBody)}
		} else if errors.Is(err, ErrUnauthorized) {
			code = "auth_error"
		}

		if !transient(err) {
			return nil, err
		}

		if attempt >= c.cfg.RetryMaxTries {
			return nil, err
		}

		sleep := policy.NextBackOff()
		c.logger.Warn("retrying platform request",
			slog.String("operation", operation),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", sleep),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("platform request aborted: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

// attempt sends a single request. Errors are transport or credential
// problems; HTTP-level failures come back as a status code for the caller
// to classify.
func (c *Client) attempt(ctx context.Context, method, rawURL string, payload []byte) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.cfg.UsesSessionToken() {
		req.Header.Set("X-Session-Token", c.cfg.SessionToken)
	} else {
		token, err := c.oauthToken(ctx)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	return body, resp.StatusCode, nil
}

// mapResponse translates terminal platform statuses into errors callers
// can test with errors.Is.
func (c *Client) mapResponse(status int, body []byte) ([]byte, error) {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return body, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if !c.cfg.UsesSessionToken() {
			// The cached token may have been revoked upstream. Dropping
			// it makes the next call mint a fresh one.
			c.invalidateToken()
		}
		return nil, fmt.Errorf("authentication rejected (status %d): %w", status, ErrUnauthorized)
	case status == http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &APIError{Status: status, Body: errorBody(body)}
	}
}

// transient reports whether an attempt error is worth retrying. Credential
// and other terminal API errors are not; transport errors and 5xx are.
func transient(err error) bool {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}

	return true
}

func errorBody(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}

// Ping verifies the platform answers HTTP at all. The readiness probe calls
// it every few seconds, so it hits the unauthenticated /ping route and
// bypasses the rate limiter: a probe must not consume API quota.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/ping", nil)
	if err != nil {
		return fmt.Errorf("failed to build ping request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	// Any route-level answer proves reachability; only a server-side
	// failure marks the platform down.
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("platform ping returned status %d", resp.StatusCode)
	}
	return nil
}

// oauthToken returns a valid access token, minting a new one when the
// cached token is missing or about to expire.
func (c *Client) oauthToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Add(tokenSkew).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, expiresIn, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token
	// The token endpoint reports the lifetime in minutes.
	c.tokenExpiry = c.now().Add(time.Duration(expiresIn) * time.Minute)

	c.logger.Debug("minted platform access token",
		slog.Time("expires_at", c.tokenExpiry),
	)

	return c.accessToken, nil
}

// fetchToken performs the OAuth2 client-credentials exchange.
func (c *Client) fetchToken(ctx context.Context) (string, int, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("request token: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", 0, fmt.Errorf("token request rejected (status %d): %w", resp.StatusCode, ErrUnauthorized)
		}
		return "", 0, &APIError{Status: resp.StatusCode, Body: errorBody(body)}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", 0, fmt.Errorf("token response missing access_token")
	}

	return payload.AccessToken, payload.ExpiresIn, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

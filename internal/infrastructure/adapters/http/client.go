package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"itchdl/internal/domain"
	"itchdl/shared/config"
	"itchdl/shared/domain/observability"
	"itchdl/shared/domain/retry"
)

const maxErrorBody = 4096

// Client talks to the itch.io API and website. It implements
// domain.CatalogClient and domain.UploadOpener.
type Client struct {
	client     *http.Client
	noRedirect *http.Client
	limiter    *rate.Limiter
	policy     *retry.Policy
	apiKey     string
	apiBase    string
	userAgent  string
	logger     observability.Logger
	metrics    observability.Metrics
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its timeout is kept.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithRetryPolicy replaces the policy used for page and JSON requests
func WithRetryPolicy(p *retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// NewClient creates a client from the catalog, HTTP and retry settings
func NewClient(cfg *config.Config, logger observability.Logger, metrics observability.Metrics, opts ...Option) *Client {
	limit := rate.Inf
	if cfg.HTTP.RateLimit > 0 {
		limit = rate.Limit(cfg.HTTP.RateLimit)
	}
	burst := cfg.HTTP.RateBurst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		client:    &http.Client{Timeout: cfg.HTTP.Timeout},
		limiter:   rate.NewLimiter(limit, burst),
		policy:    retry.NewPolicy(cfg.Retry, domain.IsTransient),
		apiKey:    cfg.Itch.APIKey,
		apiBase:   strings.TrimRight(cfg.Itch.APIBaseURL, "/"),
		userAgent: cfg.HTTP.UserAgent,
		logger:    logger.WithFields(map[string]interface{}{"component": "api_client"}),
		metrics:   metrics.WithTags(map[string]string{"component": "api_client"}),
	}

	for _, opt := range opts {
		opt(c)
	}

	noRedirect := *c.client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.noRedirect = &noRedirect

	return c
}

// FetchPage downloads a web page. Pages are requested without credentials.
func (c *Client) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte

	err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			c.logger.Debug("Retrying page request", "url", rawURL, "attempt", attempt+1)
		}

		data, err := c.read(ctx, c.client, "page", rawURL, false)
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// GetJSON requests endpoint and decodes the response into out. Endpoints
// starting with "/" are resolved against the API base URL.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	target, err := c.resolve(endpoint, query)
	if err != nil {
		return err
	}

	var body []byte
	err = c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			c.logger.Debug("Retrying API request", "url", target, "attempt", attempt+1)
		}

		data, err := c.read(ctx, c.client, "json", target, true)
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	if err != nil {
		return err
	}

	if reason := apiErrors(body); reason != "" {
		return &domain.AccessDeniedError{URL: target, Reason: reason}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &domain.FetchError{URL: target, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}

// CheckKey verifies the configured API key against the profile endpoint
// and returns the account's username
func (c *Client) CheckKey(ctx context.Context) (string, error) {
	var data struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := c.GetJSON(ctx, "/profile", nil, &data); err != nil {
		c.metrics.IncrementCounter("http.key_check.failed", nil)
		return "", fmt.Errorf("failed to verify API key: %w", err)
	}
	if data.User.Username == "" {
		c.metrics.IncrementCounter("http.key_check.failed", nil)
		return "", &domain.AccessDeniedError{URL: "/profile", Reason: "no user for this API key"}
	}

	c.logger.Debug("API key verified", "user", data.User.Username)
	return data.User.Username, nil
}

// ExternalURL asks the API where an externally hosted upload lives. The
// redirect is read, never followed.
func (c *Client) ExternalURL(ctx context.Context, uploadID, downloadKeyID int64) (string, error) {
	target, err := c.resolve(fmt.Sprintf("/uploads/%d/download", uploadID), credentials(downloadKeyID))
	if err != nil {
		return "", err
	}

	var location string
	err = c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		resp, err := c.do(ctx, c.noRedirect, "external", target, true)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc, err := resp.Location()
			if err != nil {
				return &domain.FetchError{URL: target, Status: resp.StatusCode, Err: err}
			}
			location = loc.String()
			return nil
		}

		if err := statusError(resp, target); err != nil {
			return err
		}

		return &domain.FetchError{URL: target, Status: resp.StatusCode, Err: errors.New("no redirect for external upload")}
	})
	if err != nil {
		return "", err
	}

	return location, nil
}

// OpenUpload starts downloading a hosted upload. It makes a single attempt;
// the caller owns retries and must close the body.
func (c *Client) OpenUpload(ctx context.Context, uploadID, downloadKeyID int64) (*domain.UploadBody, error) {
	target, err := c.resolve(fmt.Sprintf("/uploads/%d/download", uploadID), credentials(downloadKeyID))
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, c.client, "upload", target, true)
	if err != nil {
		return nil, err
	}

	if err := statusError(resp, target); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return &domain.UploadBody{
		ReadCloser:  resp.Body,
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) resolve(endpoint string, query url.Values) (string, error) {
	raw := endpoint
	if strings.HasPrefix(endpoint, "/") {
		raw = c.apiBase + endpoint
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid request url %q: %w", raw, err)
	}

	if len(query) > 0 {
		q := u.Query()
		for key, values := range query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

func (c *Client) read(ctx context.Context, hc *http.Client, kind, target string, auth bool) ([]byte, error) {
	resp, err := c.do(ctx, hc, kind, target, auth)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusError(resp, target); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{URL: target, Status: resp.StatusCode, Retryable: ctx.Err() == nil, Err: err}
	}

	return data, nil
}

// do sends one rate limited GET request. Transport failures come back as
// FetchError; the response status is left to the caller.
func (c *Client) do(ctx context.Context, hc *http.Client, kind, target string, auth bool) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.FetchError{URL: target, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	if auth && c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.metrics.IncrementCounter("api.request", map[string]string{"kind": kind, "status": "error"})
		c.logger.Debug("Request failed", "kind", kind, "url", target, "error", err)
		return nil, &domain.FetchError{URL: target, Retryable: ctx.Err() == nil, Err: err}
	}

	c.metrics.IncrementCounter("api.request", map[string]string{"kind": kind, "status": strconv.Itoa(resp.StatusCode)})
	c.metrics.RecordHistogram("api.request.duration", duration.Seconds(), map[string]string{"kind": kind})
	c.logger.Debug("Request completed", "kind", kind, "url", target, "status", resp.StatusCode, "duration", duration)

	return resp, nil
}

// statusError maps an HTTP status to the domain error taxonomy. 2xx and
// 3xx map to nil.
func statusError(resp *http.Response, target string) error {
	code := resp.StatusCode
	switch {
	case code < 400:
		return nil
	case code == http.StatusNotFound:
		return &domain.NotFoundError{URL: target}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &domain.AccessDeniedError{URL: target, Reason: apiErrors(peek(resp.Body))}
	case code == http.StatusTooManyRequests || code >= 500:
		return &domain.FetchError{
			URL:        target,
			Status:     code,
			Retryable:  true,
			RetryDelay: retryAfter(resp.Header.Get("Retry-After")),
		}
	default:
		return &domain.FetchError{URL: target, Status: code}
	}
}

func peek(body io.Reader) []byte {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return data
}

// apiErrors extracts the "errors" field the itch.io API uses to refuse a
// request, if present
func apiErrors(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return ""
	}

	var payload struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Errors) == 0 || string(payload.Errors) == "null" {
		return ""
	}

	var messages []string
	if err := json.Unmarshal(payload.Errors, &messages); err == nil {
		return strings.Join(messages, "; ")
	}

	return string(payload.Errors)
}

func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

func credentials(downloadKeyID int64) url.Values {
	if downloadKeyID <= 0 {
		return nil
	}
	return url.Values{"download_key_id": []string{strconv.FormatInt(downloadKeyID, 10)}}
}

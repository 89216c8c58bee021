// File: internal/anty/client.go
// Description: HTTP client for the remote anti-detect browser provider. One
// client instance is shared by all workers; it owns request pacing, bearer
// auth, per-call timeouts, and the distinguished HTTP 429 signal.
package anty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/drawbot/api/schemas"
	"github.com/xkilldash9x/drawbot/internal/config"
	"github.com/xkilldash9x/drawbot/internal/netutil"
)

// ErrRateLimited is returned whenever the provider answers HTTP 429. The
// quota is shared across every worker in the process, so callers must treat
// this as operation-scoped and never retry it locally.
var ErrRateLimited = errors.New("anty: rate limited (HTTP 429)")

// APIError is a non-429 HTTP failure from the provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("anty: HTTP %d: %s", e.Status, body)
}

// IsServerError reports whether the failure was on the provider's side.
func (e *APIError) IsServerError() bool { return e.Status >= 500 }

// Client talks to both halves of the provider: the bearer-authenticated
// cloud API (fingerprints, profiles, proxies) and the unauthenticated local
// agent that starts and stops profiles on this machine.
type Client struct {
	cloudBase  string
	localBase  string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	json       jsoniter.API
	cfg        config.AntyConfig
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client. Used by tests to
// point the client at an httptest server transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURLs overrides both base URLs. Used by tests.
func WithBaseURLs(cloud, local string) Option {
	return func(c *Client) {
		c.cloudBase = strings.TrimRight(cloud, "/")
		c.localBase = strings.TrimRight(local, "/")
	}
}

// NewClient builds a provider client from configuration.
func NewClient(cfg config.AntyConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cloudBase:  strings.TrimRight(cfg.CloudBase, "/"),
		localBase:  strings.TrimRight(cfg.LocalBase, "/"),
		token:      cfg.Token,
		httpClient: netutil.NewClient(nil),
		logger:     logger.Named("anty"),
		json:       jsoniter.ConfigCompatibleWithStandardLibrary,
		cfg:        cfg,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do executes one HTTP call against the provider. The context is expected to
// carry the per-call deadline; do itself only adds pacing, auth, and the
// 429/error classification every caller relies on.
func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("anty: limiter wait: %w", err)
		}
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := c.json.Marshal(body)
		if err != nil {
			return fmt.Errorf("anty: encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("anty: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.HasPrefix(rawURL, c.cloudBase) && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("anty: %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("anty: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("Provider rate limit hit.",
			zap.String("method", method), zap.String("path", req.URL.Path))
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := c.json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("anty: decode response: %w", err)
		}
	}
	return nil
}

// withTimeout attaches d to ctx unless the caller already set a tighter deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// -- Fingerprints --

// GetFingerprint requests one synthetic fingerprint from the generator.
func (c *Client) GetFingerprint(ctx context.Context, platform, browserType, browserVersion string) (*schemas.Fingerprint, error) {
	q := url.Values{}
	q.Set("platform", platform)
	q.Set("browser_type", browserType)
	q.Set("browser_version", browserVersion)
	q.Set("type", "fingerprint")

	ctx, cancel := withTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var fp schemas.Fingerprint
	if err := c.do(ctx, http.MethodGet, c.cloudBase+"/fingerprints/fingerprint?"+q.Encode(), nil, &fp); err != nil {
		return nil, err
	}
	return &fp, nil
}

// Font is one entry of the provider's font catalog.
type Font struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GetFontList fetches the font catalog available for the platform/browser pair.
func (c *Client) GetFontList(ctx context.Context, platform, browserType, browserVersion string) ([]Font, error) {
	q := url.Values{}
	q.Set("platform", platform)
	q.Set("browser_type", browserType)
	q.Set("browser_version", browserVersion)

	ctx, cancel := withTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var out struct {
		Data []Font `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, c.cloudBase+"/fingerprints/font-list?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// -- Browser profiles --

// CreateProfileResponse is the provider's answer to a profile creation call.
// The success flag arrives as a bool from some API versions and as 0/1 from
// others, so it is kept raw and interpreted by OK().
type CreateProfileResponse struct {
	Success          json.RawMessage `json:"success"`
	BrowserProfileID int64           `json:"browserProfileId"`
}

// OK reports whether the success field is truthy.
func (r *CreateProfileResponse) OK() bool {
	s := strings.TrimSpace(string(r.Success))
	switch s {
	case "", "0", "false", "null":
		return false
	}
	return true
}

// CreateProfile registers a new browser profile remotely. The payload shape
// is owned by the profile package.
func (c *Client) CreateProfile(ctx context.Context, payload any) (*CreateProfileResponse, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.CreateTimeout)
	defer cancel()

	var resp CreateProfileResponse
	if err := c.do(ctx, http.MethodPost, c.cloudBase+"/browser_profiles", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartProfile asks the local agent to launch the profile and waits for the
// automation endpoint. The start budget is deliberately short: a profile
// that cannot come up inside it is treated as dead for this attempt.
func (c *Client) StartProfile(ctx context.Context, profileID int64) (*schemas.AutomationEndpoint, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.StartTimeout)
	defer cancel()

	var out struct {
		Automation struct {
			Port       int    `json:"port"`
			WsEndpoint string `json:"wsEndpoint"`
		} `json:"automation"`
	}
	u := fmt.Sprintf("%s/browser_profiles/%d/start?automation=1", c.localBase, profileID)
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	if out.Automation.Port == 0 {
		return nil, &APIError{Status: http.StatusOK, Body: "start response missing automation endpoint"}
	}

	host := "127.0.0.1"
	if lu, err := url.Parse(c.localBase); err == nil && lu.Hostname() != "" {
		host = lu.Hostname()
	}
	return &schemas.AutomationEndpoint{
		Host:   host,
		Port:   out.Automation.Port,
		WsPath: out.Automation.WsEndpoint,
	}, nil
}

// StopProfile asks the local agent to stop a running profile. Stopping an
// already-stopped or unknown profile is a no-op on the provider side.
func (c *Client) StopProfile(ctx context.Context, profileID int64) error {
	ctx, cancel := withTimeout(ctx, c.cfg.StopTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/browser_profiles/%d/stop", c.localBase, profileID)
	return c.do(ctx, http.MethodGet, u, nil, nil)
}

// DeleteProfile removes the remote profile resource.
func (c *Client) DeleteProfile(ctx context.Context, profileID int64) error {
	ctx, cancel := withTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/browser_profiles/%d?forceDelete=1", c.cloudBase, profileID)
	return c.do(ctx, http.MethodDelete, u, nil, nil)
}

// -- Proxies --

// CreateProxyRequest registers one proxy with the provider.
type CreateProxyRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Login    string `json:"login"`
	Password string `json:"password"`
	Type     string `json:"type"`
}

// ListProxies returns every proxy registered under the account. The API has
// no server-side filter over the full credential tuple, so callers match
// client-side.
func (c *Client) ListProxies(ctx context.Context) ([]schemas.RegisteredProxy, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var out struct {
		Data []schemas.RegisteredProxy `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, c.cloudBase+"/proxy", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateProxy registers a new proxy and returns the created object.
func (c *Client) CreateProxy(ctx context.Context, req CreateProxyRequest) (*schemas.RegisteredProxy, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.CreateTimeout)
	defer cancel()

	var out struct {
		Data schemas.RegisteredProxy `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, c.cloudBase+"/proxy", req, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// DeleteProxies removes the given proxy ids.
func (c *Client) DeleteProxies(ctx context.Context, ids []int64) error {
	ctx, cancel := withTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	body := struct {
		IDs []int64 `json:"ids"`
	}{IDs: ids}
	return c.do(ctx, http.MethodDelete, c.cloudBase+"/proxy", body, nil)
}

package authority

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
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
)

// APIKeyHeader authenticates devices against the authority server
const APIKeyHeader = "X-API-Key"

// Client is the Authority backed by the license-authority REST API
type Client struct {
	baseURL      *url.URL
	apiKey       string
	httpClient   *http.Client
	dialer       *websocket.Dialer
	logger       *slog.Logger
	reconnectMin time.Duration
	reconnectMax time.Duration

	tokenMu    sync.RWMutex
	adminToken string
}

// NewClient creates a Client from the authority config section
func NewClient(cfg config.AuthorityConfig, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid authority base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultAuthorityTimeout
	}

	return &Client{
		baseURL:      base,
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{Timeout: timeout},
		dialer:       &websocket.Dialer{HandshakeTimeout: timeout},
		logger:       logger.With(slog.String("component", "authority_client")),
		reconnectMin: config.StreamReconnectMin,
		reconnectMax: config.StreamReconnectMax,
	}, nil
}

// SetReconnectBackoff overrides the stream reconnect bounds
func (c *Client) SetReconnectBackoff(min, max time.Duration) {
	c.reconnectMin = min
	c.reconnectMax = max
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func productQuery(productID string) url.Values {
	return url.Values{"product": []string{productID}}
}

// do sends a JSON request and decodes a JSON response into out. A 404 is
// reported as ErrRecordNotFound; transport failures and 5xx responses as
// NetworkError.
func (c *Client) do(ctx context.Context, op, method, target string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
	c.tokenMu.RLock()
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	c.tokenMu.RUnlock()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "authority call",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.ErrRecordNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, apperrors.ErrUnauthorized)
	case resp.StatusCode >= 500:
		return apperrors.NewNetworkError(op, fmt.Errorf("authority returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s rejected with %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewNetworkError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) GetLicense(ctx context.Context, deviceID, productID string) (*LicenseRecord, error) {
	var rec LicenseRecord
	err := c.do(ctx, "get_license", http.MethodGet,
		c.endpoint("/v1/licenses/"+url.PathEscape(deviceID), productQuery(productID)), nil, &rec)
	if errors.Is(err, apperrors.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) UpsertLicense(ctx context.Context, deviceID, productID string, fields LicenseFields) error {
	return c.do(ctx, "upsert_license", http.MethodPut,
		c.endpoint("/v1/licenses/"+url.PathEscape(deviceID), productQuery(productID)), fields, nil)
}

func (c *Client) TouchLastSeen(ctx context.Context, deviceID, productID string, at time.Time) error {
	err := c.do(ctx, "touch_last_seen", http.MethodPost,
		c.endpoint("/v1/licenses/"+url.PathEscape(deviceID)+"/touch", productQuery(productID)),
		map[string]time.Time{"at": at}, nil)
	if errors.Is(err, apperrors.ErrRecordNotFound) {
		return nil
	}
	return err
}

func (c *Client) AppendHeartbeat(ctx context.Context, hb Heartbeat) error {
	return c.do(ctx, "append_heartbeat", http.MethodPost, c.endpoint("/v1/heartbeats", nil), hb, nil)
}

func (c *Client) GetDemo(ctx context.Context, deviceID, productID string) (*DemoRecord, error) {
	var demo DemoRecord
	err := c.do(ctx, "get_demo", http.MethodGet,
		c.endpoint("/v1/demos/"+url.PathEscape(deviceID), productQuery(productID)), nil, &demo)
	if errors.Is(err, apperrors.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &demo, nil
}

func (c *Client) UpsertDemo(ctx context.Context, demo DemoRecord) error {
	return c.do(ctx, "upsert_demo", http.MethodPut,
		c.endpoint("/v1/demos/"+url.PathEscape(demo.DeviceID), productQuery(demo.ProductID)), demo, nil)
}

// Ping checks that the authority answers its health endpoint
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, c.endpoint("/v1/health", nil), nil, nil)
}

// =============================================================================
// Admin API
// =============================================================================

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login exchanges admin credentials for a bearer token used by later admin calls
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp loginResponse
	err := c.do(ctx, "admin_login", http.MethodPost, c.endpoint("/v1/admin/login", nil),
		map[string]string{"username": username, "password": password}, &resp)
	if err != nil {
		return err
	}
	c.tokenMu.Lock()
	c.adminToken = resp.Token
	c.tokenMu.Unlock()
	return nil
}

func (c *Client) SetActive(ctx context.Context, deviceID, productID string, active bool) error {
	return c.do(ctx, "admin_set_active", http.MethodPatch,
		c.endpoint("/v1/admin/licenses/"+url.PathEscape(deviceID), productQuery(productID)),
		map[string]bool{"active": active}, nil)
}

func (c *Client) ListLicenses(ctx context.Context) ([]LicenseRecord, error) {
	var out []LicenseRecord
	if err := c.do(ctx, "admin_list", http.MethodGet, c.endpoint("/v1/admin/licenses", nil), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

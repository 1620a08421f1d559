package zenwifi

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
	"sync"

	"github.com/DanrwAU/zenwifi/internal/oauth"
	"github.com/DanrwAU/zenwifi/internal/rate"
	"go.uber.org/zap"
)

// TokenSource supplies bearer tokens for API calls. *oauth.Manager
// implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate(stale string)
	Login(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// Client talks to the Zen WiFi cloud API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger

	mu         sync.Mutex
	consumerID string
}

// NewHTTPClient returns the rate-guarded HTTP client used for both the API
// and the token endpoint.
func NewHTTPClient(cfg Config) *http.Client {
	return rate.WrapHTTP(cfg.RateDeclaration(), &http.Client{Timeout: cfg.requestTimeout()})
}

func NewClient(cfg Config, tokens TokenSource, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.baseURL(),
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger.Named("client"),
	}, nil
}

// Authenticate logs in with the account username and password.
func (c *Client) Authenticate(ctx context.Context) error {
	if err := c.tokens.Login(ctx); err != nil {
		return tokenError(err)
	}
	return nil
}

// RefreshTokens exchanges the stored refresh token for a new pair.
func (c *Client) RefreshTokens(ctx context.Context) error {
	if err := c.tokens.Refresh(ctx); err != nil {
		return tokenError(err)
	}
	return nil
}

// UserInfo fetches the account profile and caches its consumer id.
func (c *Client) UserInfo(ctx context.Context) (map[string]any, error) {
	info := map[string]any{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/account/userinfo", nil, &info); err != nil {
		return nil, err
	}
	if id := stringValue(info["consumerId"]); id != "" {
		c.mu.Lock()
		c.consumerID = id
		c.mu.Unlock()
	}
	return info, nil
}

// ConsumerID returns the cached consumer id, fetching user info when unset.
func (c *Client) ConsumerID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.consumerID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}
	if _, err := c.UserInfo(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumerID == "" {
		return "", fmt.Errorf("%w: userinfo has no consumerId", ErrAPI)
	}
	return c.consumerID, nil
}

func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	consumerID, err := c.ConsumerID(ctx)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Devices []Device `json:"devices"`
	}
	path := "/api/v1/consumer/device/getall?" + url.Values{"consumerId": {consumerID}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

func (c *Client) DeviceStatus(ctx context.Context, id DeviceID) (Status, error) {
	var status Status
	path := "/api/v1/device/status?" + url.Values{"deviceId": {string(id)}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// SetMode posts a mode command. The setpoint is sent only for modes other
// than off and only when non-nil.
func (c *Client) SetMode(ctx context.Context, id DeviceID, mode CommandMode, setpoint *float64) error {
	path, ok := commandPaths[mode]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}

	payload := struct {
		DeviceID DeviceID `json:"deviceid"`
		Setpoint *float64 `json:"setpoint,omitempty"`
	}{DeviceID: id}
	if mode != CommandOff {
		payload.Setpoint = setpoint
	}
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

// do sends an authenticated request. A 401 invalidates the token and the
// request is retried exactly once.
func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: encode request: %w", ErrAPI, err)
		}
		body = data
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return tokenError(err)
		}

		resp, err := c.send(ctx, method, path, body, token)
		if err != nil {
			return fmt.Errorf("%w: %s %s: %w", ErrCommunication, method, path, err)
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			drain(resp)
			c.logger.Debug("token rejected, renewing", zap.String("path", path))
			c.tokens.Invalidate(token)
			continue
		}
		return c.decode(path, resp, out)
	}
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func (c *Client) decode(path string, resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		drain(resp)
		return fmt.Errorf("%w: %s returned %d", ErrAuthentication, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %w", ErrAPI, HTTPStatusError{Status: resp.StatusCode, Body: string(data)})
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		c.logger.Debug("non-JSON response",
			zap.String("path", path),
			zap.String("content_type", contentType),
			zap.ByteString("body", data),
		)
		return nil
	}
	if out == nil {
		drain(resp)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: decode %s: %w", ErrAPI, path, err)
	}
	return nil
}

// tokenError maps token manager failures onto the client taxonomy.
func tokenError(err error) error {
	if errors.Is(err, oauth.ErrInvalidCredentials) || errors.Is(err, oauth.ErrNoRefreshToken) {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return fmt.Errorf("%w: token: %w", ErrCommunication, err)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func stringValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return ""
	}
}

// Package jilt is the HTTP client for the Jilt REST API.
package jilt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jilt-connector/internal/metrics"
	"jilt-connector/internal/model"
	"jilt-connector/internal/querystring"
	"jilt-connector/internal/remote"
	"jilt-connector/internal/transport"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.jilt.com/v1"

// DefaultTimeout bounds every call. Sync runs inside shopper requests, so
// this stays short.
const DefaultTimeout = 5 * time.Second

// userAgent identifies this client to the API edge.
const userAgent = "jilt-connector/1.0"

// Config holds client settings.
type Config struct {
	BaseURL    string
	SecretKey  string
	// KeySource, when set, supplies the secret key for each request and
	// takes precedence over SecretKey.
	KeySource  func(ctx context.Context) string
	ShopDomain string
	Timeout    time.Duration
	ChromeTLS  bool         // present a Chrome TLS fingerprint
	HTTPClient *http.Client // overrides Timeout/ChromeTLS when set
	Logger     *slog.Logger
}

// Client implements remote.Service over HTTP.
// Requests are form-encoded; responses are JSON.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  func(ctx context.Context) string
	shopDomain string
	logger     *slog.Logger
}

var _ remote.Service = (*Client)(nil)

// New creates a client with the given configuration.
func New(cfg Config) (*Client, error) {
	secretKey := cfg.KeySource
	if secretKey == nil {
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("secret key is required")
		}
		secretKey = func(context.Context) string { return cfg.SecretKey }
	}
	if cfg.ShopDomain == "" {
		return nil, fmt.Errorf("shop domain is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = transport.NewHTTPClient(timeout, cfg.ChromeTLS)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		secretKey:  secretKey,
		shopDomain: cfg.ShopDomain,
		logger:     logger,
	}, nil
}

// GetPublicKey returns the account's public key.
func (c *Client) GetPublicKey(ctx context.Context) (string, error) {
	var user struct {
		PublicKey string `json:"public_key"`
	}
	if err := c.do(ctx, "get_user", http.MethodGet, "/user", nil, &user); err != nil {
		return "", err
	}
	return user.PublicKey, nil
}

// FindShop returns the first shop for domain, or nil when there is none.
func (c *Client) FindShop(ctx context.Context, domain string) (*model.Shop, error) {
	params := querystring.New()
	params.Set("domain", domain)

	var shops []model.Shop
	if err := c.do(ctx, "find_shop", http.MethodGet, "/shops", params, &shops); err != nil {
		return nil, err
	}
	if len(shops) == 0 {
		return nil, nil
	}
	return &shops[0], nil
}

// CreateShop registers a shop.
func (c *Client) CreateShop(ctx context.Context, data *model.ShopData) (*model.Shop, error) {
	params, err := querystring.FromValue(data)
	if err != nil {
		return nil, err
	}
	var shop model.Shop
	if err := c.do(ctx, "create_shop", http.MethodPost, "/shops", params, &shop); err != nil {
		return nil, err
	}
	return &shop, nil
}

// UpdateShop updates a shop.
func (c *Client) UpdateShop(ctx context.Context, id model.RemoteID, data *model.ShopData) (*model.Shop, error) {
	params, err := querystring.FromValue(data)
	if err != nil {
		return nil, err
	}
	var shop model.Shop
	if err := c.do(ctx, "update_shop", http.MethodPut, "/shops/"+id.String(), params, &shop); err != nil {
		return nil, err
	}
	return &shop, nil
}

// DeleteShop deletes a shop.
func (c *Client) DeleteShop(ctx context.Context, id model.RemoteID) error {
	return c.do(ctx, "delete_shop", http.MethodDelete, "/shops/"+id.String(), nil, nil)
}

// GetOrder fetches an order.
func (c *Client) GetOrder(ctx context.Context, id model.RemoteID) (*model.RemoteOrder, error) {
	var order model.RemoteOrder
	if err := c.do(ctx, "get_order", http.MethodGet, "/orders/"+id.String(), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrder creates an order under the shop.
func (c *Client) CreateOrder(ctx context.Context, shopID model.RemoteID, payload *model.OrderPayload) (*model.RemoteOrder, error) {
	params, err := querystring.FromValue(payload)
	if err != nil {
		return nil, err
	}
	var order model.RemoteOrder
	path := "/shops/" + shopID.String() + "/orders"
	if err := c.do(ctx, "create_order", http.MethodPost, path, params, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder updates an order.
func (c *Client) UpdateOrder(ctx context.Context, id model.RemoteID, payload *model.OrderPayload) (*model.RemoteOrder, error) {
	params, err := querystring.FromValue(payload)
	if err != nil {
		return nil, err
	}
	var order model.RemoteOrder
	if err := c.do(ctx, "update_order", http.MethodPut, "/orders/"+id.String(), params, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// DeleteOrder deletes an order.
func (c *Client) DeleteOrder(ctx context.Context, id model.RemoteID) error {
	return c.do(ctx, "delete_order", http.MethodDelete, "/orders/"+id.String(), nil, nil)
}

// do performs one API call. GET and DELETE carry params in the query
// string, other methods in a form body. out may be nil.
func (c *Client) do(ctx context.Context, op, method, path string, params *querystring.Map, out any) error {
	key := c.secretKey(ctx)
	if key == "" {
		return model.NewNotConfiguredError("jilt secret key is not set")
	}

	endpoint := c.baseURL + path
	var body io.Reader
	if params != nil && params.Len() > 0 {
		encoded := querystring.Build(params)
		if method == http.MethodGet || method == http.MethodDelete {
			endpoint += "?" + encoded
		} else {
			body = strings.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	c.setHeaders(req, key)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRemote(op, 0, time.Since(start))
		c.logger.DebugContext(ctx, "jilt api request failed",
			slog.String("method", method),
			slog.String("url", endpoint),
			slog.String("authorization", "Token "+MaskToken(key)),
			slog.String("error", err.Error()),
		)
		return model.NewNetworkError("Jilt", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	metrics.ObserveRemote(op, resp.StatusCode, time.Since(start))
	if err != nil {
		return model.NewNetworkError("Jilt", fmt.Errorf("reading %s response: %w", op, err))
	}

	c.logger.DebugContext(ctx, "jilt api request",
		slog.String("method", method),
		slog.String("url", endpoint),
		slog.String("authorization", "Token "+MaskToken(key)),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseErrorResponse(resp.StatusCode, respBody)
	}

	if out == nil || len(strings.TrimSpace(string(respBody))) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing %s response: %w", op, err)
	}
	return nil
}

// setHeaders sets auth and content headers for API requests.
func (c *Client) setHeaders(req *http.Request, key string) {
	req.Header.Set("Authorization", "Token "+key)
	req.Header.Set("x-jilt-shop-domain", c.shopDomain)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// errorResponse is the API's error envelope.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// parseErrorResponse converts a non-2xx response to *model.APIError,
// preferring the API's own message over the generic status text.
func parseErrorResponse(statusCode int, body []byte) error {
	var apiErr errorResponse
	json.Unmarshal(body, &apiErr) // Best effort parse
	return model.NewRemoteError(statusCode, apiErr.Error.Message)
}

// MaskToken hides all but the first 2 and last 4 characters of a credential.
func MaskToken(token string) string {
	if len(token) <= 6 {
		return strings.Repeat("*", len(token))
	}
	return token[:2] + strings.Repeat("*", len(token)-6) + token[len(token)-4:]
}

package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jilt-connector/internal/metrics"
	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
	"jilt-connector/internal/transport"
)

const (
	restAPIPath    = "/wp-json/wc/v3"
	defaultTimeout = 10 * time.Second
	userAgent      = "jilt-connector/1.0"
)

// privilegedRoles can edit other users' content and are never logged in
// from a recovery link.
var privilegedRoles = map[string]bool{
	"administrator": true,
	"shop_manager":  true,
	"editor":        true,
}

// Config holds WooCommerce client settings.
type Config struct {
	StoreURL       string // e.g. https://shop.example.com
	AdminURL       string // defaults to StoreURL + /wp-admin/
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
	ChromeTLS      bool         // present a Chrome TLS fingerprint
	HTTPClient     *http.Client // overrides Timeout/ChromeTLS when set
	Logger         *slog.Logger
	Now            func() time.Time
}

// Client reads and updates a WooCommerce store over the REST API.
// It implements the storefront order, user and coupon interfaces.
type Client struct {
	httpClient     *http.Client
	storeURL       string
	adminURL       string
	consumerKey    string
	consumerSecret string
	logger         *slog.Logger
	now            func() time.Time
}

var (
	_ platform.OrderStore      = (*Client)(nil)
	_ platform.UserDirectory   = (*Client)(nil)
	_ platform.CouponValidator = (*Client)(nil)
)

// New creates a WooCommerce client.
func New(cfg Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, fmt.Errorf("consumer key and secret are required")
	}
	if _, err := url.Parse(cfg.StoreURL); err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}

	storeURL := strings.TrimSuffix(cfg.StoreURL, "/")
	adminURL := cfg.AdminURL
	if adminURL == "" {
		adminURL = storeURL + "/wp-admin/"
	}
	if !strings.HasSuffix(adminURL, "/") {
		adminURL += "/"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = transport.NewHTTPClient(timeout, cfg.ChromeTLS)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		httpClient:     httpClient,
		storeURL:       storeURL,
		adminURL:       adminURL,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		logger:         logger,
		now:            now,
	}, nil
}

// GetOrder fetches an order. A missing order returns an error matching
// model.ErrNotFound.
func (c *Client) GetOrder(ctx context.Context, id int64) (platform.Order, error) {
	var wc WooOrder
	if err := c.do(ctx, "wc_get_order", http.MethodGet, orderPath(id), nil, nil, &wc); err != nil {
		return nil, err
	}
	return c.orderRecord(&wc), nil
}

// UpdateStatus moves an order to status and records note against it.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status, note string) error {
	update := WooOrderUpdate{Status: status}
	if err := c.do(ctx, "wc_update_order", http.MethodPut, orderPath(id), nil, update, nil); err != nil {
		return err
	}
	if note == "" {
		return nil
	}
	return c.AddNote(ctx, id, note)
}

// AddNote adds a private order note.
func (c *Client) AddNote(ctx context.Context, id int64, note string) error {
	return c.do(ctx, "wc_add_order_note", http.MethodPost, orderPath(id)+"/notes", nil, WooOrderNote{Note: note}, nil)
}

// GetUser fetches a registered user through the customers endpoint, which
// returns any role.
func (c *Client) GetUser(ctx context.Context, id int64) (*platform.User, error) {
	var cust WooCustomer
	path := "/customers/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, "wc_get_customer", http.MethodGet, path, nil, nil, &cust); err != nil {
		return nil, err
	}
	return &platform.User{
		ID:         int64(cust.ID),
		Email:      cust.Email,
		FirstName:  cust.FirstName,
		LastName:   cust.LastName,
		AdminURL:   c.adminURL + "user-edit.php?user_id=" + strconv.Itoa(cust.ID),
		Privileged: privilegedRoles[cust.Role],
	}, nil
}

// IsValid reports whether code names a published coupon that has not
// expired and has uses left. Lookup failures count as invalid.
func (c *Client) IsValid(ctx context.Context, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}

	var coupons []WooCoupon
	query := url.Values{"code": {code}}
	if err := c.do(ctx, "wc_find_coupon", http.MethodGet, "/coupons", query, nil, &coupons); err != nil {
		c.logger.WarnContext(ctx, "coupon lookup failed", slog.String("code", code), slog.Any("error", err))
		return false
	}
	for i := range coupons {
		if strings.EqualFold(coupons[i].Code, code) {
			return couponUsable(&coupons[i], c.now())
		}
	}
	return false
}

func couponUsable(cp *WooCoupon, now time.Time) bool {
	if cp.Status != "" && cp.Status != "publish" {
		return false
	}
	if cp.DateExpires != nil && *cp.DateExpires != "" {
		expires, err := time.ParseInLocation("2006-01-02T15:04:05", *cp.DateExpires, time.UTC)
		if err == nil && !now.Before(expires) {
			return false
		}
	}
	if cp.UsageLimit != nil && *cp.UsageLimit > 0 && cp.UsageCount >= *cp.UsageLimit {
		return false
	}
	return true
}

func orderPath(id int64) string {
	return "/orders/" + strconv.FormatInt(id, 10)
}

// do performs one REST call. body is JSON-encoded when non-nil; out may be nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	endpoint := c.storeURL + restAPIPath + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling %s request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	c.setHeaders(req, body != nil)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRemote(op, 0, time.Since(start))
		return model.NewNetworkError("WooCommerce", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	metrics.ObserveRemote(op, resp.StatusCode, time.Since(start))
	if err != nil {
		return model.NewNetworkError("WooCommerce", fmt.Errorf("reading %s response: %w", op, err))
	}

	c.logger.DebugContext(ctx, "woocommerce request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.parseErrorResponse(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing %s response: %w", op, err)
	}
	return nil
}

// setHeaders sets auth and content headers for REST requests.
func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

// parseErrorResponse converts WooCommerce error responses to APIError.
func (c *Client) parseErrorResponse(statusCode int, body []byte) error {
	var wcErr WooErrorResponse
	json.Unmarshal(body, &wcErr) // Best effort parse

	switch statusCode {
	case 404:
		return model.NewNotFoundError("woocommerce resource")
	case 401, 403:
		return model.NewUnauthorizedError("WooCommerce authentication failed")
	case 400:
		msg := wcErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("request", msg)
	case 429:
		return model.NewRateLimitError("WooCommerce")
	default:
		return model.NewUpstreamError("WooCommerce",
			fmt.Errorf("status %d: %s - %s", statusCode, wcErr.Code, wcErr.Message))
	}
}

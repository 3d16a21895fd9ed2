// Package handler provides the connector's HTTP surface: the signed
// wc-api/jilt router, storefront lifecycle hooks, the admin MCP endpoint
// and health checks.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"jilt-connector/internal/cartsync"
	"jilt-connector/internal/integration"
	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
	"jilt-connector/internal/recovery"
)

// VersionHeader identifies responses as coming from the connector.
const VersionHeader = "x-jilt-version"

// DefaultCookieName is the shopper session cookie.
const DefaultCookieName = "wc_jilt_session"

// CartSync is the cart lifecycle surface the hooks drive.
type CartSync interface {
	CartUpdated(ctx context.Context, sess *platform.Session, snap *cartsync.Snapshot)
	CartEmptied(ctx context.Context, sess *platform.Session)
	CartLoadedFromSession(ctx context.Context, sess *platform.Session)
}

// OrderSync is the order lifecycle surface the hooks drive.
type OrderSync interface {
	OrderProcessed(ctx context.Context, sess *platform.Session, orderID int64)
	PaymentSuccessful(ctx context.Context, orderID int64)
	ThankYou(ctx context.Context, sess *platform.Session, orderID int64)
	StatusChanged(ctx context.Context, orderID int64, oldStatus, newStatus string)
	ApplyRecoveryCoupon(ctx context.Context, sess *platform.Session, code string) bool
	OrderNoteForCheckout(ctx context.Context, sess *platform.Session) string
}

// Recoverer rebuilds a session from a recovery link.
type Recoverer interface {
	Recover(ctx context.Context, req recovery.Request, sess *platform.Session) recovery.Outcome
}

// Deps groups the services the handlers call.
type Deps struct {
	Integration *integration.Service
	Carts       CartSync
	Orders      OrderSync
	Recovery    Recoverer
	Sessions    platform.SessionStore
}

// Config configures a Handler.
type Config struct {
	PluginVersion    string
	HomeURL          string
	PrettyPermalinks bool
	// HookToken authenticates /hooks requests. Hooks are refused when empty.
	HookToken     string
	MaxRequestAge time.Duration
	CookieName    string
	SecureCookie  bool
	Now           func() time.Time
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps      Deps
	cfg       Config
	resources map[resourceKey]resourceFunc
	logger    *slog.Logger
}

// New creates a Handler. It fails when the inbound resource table does not
// cover every advertised (verb, resource) pair.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Handler, error) {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &Handler{deps: deps, cfg: cfg, logger: logger}
	h.resources = h.resourceTable()
	if err := checkResourceTable(h.resources); err != nil {
		return nil, err
	}
	return h, nil
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Inbound router: recovery links and signed server-to-server requests
	mux.HandleFunc("/wc-api/jilt", h.handleAPI)
	mux.HandleFunc("/{$}", h.handleRoot)

	// Storefront lifecycle hooks
	mux.Handle("POST /hooks/cart", h.requireHookToken(h.handleCartUpdated))
	mux.Handle("POST /hooks/cart/emptied", h.requireHookToken(h.handleCartEmptied))
	mux.Handle("POST /hooks/login", h.requireHookToken(h.handleLogin))
	mux.Handle("POST /hooks/orders/{id}/processed", h.requireHookToken(h.handleOrderProcessed))
	mux.Handle("POST /hooks/orders/{id}/payment", h.requireHookToken(h.handlePaymentSuccessful))
	mux.Handle("POST /hooks/orders/{id}/status", h.requireHookToken(h.handleStatusChanged))
	mux.Handle("POST /hooks/orders/{id}/thankyou", h.requireHookToken(h.handleThankYou))
	mux.Handle("POST /hooks/checkout/coupon", h.requireHookToken(h.handleCheckoutCoupon))
	mux.Handle("POST /hooks/checkout/note", h.requireHookToken(h.handleCheckoutNote))

	// MCP transport - merchant administration tools
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/message from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError

	if !errors.As(err, &apiErr) {
		// Wrap unexpected errors
		apiErr = model.NewInternalError(err)
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{Message: apiErr.Message},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
}

// MaxRequestBodySize limits request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// === Sessions ===

// cookieSession returns the shopper session named by the request cookie,
// or a fresh one marked for cookie issue.
func (h *Handler) cookieSession(ctx context.Context, r *http.Request) (*platform.Session, error) {
	if c, err := r.Cookie(h.cfg.CookieName); err == nil && c.Value != "" {
		sess, err := h.deps.Sessions.Load(ctx, c.Value)
		if err != nil {
			return nil, fmt.Errorf("loading session: %w", err)
		}
		if sess != nil {
			return sess, nil
		}
	}
	sess := h.deps.Sessions.New()
	sess.RefreshCookie()
	return sess, nil
}

// saveSession persists sess and reissues the cookie when it was marked.
func (h *Handler) saveSession(ctx context.Context, w http.ResponseWriter, sess *platform.Session) error {
	if err := h.deps.Sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	if sess.CookieRefresh {
		http.SetCookie(w, &http.Cookie{
			Name:     h.cfg.CookieName,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			Secure:   h.cfg.SecureCookie,
			SameSite: http.SameSiteLaxMode,
			Expires:  h.cfg.Now().Add(48 * time.Hour),
		})
	}
	return nil
}

package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"jilt-connector/internal/cartsync"
	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
)

// hookRequest is the body the storefront sends with every lifecycle hook.
// Session carries the shopper state the storefront owns; connector values
// stored against the same session id are preserved.
type hookRequest struct {
	Session  *platform.Session  `json:"session,omitempty"`
	Snapshot *cartsync.Snapshot `json:"snapshot,omitempty"`
	Code     string             `json:"code,omitempty"`
	From     string             `json:"from,omitempty"`
	To       string             `json:"to,omitempty"`
}

// hookResponse returns the session so the storefront can pick up values the
// connector changed.
type hookResponse struct {
	Session *platform.Session `json:"session,omitempty"`
	Applied *bool             `json:"applied,omitempty"`
	Note    *string           `json:"note,omitempty"`
}

// requireHookToken authenticates hooks with a shared bearer token.
func (h *Handler) requireHookToken(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.HookToken == "" {
			h.writeError(w, model.NewNotConfiguredError("Hooks are not configured"))
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.HookToken)) != 1 {
			h.writeError(w, model.NewUnauthorizedError("Invalid hook token"))
			return
		}
		next(w, r)
	})
}

// hookSession loads the stored session named in the request and overlays
// the storefront-owned fields from the request.
func (h *Handler) hookSession(ctx context.Context, in *platform.Session) (*platform.Session, error) {
	if in == nil {
		return nil, model.NewValidationError("session", "required")
	}

	var sess *platform.Session
	if in.ID != "" {
		stored, err := h.deps.Sessions.Load(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		sess = stored
		if sess == nil {
			sess = platform.NewSession(in.ID)
		}
	} else {
		sess = h.deps.Sessions.New()
	}

	sess.UserID = in.UserID
	sess.Cart = in.Cart
	sess.Customer = in.Customer
	sess.AppliedCoupons = in.AppliedCoupons
	sess.ChosenShippingMethods = in.ChosenShippingMethods
	sess.ShippingMethodCounts = in.ShippingMethodCounts
	sess.ChosenPaymentMethod = in.ChosenPaymentMethod
	if sess.Cart == nil {
		sess.Cart = model.CartContents{}
	}
	if sess.Customer == nil {
		sess.Customer = model.StringMap{}
	}
	return sess, nil
}

// runSessionHook decodes a hook, runs fn against its session, saves the
// session and answers with it.
func (h *Handler) runSessionHook(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, req *hookRequest, sess *platform.Session) hookResponse) {
	ctx := r.Context()

	var req hookRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	sess, err := h.hookSession(ctx, req.Session)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.DebugContext(ctx, "hook", slog.String("path", r.URL.Path), slog.String("session", sess.ID))
	resp := fn(ctx, &req, sess)

	if err := h.deps.Sessions.Save(ctx, sess); err != nil {
		h.writeError(w, err)
		return
	}
	resp.Session = sess
	h.writeJSON(w, http.StatusOK, resp)
}

// handleCartUpdated syncs the cart after any change.
// POST /hooks/cart
func (h *Handler) handleCartUpdated(w http.ResponseWriter, r *http.Request) {
	h.runSessionHook(w, r, func(ctx context.Context, req *hookRequest, sess *platform.Session) hookResponse {
		snap := req.Snapshot
		if snap == nil {
			snap = &cartsync.Snapshot{}
		}
		h.deps.Carts.CartUpdated(ctx, sess, snap)
		return hookResponse{}
	})
}

// handleCartEmptied deletes the remote cart.
// POST /hooks/cart/emptied
func (h *Handler) handleCartEmptied(w http.ResponseWriter, r *http.Request) {
	h.runSessionHook(w, r, func(ctx context.Context, _ *hookRequest, sess *platform.Session) hookResponse {
		h.deps.Carts.CartEmptied(ctx, sess)
		return hookResponse{}
	})
}

// handleLogin restores a logged-in shopper's persistent cart binding.
// POST /hooks/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	h.runSessionHook(w, r, func(ctx context.Context, _ *hookRequest, sess *platform.Session) hookResponse {
		h.deps.Carts.CartLoadedFromSession(ctx, sess)
		return hookResponse{}
	})
}

// POST /hooks/orders/{id}/processed
func (h *Handler) handleOrderProcessed(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathOrderID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.runSessionHook(w, r, func(ctx context.Context, _ *hookRequest, sess *platform.Session) hookResponse {
		h.deps.Orders.OrderProcessed(ctx, sess, orderID)
		return hookResponse{}
	})
}

// POST /hooks/orders/{id}/thankyou
func (h *Handler) handleThankYou(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathOrderID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.runSessionHook(w, r, func(ctx context.Context, _ *hookRequest, sess *platform.Session) hookResponse {
		h.deps.Orders.ThankYou(ctx, sess, orderID)
		return hookResponse{}
	})
}

// handlePaymentSuccessful runs without a session: payment callbacks arrive
// from the gateway, not the shopper.
// POST /hooks/orders/{id}/payment
func (h *Handler) handlePaymentSuccessful(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathOrderID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.deps.Orders.PaymentSuccessful(r.Context(), orderID)
	w.WriteHeader(http.StatusNoContent)
}

// POST /hooks/orders/{id}/status
func (h *Handler) handleStatusChanged(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathOrderID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req hookRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.To == "" {
		h.writeError(w, model.NewValidationError("to", "required"))
		return
	}
	h.deps.Orders.StatusChanged(r.Context(), orderID, req.From, req.To)
	w.WriteHeader(http.StatusNoContent)
}

// handleCheckoutCoupon applies a recovery coupon carried on the checkout URL.
// POST /hooks/checkout/coupon
func (h *Handler) handleCheckoutCoupon(w http.ResponseWriter, r *http.Request) {
	h.runSessionHook(w, r, func(ctx context.Context, req *hookRequest, sess *platform.Session) hookResponse {
		applied := req.Code != "" && h.deps.Orders.ApplyRecoveryCoupon(ctx, sess, req.Code)
		return hookResponse{Applied: &applied}
	})
}

// handleCheckoutNote hands the stashed order note to the checkout form once.
// POST /hooks/checkout/note
func (h *Handler) handleCheckoutNote(w http.ResponseWriter, r *http.Request) {
	h.runSessionHook(w, r, func(ctx context.Context, _ *hookRequest, sess *platform.Session) hookResponse {
		note := h.deps.Orders.OrderNoteForCheckout(ctx, sess)
		return hookResponse{Note: &note}
	})
}

func pathOrderID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

// Package recovery rebuilds a shopper's cart and session from a signed
// recovery link. Every outcome ends in a redirect; failures fall back to the
// plain checkout page with a notice.
package recovery

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"jilt-connector/internal/binding"
	"jilt-connector/internal/metrics"
	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
	"jilt-connector/internal/remote"
	"jilt-connector/internal/signing"
)

// Notes and notices shown to merchants and shoppers.
const (
	RevisitedNote = "Customer visited Jilt order recovery URL."
	FailureNotice = "Oops, something went wrong. Please try again."
)

// ErrPrivilegedUser is returned when a link would log in a user who can
// edit other users' content.
var ErrPrivilegedUser = errors.New("refusing to log in privileged user")

// Branches reported in Outcome.Branch and the recoveries metric.
const (
	BranchPlacedOrder = "placed_order"
	BranchUser        = "user"
	BranchSession     = "session"
	BranchRemote      = "remote"
	BranchFailed      = "failed"
)

// Integration supplies the secret key links are verified with.
type Integration interface {
	SecretKey(ctx context.Context) string
}

// Request is an inbound recovery link visit.
type Request struct {
	Token  string
	Hash   string
	Coupon string
}

// Outcome tells the caller where to send the shopper.
type Outcome struct {
	RedirectURL string
	// Notice is a shopper-facing error message, empty on success.
	Notice string
	Branch string
}

// Config configures an Engine.
type Config struct {
	CheckoutURL string
}

// Deps groups the storefront collaborators the engine reads and writes.
type Deps struct {
	Sessions  platform.SessionStore
	Orders    platform.OrderStore
	OrderMeta platform.MetaStore
	UserMeta  platform.MetaStore
	Users     platform.UserDirectory
	Coupons   platform.CouponValidator
	Bindings  *binding.Store
}

// Engine handles recovery link visits.
type Engine struct {
	integration Integration
	remote      remote.Service
	deps        Deps
	cfg         Config
	logger      *slog.Logger
}

// New creates an Engine.
func New(integ Integration, svc remote.Service, deps Deps, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{integration: integ, remote: svc, deps: deps, cfg: cfg, logger: logger}
}

// Recover processes a recovery link against the visitor's session. On
// success the session is updated in place; the caller saves it and reissues
// the session cookie when sess.CookieRefresh is set. A failed recovery
// leaves sess untouched.
func (e *Engine) Recover(ctx context.Context, req Request, sess *platform.Session) Outcome {
	work := sess.Clone()
	out, err := e.recreate(ctx, req, work)
	if err != nil {
		e.logger.WarnContext(ctx, "could not recreate cart", slog.Any("error", err))
		metrics.Recoveries.WithLabelValues(BranchFailed).Inc()
		return Outcome{RedirectURL: e.cfg.CheckoutURL, Notice: FailureNotice, Branch: BranchFailed}
	}
	*sess = *work
	metrics.Recoveries.WithLabelValues(out.Branch).Inc()
	if out.RedirectURL == "" {
		out.RedirectURL = withCoupon(e.cfg.CheckoutURL, req.Coupon)
	}
	return out
}

func (e *Engine) recreate(ctx context.Context, req Request, sess *platform.Session) (Outcome, error) {
	order, err := e.verify(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	// An order already placed from this cart wins over any live session.
	orderID, err := e.deps.OrderMeta.FindByMeta(ctx, platform.OrderCartToken, order.CartToken)
	if err != nil {
		return Outcome{}, fmt.Errorf("looking up order for cart: %w", err)
	}
	if orderID != 0 {
		if redirect, ok, err := e.revisitOrder(ctx, orderID, sess); err != nil || ok {
			return Outcome{RedirectURL: redirect, Branch: BranchPlacedOrder}, err
		}
	}

	userID, err := e.deps.UserMeta.FindByMeta(ctx, platform.UserCartToken, order.CartToken)
	if err != nil {
		return Outcome{}, fmt.Errorf("looking up user for cart: %w", err)
	}
	if userID != 0 {
		return Outcome{Branch: BranchUser}, e.recreateForUser(ctx, userID, order, sess)
	}

	if order.Note != "" {
		e.deps.Bindings.SetOrderNote(sess, order.Note)
	}

	var loaded *platform.Session
	if order.ClientSession != nil && order.ClientSession.Token != "" {
		loaded, err = e.deps.Sessions.Load(ctx, order.ClientSession.Token)
		if err != nil {
			return Outcome{}, fmt.Errorf("loading session: %w", err)
		}
	}
	if loaded == nil || loaded.CartEmpty() {
		return Outcome{Branch: BranchRemote}, e.recreateFromRemote(ctx, order, sess)
	}
	return Outcome{Branch: BranchSession}, e.recreateFromSession(ctx, loaded, order, sess)
}

// verify checks the link signature, decodes it and confirms the remote
// order's cart token matches the one in the link.
func (e *Engine) verify(ctx context.Context, req Request) (*model.RemoteOrder, error) {
	token, err := signing.DecodeRecoveryToken(req.Token, req.Hash, e.integration.SecretKey(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidLink, err)
	}
	if token.OrderID == 0 || token.CartToken == "" {
		return nil, fmt.Errorf("%w: order id and/or cart token are empty", model.ErrInvalidLink)
	}

	order, err := e.remote.GetOrder(ctx, token.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching remote order %s: %w", model.ErrInvalidLink, token.OrderID, err)
	}
	if subtle.ConstantTimeCompare([]byte(order.CartToken), []byte(token.CartToken)) != 1 {
		return nil, fmt.Errorf("%w: cart token verification failed for remote order %s", model.ErrInvalidLink, token.OrderID)
	}
	return order, nil
}

// revisitOrder handles a link for a cart that already became an order. A
// cancelled order is reopened for payment. ok is false when the order no
// longer exists locally.
func (e *Engine) revisitOrder(ctx context.Context, orderID int64, sess *platform.Session) (redirect string, ok bool, err error) {
	order, err := e.deps.Orders.GetOrder(ctx, orderID)
	if errors.Is(err, model.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading order %d: %w", orderID, err)
	}

	if order.Status() == platform.StatusCancelled {
		err = e.deps.Orders.UpdateStatus(ctx, orderID, platform.StatusPending, RevisitedNote)
	} else {
		err = e.deps.Orders.AddNote(ctx, orderID, RevisitedNote)
	}
	if err != nil {
		return "", false, fmt.Errorf("updating order %d: %w", orderID, err)
	}
	if fresh, err := e.deps.Orders.GetOrder(ctx, orderID); err == nil {
		order = fresh
	}

	e.deps.Bindings.SetPending(sess)
	sess.RefreshCookie()

	if order.NeedsPayment() {
		return order.PaymentURL(), true, nil
	}
	return order.ReceivedURL(), true, nil
}

// recreateForUser flags the cart's owner for recovery and logs them in.
// The persistent cart itself is restored at login.
func (e *Engine) recreateForUser(ctx context.Context, userID int64, order *model.RemoteOrder, sess *platform.Session) error {
	e.logger.InfoContext(ctx, "recreating cart for registered user", slog.Int64("user_id", userID))

	switchUser := sess.UserID != userID
	if switchUser {
		user, err := e.deps.Users.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("loading user %d: %w", userID, err)
		}
		if user.Privileged {
			e.logger.WarnContext(ctx, "not logging in user with admin rights",
				slog.Int64("user_id", userID),
				slog.Int64("current_user_id", sess.UserID),
			)
			return fmt.Errorf("user %d: %w", userID, ErrPrivilegedUser)
		}
	}

	if err := e.deps.Bindings.SetUserPending(ctx, userID); err != nil {
		return fmt.Errorf("flagging user %d: %w", userID, err)
	}
	if order.Note != "" {
		if err := e.deps.Bindings.SetUserOrderNote(ctx, userID, order.Note); err != nil {
			return fmt.Errorf("saving order note for user %d: %w", userID, err)
		}
	}

	if switchUser {
		if sess.LoggedIn() {
			e.logger.InfoContext(ctx, "another user is logged in, switching user",
				slog.Int64("current_user_id", sess.UserID),
				slog.Int64("user_id", userID),
			)
			sess.LogOut()
		}
		sess.LogIn(userID)
	}
	return nil
}

// recreateFromSession copies a guest's earlier session into the current
// one. Cart selections are only replaced when the carts differ.
func (e *Engine) recreateFromSession(ctx context.Context, loaded *platform.Session, order *model.RemoteOrder, sess *platform.Session) error {
	e.logger.InfoContext(ctx, "recreating cart for guest with active session")

	if platform.CartHash(sess.Cart) != platform.CartHash(loaded.Cart) {
		sess.Cart = loaded.Cart
		sess.AppliedCoupons = e.validCoupons(ctx, loaded.AppliedCoupons)
		sess.ChosenShippingMethods = loaded.ChosenShippingMethods
		sess.ShippingMethodCounts = loaded.ShippingMethodCounts
		sess.ChosenPaymentMethod = loaded.ChosenPaymentMethod
	}
	e.setCustomer(sess, loaded.Customer, order)
	return e.finishGuest(ctx, order, sess)
}

// recreateFromRemote rebuilds the cart from the session blob stored on the
// remote record.
func (e *Engine) recreateFromRemote(ctx context.Context, order *model.RemoteOrder, sess *platform.Session) error {
	e.logger.InfoContext(ctx, "recreating cart for guest with no active session")

	cs := order.ClientSession
	if cs == nil || len(cs.Cart) == 0 {
		return fmt.Errorf("%w: cart missing from remote order %s", model.ErrMissingCartData, order.ID)
	}
	sess.Cart = cs.Cart
	sess.AppliedCoupons = e.validCoupons(ctx, cs.AppliedCoupons)
	sess.ChosenShippingMethods = cs.ChosenShippingMethods
	sess.ShippingMethodCounts = cs.ShippingMethodCounts
	sess.ChosenPaymentMethod = cs.ChosenPaymentMethod

	e.setCustomer(sess, nil, order)
	return e.finishGuest(ctx, order, sess)
}

func (e *Engine) finishGuest(ctx context.Context, order *model.RemoteOrder, sess *platform.Session) error {
	if err := e.deps.Bindings.Set(ctx, sess, binding.Binding{CartToken: order.CartToken, OrderID: order.ID}); err != nil {
		return err
	}
	e.deps.Bindings.SetPending(sess)
	sess.RefreshCookie()
	return nil
}

// setCustomer layers customer fields: the current session, then base, then
// the remote record's billing and shipping addresses where present.
func (e *Engine) setCustomer(sess *platform.Session, base model.StringMap, order *model.RemoteOrder) {
	customer := model.StringMap{}
	for k, v := range sess.Customer {
		customer[k] = v
	}
	for k, v := range base {
		customer[k] = v
	}
	for _, f := range model.AddressFieldMap {
		if v := order.BillingAddress.Field(f.Remote); v != "" {
			customer["billing_"+f.Store] = v
		}
		if v := order.ShippingAddress.Field(f.Remote); v != "" {
			customer["shipping_"+f.Store] = v
		}
	}
	sess.Customer = customer
}

func (e *Engine) validCoupons(ctx context.Context, codes []string) []string {
	valid := make([]string, 0, len(codes))
	for _, code := range codes {
		if e.deps.Coupons == nil || e.deps.Coupons.IsValid(ctx, code) {
			valid = append(valid, code)
		}
	}
	return valid
}

func withCoupon(checkoutURL, coupon string) string {
	if coupon == "" {
		return checkoutURL
	}
	u, err := url.Parse(checkoutURL)
	if err != nil {
		return checkoutURL
	}
	q := u.Query()
	q.Set("coupon", coupon)
	u.RawQuery = q.Encode()
	return u.String()
}

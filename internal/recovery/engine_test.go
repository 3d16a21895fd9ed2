package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"jilt-connector/internal/binding"
	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
	"jilt-connector/internal/remote"
	"jilt-connector/internal/signing"
)

const (
	testSecret   = "s3cret"
	checkoutURL  = "https://shop.example.com/checkout/"
	remoteID     = model.RemoteID(42)
	remoteToken  = "cart-token-1"
	savedSession = "guest-session-1"
)

type staticKey string

func (k staticKey) SecretKey(ctx context.Context) string { return string(k) }

type fixture struct {
	engine    *Engine
	sessions  *platform.MemorySessionStore
	orders    *platform.MemoryOrderStore
	orderMeta *platform.MemoryMetaStore
	userMeta  *platform.MemoryMetaStore
	users     platform.MemoryUsers
	bindings  *binding.Store
	remote    *model.RemoteOrder
	getCalls  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions:  platform.NewMemorySessionStore(),
		orders:    platform.NewMemoryOrderStore(),
		orderMeta: platform.NewMemoryMetaStore(),
		userMeta:  platform.NewMemoryMetaStore(),
		users:     platform.MemoryUsers{},
		remote: &model.RemoteOrder{
			ID:        remoteID,
			CartToken: remoteToken,
			BillingAddress: &model.Address{
				Email:     "guest@example.com",
				FirstName: "Gina",
				City:      "Denver",
			},
			ShippingAddress: &model.Address{PostalCode: "80202"},
			ClientSession: &model.ClientSession{
				Token:          savedSession,
				Cart:           model.CartContents{"k1": {Key: "k1", ProductID: 10, Quantity: 1}},
				AppliedCoupons: []string{"GOOD", "EXPIRED"},
			},
		},
	}
	f.bindings = binding.New(f.userMeta)
	mock := &remote.Mock{
		GetOrderFunc: func(ctx context.Context, id model.RemoteID) (*model.RemoteOrder, error) {
			f.getCalls++
			if id != f.remote.ID {
				return nil, model.NewRemoteError(404, "")
			}
			return f.remote, nil
		},
	}
	deps := Deps{
		Sessions:  f.sessions,
		Orders:    f.orders,
		OrderMeta: f.orderMeta,
		UserMeta:  f.userMeta,
		Users:     f.users,
		Coupons:   platform.MemoryCoupons{"GOOD": true, "SAVE5": true},
		Bindings:  f.bindings,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = New(staticKey(testSecret), mock, deps, Config{CheckoutURL: checkoutURL}, logger)
	return f
}

func validRequest(t *testing.T, coupon string) Request {
	t.Helper()
	token, hash, err := signing.EncodeToken(model.RecoveryToken{OrderID: remoteID, CartToken: remoteToken}, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return Request{Token: token, Hash: hash, Coupon: coupon}
}

func assertFailed(t *testing.T, out Outcome) {
	t.Helper()
	if out.Branch != BranchFailed || out.Notice != FailureNotice || out.RedirectURL != checkoutURL {
		t.Errorf("outcome = %+v, want failure redirect to checkout", out)
	}
}

func TestRecoverInvalidLinks(t *testing.T) {
	ctx := context.Background()

	t.Run("bad hash", func(t *testing.T) {
		f := newFixture(t)
		req := validRequest(t, "")
		flip := "0"
		if req.Hash[0] == '0' {
			flip = "1"
		}
		req.Hash = flip + req.Hash[1:]
		out := f.engine.Recover(ctx, req, platform.NewSession("v"))
		assertFailed(t, out)
		if f.getCalls != 0 {
			t.Errorf("remote fetched %d times for a bad hash", f.getCalls)
		}
	})

	t.Run("missing cart token", func(t *testing.T) {
		f := newFixture(t)
		token, hash, _ := signing.EncodeToken(model.RecoveryToken{OrderID: remoteID}, testSecret)
		assertFailed(t, f.engine.Recover(ctx, Request{Token: token, Hash: hash}, platform.NewSession("v")))
	})

	t.Run("substituted order id", func(t *testing.T) {
		f := newFixture(t)
		f.remote.CartToken = "someone-else"
		assertFailed(t, f.engine.Recover(ctx, validRequest(t, ""), platform.NewSession("v")))
	})

	t.Run("remote unavailable", func(t *testing.T) {
		f := newFixture(t)
		f.remote.ID = 999
		sess := platform.NewSession("v")
		out := f.engine.Recover(ctx, validRequest(t, "SAVE5"), sess)
		assertFailed(t, out)
		if f.bindings.Get(sess).Bound() {
			t.Error("failed recovery left a binding")
		}
	})
}

func TestVerifyWrapsInvalidLink(t *testing.T) {
	f := newFixture(t)
	f.remote.CartToken = "other"
	_, err := f.engine.verify(context.Background(), validRequest(t, ""))
	if !errors.Is(err, model.ErrInvalidLink) {
		t.Errorf("err = %v, want ErrInvalidLink", err)
	}
}

func TestRecoverPlacedCancelledOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.orders.Put(&platform.OrderRecord{
		OrderID:     300,
		OrderStatus: platform.StatusCancelled,
		GrandTotal:  25,
		PayURL:      "https://shop.example.com/checkout/order-pay/300/",
		ThankYouURL: "https://shop.example.com/checkout/order-received/300/",
	})
	_ = f.orderMeta.SetMeta(ctx, 300, platform.OrderCartToken, remoteToken)
	sess := platform.NewSession("v")

	out := f.engine.Recover(ctx, validRequest(t, "SAVE5"), sess)

	if out.Branch != BranchPlacedOrder || out.RedirectURL != "https://shop.example.com/checkout/order-pay/300/" {
		t.Errorf("outcome = %+v, want payment redirect", out)
	}
	order, _ := f.orders.GetOrder(ctx, 300)
	if order.Status() != platform.StatusPending {
		t.Errorf("status = %q, want pending", order.Status())
	}
	if notes := f.orders.Notes[300]; len(notes) != 1 || notes[0] != RevisitedNote {
		t.Errorf("notes = %v", notes)
	}
	if v, _ := sess.Get(platform.SessionPendingRecovery); v == "" {
		t.Error("session not flagged pending")
	}
	if !sess.CookieRefresh {
		t.Error("session cookie not refreshed")
	}
	if len(sess.Cart) != 0 {
		t.Error("cart rebuilt for an already placed order")
	}
}

func TestRecoverPlacedPaidOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.orders.Put(&platform.OrderRecord{
		OrderID:     301,
		OrderStatus: platform.StatusProcessing,
		GrandTotal:  25,
		PayURL:      "https://shop.example.com/pay",
		ThankYouURL: "https://shop.example.com/received",
	})
	_ = f.orderMeta.SetMeta(ctx, 301, platform.OrderCartToken, remoteToken)

	out := f.engine.Recover(ctx, validRequest(t, ""), platform.NewSession("v"))

	if out.RedirectURL != "https://shop.example.com/received" {
		t.Errorf("redirect = %q, want received page", out.RedirectURL)
	}
	order, _ := f.orders.GetOrder(ctx, 301)
	if order.Status() != platform.StatusProcessing {
		t.Errorf("status = %q, want unchanged", order.Status())
	}
}

func TestRecoverPrivilegedUserRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users[1] = &platform.User{ID: 1, Privileged: true}
	_ = f.userMeta.SetMeta(ctx, 1, platform.UserCartToken, remoteToken)
	sess := platform.NewSession("v")

	out := f.engine.Recover(ctx, validRequest(t, ""), sess)

	assertFailed(t, out)
	if sess.LoggedIn() {
		t.Errorf("session logged in as %d", sess.UserID)
	}
	if v, _ := f.userMeta.GetMeta(ctx, 1, platform.UserPendingRecovery); v != "" {
		t.Error("privileged user flagged pending")
	}
	if _, err := f.engine.recreate(ctx, validRequest(t, ""), platform.NewSession("w")); !errors.Is(err, ErrPrivilegedUser) {
		t.Errorf("err = %v, want ErrPrivilegedUser", err)
	}
}

func TestRecoverUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.Note = "please gift wrap"
	f.users[5] = &platform.User{ID: 5, Email: "c@example.com"}
	_ = f.userMeta.SetMeta(ctx, 5, platform.UserCartToken, remoteToken)
	sess := platform.NewSession("v")
	sess.LogIn(9)
	sess.CookieRefresh = false

	out := f.engine.Recover(ctx, validRequest(t, "SAVE5"), sess)

	if out.Branch != BranchUser || out.Notice != "" {
		t.Errorf("outcome = %+v", out)
	}
	if out.RedirectURL != checkoutURL+"?coupon=SAVE5" {
		t.Errorf("redirect = %q", out.RedirectURL)
	}
	if sess.UserID != 5 || !sess.CookieRefresh {
		t.Errorf("session user = %d refresh = %v, want 5/true", sess.UserID, sess.CookieRefresh)
	}
	if v, _ := f.userMeta.GetMeta(ctx, 5, platform.UserPendingRecovery); v == "" {
		t.Error("user not flagged pending")
	}
	if v, _ := f.userMeta.GetMeta(ctx, 5, platform.UserOrderNote); v != "please gift wrap" {
		t.Errorf("user note = %q", v)
	}
}

func TestRecoverGuestFromSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.Note = "side door"
	saved := platform.NewSession(savedSession)
	saved.Cart = model.CartContents{"k2": {Key: "k2", ProductID: 20, Quantity: 3}}
	saved.AppliedCoupons = []string{"GOOD", "EXPIRED"}
	saved.ChosenShippingMethods = []string{"flat_rate:1"}
	saved.ChosenPaymentMethod = "cod"
	saved.Customer = model.StringMap{"billing_phone": "555-0100", "billing_city": "Boulder"}
	_ = f.sessions.Save(ctx, saved)

	sess := platform.NewSession("visitor")
	out := f.engine.Recover(ctx, validRequest(t, ""), sess)

	if out.Branch != BranchSession || out.RedirectURL != checkoutURL {
		t.Fatalf("outcome = %+v", out)
	}
	if _, ok := sess.Cart["k2"]; !ok {
		t.Errorf("cart = %v, want saved cart", sess.Cart)
	}
	if len(sess.AppliedCoupons) != 1 || sess.AppliedCoupons[0] != "GOOD" {
		t.Errorf("coupons = %v, want [GOOD]", sess.AppliedCoupons)
	}
	if sess.ChosenPaymentMethod != "cod" || len(sess.ChosenShippingMethods) != 1 {
		t.Errorf("selections = %q %v", sess.ChosenPaymentMethod, sess.ChosenShippingMethods)
	}
	wantCustomer := map[string]string{
		"billing_phone":      "555-0100",
		"billing_city":       "Denver",
		"billing_email":      "guest@example.com",
		"billing_first_name": "Gina",
		"shipping_postcode":  "80202",
	}
	for k, v := range wantCustomer {
		if sess.Customer[k] != v {
			t.Errorf("customer[%s] = %q, want %q", k, sess.Customer[k], v)
		}
	}
	b := f.bindings.Get(sess)
	if b.CartToken != remoteToken || b.OrderID != remoteID {
		t.Errorf("binding = %+v", b)
	}
	if v, _ := sess.Get(platform.SessionPendingRecovery); v == "" || !sess.CookieRefresh {
		t.Error("session not flagged pending with refreshed cookie")
	}
	if v, _ := sess.Get(platform.SessionOrderNote); v != "side door" {
		t.Errorf("order note = %q", v)
	}
}

func TestRecoverGuestSameCartKeepsSelections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cart := model.CartContents{"k2": {Key: "k2", ProductID: 20, Quantity: 3}}
	saved := platform.NewSession(savedSession)
	saved.Cart = cart
	saved.AppliedCoupons = []string{"GOOD"}
	_ = f.sessions.Save(ctx, saved)

	sess := platform.NewSession("visitor")
	sess.Cart = cart
	sess.AppliedCoupons = []string{"SAVE5"}

	f.engine.Recover(ctx, validRequest(t, ""), sess)

	if len(sess.AppliedCoupons) != 1 || sess.AppliedCoupons[0] != "SAVE5" {
		t.Errorf("coupons = %v, want current selection kept", sess.AppliedCoupons)
	}
}

func TestRecoverGuestFromRemote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := platform.NewSession("visitor")

	out := f.engine.Recover(ctx, validRequest(t, "SAVE5"), sess)

	if out.Branch != BranchRemote {
		t.Fatalf("branch = %q, want %q", out.Branch, BranchRemote)
	}
	if out.RedirectURL != checkoutURL+"?coupon=SAVE5" {
		t.Errorf("redirect = %q", out.RedirectURL)
	}
	if _, ok := sess.Cart["k1"]; !ok {
		t.Errorf("cart = %v, want remote cart", sess.Cart)
	}
	if len(sess.AppliedCoupons) != 1 || sess.AppliedCoupons[0] != "GOOD" {
		t.Errorf("coupons = %v, want [GOOD]", sess.AppliedCoupons)
	}
	if sess.Customer["billing_city"] != "Denver" {
		t.Errorf("customer = %v", sess.Customer)
	}
	if !f.bindings.Get(sess).Bound() {
		t.Error("session not bound")
	}
}

func TestRecoverGuestMissingCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.ClientSession.Cart = nil
	sess := platform.NewSession("visitor")

	assertFailed(t, f.engine.Recover(ctx, validRequest(t, ""), sess))

	if _, err := f.engine.recreate(ctx, validRequest(t, ""), platform.NewSession("w")); !errors.Is(err, model.ErrMissingCartData) {
		t.Errorf("err = %v, want ErrMissingCartData", err)
	}
}

func TestWithCoupon(t *testing.T) {
	tests := []struct {
		base, coupon, want string
	}{
		{"https://s.example/checkout/", "", "https://s.example/checkout/"},
		{"https://s.example/checkout/", "TEN OFF", "https://s.example/checkout/?coupon=TEN+OFF"},
		{"https://s.example/?page_id=7", "X", "https://s.example/?coupon=X&page_id=7"},
	}
	for _, tt := range tests {
		if got := withCoupon(tt.base, tt.coupon); got != tt.want {
			t.Errorf("withCoupon(%q, %q) = %q, want %q", tt.base, tt.coupon, got, tt.want)
		}
	}
}

type failingMeta struct {
	*platform.MemoryMetaStore
}

func (m failingMeta) SetMeta(ctx context.Context, objectID int64, key, value string) error {
	return errors.New("db down")
}

// withFailingUserMeta rebuilds f.engine so user metadata writes fail while
// lookups still see f.userMeta.
func withFailingUserMeta(f *fixture) {
	users := failingMeta{f.userMeta}
	mock := &remote.Mock{
		GetOrderFunc: func(ctx context.Context, id model.RemoteID) (*model.RemoteOrder, error) {
			return f.remote, nil
		},
	}
	deps := f.engine.deps
	deps.UserMeta = users
	deps.Bindings = binding.New(users)
	f.engine = New(staticKey(testSecret), mock, deps, f.engine.cfg, f.engine.logger)
}

func TestRecoverUserMetaFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.users[5] = &platform.User{ID: 5, Email: "c@example.com"}
	_ = f.userMeta.SetMeta(ctx, 5, platform.UserCartToken, remoteToken)
	withFailingUserMeta(f)
	sess := platform.NewSession("visitor")

	assertFailed(t, f.engine.Recover(ctx, validRequest(t, ""), sess))

	if sess.UserID != 0 || sess.CookieRefresh {
		t.Errorf("session user = %d refresh = %v, want 0/false", sess.UserID, sess.CookieRefresh)
	}
}

func TestRecoverGuestBindingFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	withFailingUserMeta(f)
	sess := platform.NewSession("visitor")
	sess.LogIn(7)
	sess.CookieRefresh = false
	sess.Cart = model.CartContents{"mine": {Key: "mine", ProductID: 99, Quantity: 1}}
	sess.AppliedCoupons = []string{"SAVE5"}

	assertFailed(t, f.engine.Recover(ctx, validRequest(t, ""), sess))

	if _, ok := sess.Cart["mine"]; !ok || len(sess.Cart) != 1 {
		t.Errorf("cart = %v, want original cart", sess.Cart)
	}
	if len(sess.AppliedCoupons) != 1 || sess.AppliedCoupons[0] != "SAVE5" {
		t.Errorf("coupons = %v, want [SAVE5]", sess.AppliedCoupons)
	}
	if _, ok := sess.Get(platform.SessionCartToken); ok {
		t.Error("cart token bound after failed recovery")
	}
	if _, ok := sess.Get(platform.SessionPendingRecovery); ok || sess.CookieRefresh {
		t.Error("session flagged after failed recovery")
	}
}

package platform

import (
	"context"
	"errors"
	"testing"

	"jilt-connector/internal/model"
)

func TestMemorySessionStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()

	s := store.New()
	s.Cart["k1"] = model.CartItem{Key: "k1", ProductID: 5, Quantity: 2}
	s.AppliedCoupons = []string{"SAVE10"}
	s.Set(SessionCartToken, "tok")
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx, s.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Cart["k1"].Quantity != 2 {
		t.Errorf("cart = %+v", loaded.Cart)
	}
	if v, _ := loaded.Get(SessionCartToken); v != "tok" {
		t.Errorf("cart token = %q, want tok", v)
	}

	// mutating the loaded copy must not leak into the store
	loaded.Set(SessionCartToken, "other")
	again, _ := store.Load(ctx, s.ID)
	if v, _ := again.Get(SessionCartToken); v != "tok" {
		t.Errorf("stored value changed to %q", v)
	}

	missing, err := store.Load(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Load(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestSession_LogInOut(t *testing.T) {
	s := NewSession("a")
	if s.LoggedIn() {
		t.Fatal("new session should be logged out")
	}
	s.LogIn(7)
	if !s.LoggedIn() || s.UserID != 7 || !s.CookieRefresh {
		t.Errorf("after LogIn: %+v", s)
	}
	s.LogOut()
	if s.LoggedIn() {
		t.Error("LogOut should clear user")
	}
}

func TestSession_CloneIsIndependent(t *testing.T) {
	s := NewSession("a")
	s.Cart = model.CartContents{"k1": {Key: "k1", Quantity: 1}}
	s.AppliedCoupons = []string{"GOOD"}
	s.Set("x", "1")

	c := s.Clone()
	c.LogIn(4)
	c.Cart["k2"] = model.CartItem{Key: "k2"}
	c.AppliedCoupons[0] = "OTHER"
	c.Set("x", "2")
	c.Customer["billing_city"] = "Denver"

	if s.UserID != 0 || s.CookieRefresh {
		t.Errorf("original user = %d refresh = %v", s.UserID, s.CookieRefresh)
	}
	if len(s.Cart) != 1 || s.AppliedCoupons[0] != "GOOD" || len(s.Customer) != 0 {
		t.Errorf("original changed: cart=%v coupons=%v customer=%v", s.Cart, s.AppliedCoupons, s.Customer)
	}
	if v, _ := s.Get("x"); v != "1" {
		t.Errorf("original value = %q, want 1", v)
	}
}

func TestCartHash(t *testing.T) {
	a := model.CartContents{"k": {Key: "k", ProductID: 1, Quantity: 1}}
	b := model.CartContents{"k": {Key: "k", ProductID: 1, Quantity: 1}}
	c := model.CartContents{"k": {Key: "k", ProductID: 1, Quantity: 2}}

	if CartHash(a) != CartHash(b) {
		t.Error("identical carts should hash equal")
	}
	if CartHash(a) == CartHash(c) {
		t.Error("different quantities should hash differently")
	}
	if CartHash(nil) != CartHash(model.CartContents{}) {
		t.Error("nil and empty carts should hash equal")
	}
}

func TestClientSession(t *testing.T) {
	s := NewSession("sess-9")
	s.ChosenPaymentMethod = "stripe"
	cs := s.ClientSession()
	if cs.Token != "sess-9" || cs.ChosenPaymentMethod != "stripe" {
		t.Errorf("client session = %+v", cs)
	}
}

func TestMemoryMetaStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMetaStore()

	m.SetMeta(ctx, 20, OrderCartToken, "tok")
	m.SetMeta(ctx, 10, OrderCartToken, "tok")
	m.SetMeta(ctx, 30, OrderCartToken, "other")

	id, _ := m.FindByMeta(ctx, OrderCartToken, "tok")
	if id != 10 {
		t.Errorf("FindByMeta = %d, want 10", id)
	}

	m.DeleteMeta(ctx, 10, OrderCartToken)
	if v, _ := m.GetMeta(ctx, 10, OrderCartToken); v != "" {
		t.Errorf("deleted meta = %q", v)
	}
	if id, _ := m.FindByMeta(ctx, OrderCartToken, "missing"); id != 0 {
		t.Errorf("FindByMeta(missing) = %d, want 0", id)
	}
}

func TestOrderRecord_PaymentState(t *testing.T) {
	tests := []struct {
		status      string
		total       float64
		wantPaid    bool
		wantPayable bool
	}{
		{StatusPending, 10, false, true},
		{StatusFailed, 10, false, true},
		{StatusPending, 0, false, false},
		{StatusProcessing, 10, true, false},
		{StatusCompleted, 10, true, false},
		{StatusOnHold, 10, false, false},
		{StatusCancelled, 10, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			o := &OrderRecord{OrderStatus: tt.status, GrandTotal: tt.total}
			if o.IsPaid() != tt.wantPaid {
				t.Errorf("IsPaid() = %v, want %v", o.IsPaid(), tt.wantPaid)
			}
			if o.NeedsPayment() != tt.wantPayable {
				t.Errorf("NeedsPayment() = %v, want %v", o.NeedsPayment(), tt.wantPayable)
			}
		})
	}
}

func TestMemoryOrderStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryOrderStore(&OrderRecord{OrderID: 1, OrderStatus: StatusCancelled})

	if err := store.UpdateStatus(ctx, 1, StatusPending, "reopened"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	o, _ := store.GetOrder(ctx, 1)
	if o.Status() != StatusPending {
		t.Errorf("Status = %q, want pending", o.Status())
	}
	if len(store.Notes[1]) != 1 {
		t.Errorf("notes = %v", store.Notes[1])
	}

	if _, err := store.GetOrder(ctx, 2); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetOrder(missing) error = %v, want ErrNotFound", err)
	}
}

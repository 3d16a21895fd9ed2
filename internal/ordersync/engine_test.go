package ordersync

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"jilt-connector/internal/binding"
	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
	"jilt-connector/internal/remote"
)

type fakeIntegration struct {
	inactive    bool
	recoverHeld bool
	cancelled   int
}

func (f *fakeIntegration) IsActive(ctx context.Context) bool             { return !f.inactive }
func (f *fakeIntegration) SecretKey(ctx context.Context) string          { return "secret" }
func (f *fakeIntegration) RecoverHeldOrders(ctx context.Context) bool    { return f.recoverHeld }
func (f *fakeIntegration) HandleAccountCancellation(ctx context.Context) { f.cancelled++ }

type fixture struct {
	engine   *Engine
	integ    *fakeIntegration
	orders   *platform.MemoryOrderStore
	meta     *platform.MemoryMetaStore
	bindings *binding.Store
	updates  map[model.RemoteID][]*model.OrderPayload
	clock    time.Time
}

func newFixture(t *testing.T, orders ...*platform.OrderRecord) *fixture {
	t.Helper()
	f := &fixture{
		integ:    &fakeIntegration{},
		orders:   platform.NewMemoryOrderStore(orders...),
		meta:     platform.NewMemoryMetaStore(),
		bindings: binding.New(platform.NewMemoryMetaStore()),
		updates:  map[model.RemoteID][]*model.OrderPayload{},
		clock:    time.Unix(1700000000, 0),
	}
	mock := &remote.Mock{
		UpdateOrderFunc: func(ctx context.Context, id model.RemoteID, p *model.OrderPayload) (*model.RemoteOrder, error) {
			f.updates[id] = append(f.updates[id], p)
			return &model.RemoteOrder{ID: id}, nil
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{HomeURL: "https://shop.example.com", AdminURL: "https://shop.example.com/wp-admin/"}
	f.engine = New(f.integ, mock, f.orders, f.meta, f.bindings, platform.MemoryCoupons{"SAVE10": true}, cfg, logger)
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func sampleOrder(status string) *platform.OrderRecord {
	return &platform.OrderRecord{
		OrderID:        100,
		OrderNumber:    "100",
		OrderStatus:    status,
		CurrencyCode:   "USD",
		GrandTotal:     45.5,
		SubtotalAmount: 39.98,
		TaxAmount:      0.52,
		ShippingAmount: 5,
		Shippable:      true,
		Items: []platform.OrderItem{{
			Key:         "7",
			Name:        "Mug",
			ProductID:   10,
			VariationID: 11,
			Quantity:    2,
			Subtotal:    39.98,
			Meta:        map[string]string{"pa_color": "blue", "Engraving": "Hi"},
		}},
		BillingFields: map[string]string{"email": "a@example.com", "first_name": "Ann", "city": "Austin"},
		Customer:      8,
		Note:          "ring twice",
		IPAddress:     "203.0.113.9",
		EditURL:       "https://shop.example.com/wp-admin/post.php?post=100&action=edit",
	}
}

func (f *fixture) bindOrder(t *testing.T, orderID int64, remoteID model.RemoteID) {
	t.Helper()
	ctx := context.Background()
	_ = f.meta.SetMeta(ctx, orderID, platform.OrderRemoteID, remoteID.String())
	_ = f.meta.SetMeta(ctx, orderID, platform.OrderCartToken, "ctok")
}

func TestOrderProcessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, sampleOrder(platform.StatusPending))
	sess := platform.NewSession("s1")
	_ = f.bindings.Set(ctx, sess, binding.Binding{CartToken: "ctok", OrderID: 55})

	f.engine.OrderProcessed(ctx, sess, 100)

	if v, _ := f.meta.GetMeta(ctx, 100, platform.OrderRemoteID); v != "55" {
		t.Errorf("order remote id = %q, want 55", v)
	}
	if v, _ := f.meta.GetMeta(ctx, 100, platform.OrderCartToken); v != "ctok" {
		t.Errorf("order cart token = %q, want ctok", v)
	}
	if len(f.updates[55]) != 1 {
		t.Fatalf("updates = %d, want 1", len(f.updates[55]))
	}
	p := f.updates[55][0]
	if p.Name != "100" || p.OrderID != 100 || p.Status != "pending" || p.FinancialStatus != "pending" {
		t.Errorf("order fields = %+v", p)
	}
	if p.TotalPrice != 4550 || p.CartToken != "ctok" || p.CheckoutURL == "" {
		t.Errorf("totals/binding = %d %q %q", p.TotalPrice, p.CartToken, p.CheckoutURL)
	}
	li := p.LineItems[0]
	if li.Price != 1999 || li.VariantID != 11 || li.Variation["pa_color"] != "blue" || li.Properties["Engraving"] != "Hi" {
		t.Errorf("line item = %+v", li)
	}
	if p.Customer == nil || p.Customer.ID != 8 || p.Customer.AdminURL != "https://shop.example.com/wp-admin/user-edit.php?user_id=8" {
		t.Errorf("customer = %+v", p.Customer)
	}
	if p.Note != "ring twice" || p.ClientDetails == nil || p.ClientDetails.BrowserIP != "203.0.113.9" {
		t.Errorf("note/client = %q %+v", p.Note, p.ClientDetails)
	}
	if p.ClientSession == "" {
		t.Error("client_session missing")
	}
	if f.bindings.Get(sess).Bound() {
		t.Error("session still bound after order processed")
	}
	if len(f.orders.Notes[100]) != 0 {
		t.Errorf("notes = %v, want none without pending recovery", f.orders.Notes[100])
	}
}

func TestOrderProcessedMarksRecoveredOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, sampleOrder(platform.StatusProcessing))
	sess := platform.NewSession("s1")
	_ = f.bindings.Set(ctx, sess, binding.Binding{CartToken: "ctok", OrderID: 55})
	f.bindings.SetPending(sess)

	f.engine.OrderProcessed(ctx, sess, 100)

	if v, _ := f.meta.GetMeta(ctx, 100, platform.OrderRecovered); v == "" {
		t.Error("order not marked recovered")
	}
	if _, ok := sess.Get(platform.SessionPendingRecovery); ok {
		t.Error("pending flag not cleared")
	}

	// a pay-page completion for the same order must not add a second note
	f.bindings.SetPending(sess)
	f.engine.ThankYou(ctx, sess, 100)
	if got := f.orders.Notes[100]; len(got) != 1 || got[0] != RecoveredNote {
		t.Errorf("notes = %v, want one %q", got, RecoveredNote)
	}
}

func TestOrderProcessedUnbound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, sampleOrder(platform.StatusPending))
	f.engine.OrderProcessed(ctx, platform.NewSession("s"), 100)
	if len(f.updates) != 0 {
		t.Errorf("updates = %v, want none", f.updates)
	}
}

func TestPaymentSuccessful(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, sampleOrder(platform.StatusProcessing))
	f.bindOrder(t, 100, 55)

	f.engine.PaymentSuccessful(ctx, 100)

	if len(f.updates[55]) != 1 {
		t.Fatalf("updates = %d, want 1", len(f.updates[55]))
	}
	p := f.updates[55][0]
	if p.FinancialStatus != FinancialPaid {
		t.Errorf("financial_status = %q, want paid", p.FinancialStatus)
	}
	if p.ClientSession != "" {
		t.Errorf("client_session = %q, want omitted outside the session", p.ClientSession)
	}
}

func TestStatusChangedCancelledAt(t *testing.T) {
	tests := []struct {
		from, to      string
		wantCancelled bool
	}{
		{"pending", "cancelled", false},
		{"processing", "cancelled", true},
		{"on-hold", "cancelled", true},
		{"failed", "cancelled", true},
		{"processing", "completed", false},
		{"pending", "failed", false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, sampleOrder(tt.to))
			f.bindOrder(t, 100, 55)

			f.engine.StatusChanged(ctx, 100, tt.from, tt.to)

			p := f.updates[55][0]
			if got := p.CancelledAt != 0; got != tt.wantCancelled {
				t.Errorf("cancelled_at set = %v, want %v", got, tt.wantCancelled)
			}
			if p.Status != tt.to {
				t.Errorf("status = %q, want %q", p.Status, tt.to)
			}
			if p.Totals != nil {
				t.Error("status update should not carry totals")
			}
		})
	}
}

func TestStatusChangedPlacedAtOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, sampleOrder(platform.StatusProcessing))
	f.bindOrder(t, 100, 55)

	f.engine.StatusChanged(ctx, 100, "pending", "processing")
	first := f.updates[55][0].PlacedAt
	if first != 1700000000 {
		t.Fatalf("placed_at = %d, want 1700000000", first)
	}

	f.clock = f.clock.Add(time.Hour)
	f.orders.Put(sampleOrder(platform.StatusCompleted))
	f.engine.StatusChanged(ctx, 100, "processing", "completed")
	if got := f.updates[55][1].PlacedAt; got != first {
		t.Errorf("second placed_at = %d, want unchanged %d", got, first)
	}
}

func TestStatusChangedOnHold(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, sampleOrder(platform.StatusOnHold))
	f.bindOrder(t, 100, 55)
	f.engine.StatusChanged(ctx, 100, "pending", "on-hold")
	if f.updates[55][0].PlacedAt == 0 {
		t.Error("on-hold should count as placed by default")
	}

	f = newFixture(t, sampleOrder(platform.StatusOnHold))
	f.integ.recoverHeld = true
	f.bindOrder(t, 100, 55)
	f.engine.StatusChanged(ctx, 100, "pending", "on-hold")
	if f.updates[55][0].PlacedAt != 0 {
		t.Error("on-hold should stay recoverable when held orders are recovered")
	}
}

func TestStatusChangedSkips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, sampleOrder(platform.StatusCompleted))
	f.engine.StatusChanged(ctx, 100, "processing", "completed")
	if len(f.updates) != 0 {
		t.Error("unbound order was pushed")
	}

	f.bindOrder(t, 100, 55)
	f.integ.inactive = true
	f.engine.StatusChanged(ctx, 100, "processing", "completed")
	if len(f.updates) != 0 {
		t.Error("inactive integration pushed an update")
	}
}

func TestAccountCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, sampleOrder(platform.StatusCompleted))
	f.bindOrder(t, 100, 55)
	f.engine.remote = &remote.Mock{
		UpdateOrderFunc: func(ctx context.Context, id model.RemoteID, p *model.OrderPayload) (*model.RemoteOrder, error) {
			return nil, model.NewRemoteError(410, "")
		},
	}
	f.engine.StatusChanged(ctx, 100, "processing", "completed")
	if f.integ.cancelled != 1 {
		t.Errorf("cancellations = %d, want 1", f.integ.cancelled)
	}
}

func TestFinancialStatus(t *testing.T) {
	tests := []struct {
		name     string
		order    *platform.OrderRecord
		expected string
	}{
		{"paid", &platform.OrderRecord{OrderStatus: "completed", GrandTotal: 10}, "paid"},
		{"failed", &platform.OrderRecord{OrderStatus: "failed", GrandTotal: 10}, "voided"},
		{"partial refund", &platform.OrderRecord{OrderStatus: "refunded", GrandTotal: 10, RefundedAmount: 4}, "partially_refunded"},
		{"full refund", &platform.OrderRecord{OrderStatus: "refunded", GrandTotal: 10, RefundedAmount: 10}, "refunded"},
		// 0.10 + 0.20 summed in float64
		{"full refund in parts", &platform.OrderRecord{OrderStatus: "refunded", GrandTotal: 0.3, RefundedAmount: 0.30000000000000004}, "refunded"},
		{"partial refund in parts", &platform.OrderRecord{OrderStatus: "refunded", GrandTotal: 0.3, RefundedAmount: 0.29}, "partially_refunded"},
		{"pending", &platform.OrderRecord{OrderStatus: "pending", GrandTotal: 10}, "pending"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FinancialStatus(tt.order); got != tt.expected {
				t.Errorf("FinancialStatus = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestApplyRecoveryCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := platform.NewSession("s")

	if f.engine.ApplyRecoveryCoupon(ctx, sess, "SAVE10") {
		t.Error("coupon applied without pending recovery")
	}
	f.bindings.SetPending(sess)
	if !f.engine.ApplyRecoveryCoupon(ctx, sess, "SAVE10") {
		t.Error("coupon not applied during recovery")
	}
	if f.engine.ApplyRecoveryCoupon(ctx, sess, "SAVE10") {
		t.Error("coupon applied twice")
	}
	if f.engine.ApplyRecoveryCoupon(ctx, sess, "BOGUS") {
		t.Error("invalid coupon applied")
	}
	if len(sess.AppliedCoupons) != 1 {
		t.Errorf("applied = %v, want [SAVE10]", sess.AppliedCoupons)
	}
}

func TestOrderNoteForCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := platform.NewSession("s")
	f.bindings.SetOrderNote(sess, "gift")

	if got := f.engine.OrderNoteForCheckout(ctx, sess); got != "" {
		t.Errorf("note without recovery = %q, want empty", got)
	}
	f.bindings.SetPending(sess)
	if got := f.engine.OrderNoteForCheckout(ctx, sess); got != "gift" {
		t.Errorf("note = %q, want gift", got)
	}
	if got := f.engine.OrderNoteForCheckout(ctx, sess); got != "" {
		t.Errorf("second note = %q, want empty", got)
	}
}

// Package ordersync pushes storefront order events to the remote record the
// order's cart was bound to. Remote failures are logged and never block
// order placement.
package ordersync

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"jilt-connector/internal/binding"
	"jilt-connector/internal/metrics"
	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
	"jilt-connector/internal/remote"
	"jilt-connector/internal/signing"
)

// RecoveredNote is added to an order completed from a recovery link.
const RecoveredNote = "Order recovered by Jilt."

// Integration is the slice of the shop link the engine needs.
type Integration interface {
	IsActive(ctx context.Context) bool
	SecretKey(ctx context.Context) string
	RecoverHeldOrders(ctx context.Context) bool
	HandleAccountCancellation(ctx context.Context)
}

// Config configures an Engine.
type Config struct {
	HomeURL          string
	PrettyPermalinks bool
	// AdminURL is the storefront admin base used for customer edit links.
	AdminURL   string
	Transforms []model.PayloadTransform
}

// Engine handles order events.
type Engine struct {
	integration Integration
	remote      remote.Service
	orders      platform.OrderStore
	orderMeta   platform.MetaStore
	bindings    *binding.Store
	coupons     platform.CouponValidator
	cfg         Config
	logger      *slog.Logger

	// now is overridable for tests.
	now func() time.Time
}

// New creates an Engine. coupons may be nil, in which case recovery
// coupons are applied without validation.
func New(integ Integration, svc remote.Service, orders platform.OrderStore, orderMeta platform.MetaStore, bindings *binding.Store, coupons platform.CouponValidator, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		integration: integ,
		remote:      svc,
		orders:      orders,
		orderMeta:   orderMeta,
		bindings:    bindings,
		coupons:     coupons,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// OrderProcessed moves the session's cart binding onto a newly created
// order, pushes the order and releases the session binding.
func (e *Engine) OrderProcessed(ctx context.Context, sess *platform.Session, orderID int64) {
	if !e.integration.IsActive(ctx) {
		skip("disabled")
		return
	}
	b := e.bindings.Get(sess)
	if !b.Bound() {
		skip("unbound")
		return
	}

	if err := e.orderMeta.SetMeta(ctx, orderID, platform.OrderCartToken, b.CartToken); err != nil {
		e.logger.ErrorContext(ctx, "failed to save order cart token", slog.Int64("order_id", orderID), slog.Any("error", err))
	}
	if err := e.orderMeta.SetMeta(ctx, orderID, platform.OrderRemoteID, b.OrderID.String()); err != nil {
		e.logger.ErrorContext(ctx, "failed to save remote order id", slog.Int64("order_id", orderID), slog.Any("error", err))
	}

	if pending, err := e.bindings.IsPending(ctx, sess); err == nil && pending {
		e.markRecovered(ctx, orderID)
	}

	e.pushOrder(ctx, orderID, b, sess)

	if err := e.bindings.Clear(ctx, sess); err != nil {
		e.logger.ErrorContext(ctx, "failed to clear cart binding", slog.Any("error", err))
	}
	sess.Delete(platform.SessionCartHash)
}

// PaymentSuccessful re-pushes an order whose details only became complete
// after an asynchronous payment.
func (e *Engine) PaymentSuccessful(ctx context.Context, orderID int64) {
	if !e.integration.IsActive(ctx) {
		skip("disabled")
		return
	}
	b, ok := e.orderBinding(ctx, orderID)
	if !ok {
		skip("unbound")
		return
	}
	e.pushOrder(ctx, orderID, b, nil)
}

// ThankYou marks an order paid from the pay page as recovered when the
// shopper arrived through a recovery link.
func (e *Engine) ThankYou(ctx context.Context, sess *platform.Session, orderID int64) {
	pending, err := e.bindings.IsPending(ctx, sess)
	if err != nil || !pending {
		return
	}
	e.markRecovered(ctx, orderID)
	if err := e.bindings.Clear(ctx, sess); err != nil {
		e.logger.ErrorContext(ctx, "failed to clear cart binding", slog.Any("error", err))
	}
}

// StatusChanged pushes a status transition. placed_at is recorded the first
// time the order is paid, or goes on hold while held orders are not
// recoverable. cancelled_at is recorded the first time the order is
// cancelled from any status but pending; pending to cancelled is an
// automatic timeout and stays recoverable.
func (e *Engine) StatusChanged(ctx context.Context, orderID int64, oldStatus, newStatus string) {
	if !e.integration.IsActive(ctx) {
		skip("disabled")
		return
	}
	b, ok := e.orderBinding(ctx, orderID)
	if !ok {
		skip("unbound")
		return
	}
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to load order", slog.Int64("order_id", orderID), slog.Any("error", err))
		return
	}

	placedAt := e.timestamp(ctx, orderID, platform.OrderPlacedAt)
	if placedAt == 0 && (order.IsPaid() || (newStatus == platform.StatusOnHold && !e.integration.RecoverHeldOrders(ctx))) {
		placedAt = e.now().Unix()
		e.setTimestamp(ctx, orderID, platform.OrderPlacedAt, placedAt)
	}

	cancelledAt := e.timestamp(ctx, orderID, platform.OrderCancelledAt)
	if cancelledAt == 0 && oldStatus != platform.StatusPending && newStatus == platform.StatusCancelled {
		cancelledAt = e.now().Unix()
		e.setTimestamp(ctx, orderID, platform.OrderCancelledAt, cancelledAt)
	}

	payload := &model.OrderPayload{
		Status:          newStatus,
		FinancialStatus: FinancialStatus(order),
		PlacedAt:        placedAt,
		CancelledAt:     cancelledAt,
	}
	if _, err := e.remote.UpdateOrder(ctx, b.OrderID, payload); err != nil {
		e.remoteFailed(ctx, orderID, err)
	}
}

func (e *Engine) pushOrder(ctx context.Context, orderID int64, b binding.Binding, sess *platform.Session) {
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to load order", slog.Int64("order_id", orderID), slog.Any("error", err))
		return
	}
	links := signing.LinkBuilder{
		HomeURL:          e.cfg.HomeURL,
		PrettyPermalinks: e.cfg.PrettyPermalinks,
		Secret:           e.integration.SecretKey(ctx),
	}
	link, err := links.RecoveryURL(b.OrderID, b.CartToken)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to build recovery url", slog.Any("error", err))
	}

	payload, err := e.buildPayload(order, b.CartToken, link, sess)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to build order payload", slog.Int64("order_id", orderID), slog.Any("error", err))
		return
	}
	model.ApplyTransforms(ctx, e.cfg.Transforms, model.KindOrder, payload)

	if _, err := e.remote.UpdateOrder(ctx, b.OrderID, payload); err != nil {
		e.remoteFailed(ctx, orderID, err)
	}
}

// orderBinding reads the binding recorded on an order at checkout.
func (e *Engine) orderBinding(ctx context.Context, orderID int64) (binding.Binding, bool) {
	raw, err := e.orderMeta.GetMeta(ctx, orderID, platform.OrderRemoteID)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to read order meta", slog.Int64("order_id", orderID), slog.Any("error", err))
		return binding.Binding{}, false
	}
	id, _ := strconv.ParseInt(raw, 10, 64)
	if id == 0 {
		return binding.Binding{}, false
	}
	token, _ := e.orderMeta.GetMeta(ctx, orderID, platform.OrderCartToken)
	return binding.Binding{CartToken: token, OrderID: model.RemoteID(id)}, true
}

// markRecovered records the recovery once per order.
func (e *Engine) markRecovered(ctx context.Context, orderID int64) {
	if v, _ := e.orderMeta.GetMeta(ctx, orderID, platform.OrderRecovered); v != "" {
		return
	}
	if err := e.orderMeta.SetMeta(ctx, orderID, platform.OrderRecovered, "1"); err != nil {
		e.logger.ErrorContext(ctx, "failed to mark order recovered", slog.Int64("order_id", orderID), slog.Any("error", err))
		return
	}
	if err := e.orders.AddNote(ctx, orderID, RecoveredNote); err != nil {
		e.logger.ErrorContext(ctx, "failed to add recovered note", slog.Int64("order_id", orderID), slog.Any("error", err))
	}
	metrics.Recoveries.WithLabelValues("completed").Inc()
}

func (e *Engine) timestamp(ctx context.Context, orderID int64, key string) int64 {
	raw, _ := e.orderMeta.GetMeta(ctx, orderID, key)
	ts, _ := strconv.ParseInt(raw, 10, 64)
	return ts
}

func (e *Engine) setTimestamp(ctx context.Context, orderID int64, key string, ts int64) {
	if err := e.orderMeta.SetMeta(ctx, orderID, key, strconv.FormatInt(ts, 10)); err != nil {
		e.logger.ErrorContext(ctx, "failed to save order timestamp",
			slog.Int64("order_id", orderID),
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) remoteFailed(ctx context.Context, orderID int64, err error) {
	e.logger.ErrorContext(ctx, "error communicating with jilt",
		slog.Int64("order_id", orderID),
		slog.Any("error", err),
	)
	if errors.Is(err, model.ErrAccountCancelled) {
		e.integration.HandleAccountCancellation(ctx)
	}
}

func skip(reason string) {
	metrics.SyncSkips.WithLabelValues(reason).Inc()
}

package ordersync

import (
	"context"
	"log/slog"
	"slices"

	"jilt-connector/internal/platform"
)

// ApplyRecoveryCoupon applies a coupon carried on the checkout URL while the
// shopper is completing a recovery. It reports whether the coupon was added.
func (e *Engine) ApplyRecoveryCoupon(ctx context.Context, sess *platform.Session, code string) bool {
	if code == "" || slices.Contains(sess.AppliedCoupons, code) {
		return false
	}
	pending, err := e.bindings.IsPending(ctx, sess)
	if err != nil || !pending {
		return false
	}
	if e.coupons != nil && !e.coupons.IsValid(ctx, code) {
		e.logger.InfoContext(ctx, "recovery coupon not applied", slog.String("coupon", code))
		return false
	}
	sess.AppliedCoupons = append(sess.AppliedCoupons, code)
	return true
}

// OrderNoteForCheckout returns the order note saved from the recovered cart
// so checkout can prefill it. The note is handed out once.
func (e *Engine) OrderNoteForCheckout(ctx context.Context, sess *platform.Session) string {
	pending, err := e.bindings.IsPending(ctx, sess)
	if err != nil || !pending {
		return ""
	}
	return e.bindings.TakeOrderNote(sess)
}

// Package cartsync keeps a remote cart record in step with the shopper's
// storefront cart. Remote failures never reach the shopper: they are logged
// and the cart carries on.
package cartsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"

	"jilt-connector/internal/binding"
	"jilt-connector/internal/metrics"
	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
	"jilt-connector/internal/remote"
	"jilt-connector/internal/signing"
)

// Integration is the slice of the shop link the engine needs.
type Integration interface {
	IsActive(ctx context.Context) bool
	ShopID(ctx context.Context) model.RemoteID
	SecretKey(ctx context.Context) string
	HandleAccountCancellation(ctx context.Context)
}

// Config configures an Engine.
type Config struct {
	HomeURL          string
	PrettyPermalinks bool
	Transforms       []model.PayloadTransform
}

// Engine handles cart events.
type Engine struct {
	integration Integration
	remote      remote.Service
	bindings    *binding.Store
	users       platform.UserDirectory
	cfg         Config
	logger      *slog.Logger
}

// New creates an Engine. users may be nil when the storefront has no
// registered customers.
func New(integ Integration, svc remote.Service, bindings *binding.Store, users platform.UserDirectory, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		integration: integ,
		remote:      svc,
		bindings:    bindings,
		users:       users,
		cfg:         cfg,
		logger:      logger,
	}
}

// CartUpdated creates or updates the remote cart for the session. An empty
// cart is handled as CartEmptied.
func (e *Engine) CartUpdated(ctx context.Context, sess *platform.Session, snap *Snapshot) {
	if !e.integration.IsActive(ctx) {
		skip("disabled")
		return
	}
	if snap.Empty() {
		e.emptied(ctx, sess)
		return
	}
	// The quantity form fires one event per row; only the follow-up
	// page load is synced.
	if snap.BulkUpdate {
		skip("bulk_update")
		return
	}

	payload, err := buildPayload(snap, sess, e.customer(ctx, sess, snap))
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to build cart payload", slog.Any("error", err))
		return
	}
	model.ApplyTransforms(ctx, e.cfg.Transforms, model.KindCart, payload)
	hash := contentHash(payload)

	b := e.bindings.Get(sess)
	if b.Bound() {
		if last, _ := sess.Get(platform.SessionCartHash); last == hash {
			skip("unchanged")
			return
		}
		payload.CartToken = b.CartToken
		err := e.update(ctx, b, payload)
		if err == nil {
			sess.Set(platform.SessionCartHash, hash)
			return
		}
		if !errors.Is(err, model.ErrNotFound) {
			return
		}
		// remote cart is gone; start a new one
		if err := e.bindings.Clear(ctx, sess); err != nil {
			e.logger.ErrorContext(ctx, "failed to clear cart binding", slog.Any("error", err))
		}
		sess.Delete(platform.SessionCartHash)
		payload.CartToken = ""
	}

	if err := e.create(ctx, sess, payload); err == nil {
		sess.Set(platform.SessionCartHash, hash)
	}
}

// CartEmptied deletes the remote cart after the shopper empties theirs.
func (e *Engine) CartEmptied(ctx context.Context, sess *platform.Session) {
	if !e.integration.IsActive(ctx) {
		skip("disabled")
		return
	}
	e.emptied(ctx, sess)
}

// CartLoadedFromSession restores or saves a logged-in shopper's binding.
func (e *Engine) CartLoadedFromSession(ctx context.Context, sess *platform.Session) {
	if err := e.bindings.SyncPersistentCart(ctx, sess); err != nil {
		e.logger.ErrorContext(ctx, "failed to sync persistent cart",
			slog.Int64("user_id", sess.UserID),
			slog.Any("error", err),
		)
	}
}

func (e *Engine) emptied(ctx context.Context, sess *platform.Session) {
	b := e.bindings.Get(sess)
	if !b.Bound() {
		return
	}
	// Local state goes first so a failed delete cannot leave the session
	// pointing at a dead remote cart.
	if err := e.bindings.Clear(ctx, sess); err != nil {
		e.logger.ErrorContext(ctx, "failed to clear cart binding", slog.Any("error", err))
	}
	sess.Delete(platform.SessionCartHash)

	if err := e.remote.DeleteOrder(ctx, b.OrderID); err != nil {
		e.remoteFailed(ctx, "delete order", err)
	}
}

func (e *Engine) update(ctx context.Context, b binding.Binding, payload *model.OrderPayload) error {
	if link, err := e.recoveryURL(ctx, b); err == nil {
		payload.CheckoutURL = link
	}
	if _, err := e.remote.UpdateOrder(ctx, b.OrderID, payload); err != nil {
		e.remoteFailed(ctx, "update order", err)
		return err
	}
	return nil
}

func (e *Engine) create(ctx context.Context, sess *platform.Session, payload *model.OrderPayload) error {
	order, err := e.remote.CreateOrder(ctx, e.integration.ShopID(ctx), payload)
	if err != nil {
		e.remoteFailed(ctx, "create order", err)
		return err
	}
	b := binding.Binding{CartToken: order.CartToken, OrderID: order.ID}
	if err := e.bindings.Set(ctx, sess, b); err != nil {
		e.logger.ErrorContext(ctx, "failed to save cart binding", slog.Any("error", err))
		return err
	}

	// The link embeds the new id, so it needs a second call.
	link, err := e.recoveryURL(ctx, b)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to build recovery url", slog.Any("error", err))
		return err
	}
	if _, err := e.remote.UpdateOrder(ctx, order.ID, &model.OrderPayload{CheckoutURL: link}); err != nil {
		e.remoteFailed(ctx, "update order", err)
		return err
	}
	return nil
}

func (e *Engine) recoveryURL(ctx context.Context, b binding.Binding) (string, error) {
	links := signing.LinkBuilder{
		HomeURL:          e.cfg.HomeURL,
		PrettyPermalinks: e.cfg.PrettyPermalinks,
		Secret:           e.integration.SecretKey(ctx),
	}
	return links.RecoveryURL(b.OrderID, b.CartToken)
}

// customer returns the logged-in user's identity, or identity taken from
// the billing fields when a guest has supplied an email.
func (e *Engine) customer(ctx context.Context, sess *platform.Session, snap *Snapshot) *model.Customer {
	if sess.LoggedIn() && e.users != nil {
		user, err := e.users.GetUser(ctx, sess.UserID)
		if err == nil {
			return &model.Customer{
				Email:     user.Email,
				FirstName: user.FirstName,
				LastName:  user.LastName,
				ID:        user.ID,
				AdminURL:  user.AdminURL,
			}
		}
		e.logger.WarnContext(ctx, "failed to load customer",
			slog.Int64("user_id", sess.UserID),
			slog.Any("error", err),
		)
	}
	if email := snap.Billing["email"]; email != "" {
		return &model.Customer{
			Email:     email,
			FirstName: snap.Billing["first_name"],
			LastName:  snap.Billing["last_name"],
		}
	}
	return nil
}

func (e *Engine) remoteFailed(ctx context.Context, op string, err error) {
	e.logger.ErrorContext(ctx, "error communicating with jilt",
		slog.String("operation", op),
		slog.Any("error", err),
	)
	if errors.Is(err, model.ErrAccountCancelled) {
		e.integration.HandleAccountCancellation(ctx)
	}
}

// contentHash fingerprints the cart content of a payload, ignoring the
// binding fields that change when a cart is first created.
func contentHash(p *model.OrderPayload) string {
	c := *p
	c.CartToken = ""
	c.CheckoutURL = ""
	data, _ := json.Marshal(&c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func skip(reason string) {
	metrics.SyncSkips.WithLabelValues(reason).Inc()
}

// Package binding tracks which remote order a shopper's cart is bound to.
// The binding lives on the session and, for logged-in shoppers, is mirrored
// to user metadata so it follows them across devices.
package binding

import (
	"context"
	"fmt"
	"strconv"

	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
)

// Binding is the cart token and remote order id for one cart.
type Binding struct {
	CartToken string
	OrderID   model.RemoteID
}

// Bound reports whether the cart has a remote order.
func (b Binding) Bound() bool {
	return b.OrderID != 0
}

// Store reads and writes bindings.
type Store struct {
	users platform.MetaStore
}

// New returns a Store that mirrors logged-in bindings to users.
func New(users platform.MetaStore) *Store {
	return &Store{users: users}
}

// Get returns the binding held by the session.
func (s *Store) Get(sess *platform.Session) Binding {
	token, _ := sess.Get(platform.SessionCartToken)
	raw, _ := sess.Get(platform.SessionOrderID)
	id, _ := strconv.ParseInt(raw, 10, 64)
	return Binding{CartToken: token, OrderID: model.RemoteID(id)}
}

// Set binds the session's cart and mirrors the binding to the logged-in user.
func (s *Store) Set(ctx context.Context, sess *platform.Session, b Binding) error {
	sess.Set(platform.SessionCartToken, b.CartToken)
	sess.Set(platform.SessionOrderID, b.OrderID.String())
	if !sess.LoggedIn() {
		return nil
	}
	return s.SetUser(ctx, sess.UserID, b)
}

// SetUser writes a binding directly to user metadata.
func (s *Store) SetUser(ctx context.Context, userID int64, b Binding) error {
	if err := s.users.SetMeta(ctx, userID, platform.UserCartToken, b.CartToken); err != nil {
		return fmt.Errorf("saving cart token for user %d: %w", userID, err)
	}
	if err := s.users.SetMeta(ctx, userID, platform.UserOrderID, b.OrderID.String()); err != nil {
		return fmt.Errorf("saving order id for user %d: %w", userID, err)
	}
	return nil
}

// Clear removes the binding and the pending-recovery flag from the session
// and from the logged-in user.
func (s *Store) Clear(ctx context.Context, sess *platform.Session) error {
	sess.Delete(platform.SessionCartToken)
	sess.Delete(platform.SessionOrderID)
	sess.Delete(platform.SessionPendingRecovery)
	if !sess.LoggedIn() {
		return nil
	}
	for _, key := range []string{platform.UserCartToken, platform.UserOrderID, platform.UserPendingRecovery} {
		if err := s.users.DeleteMeta(ctx, sess.UserID, key); err != nil {
			return fmt.Errorf("clearing %s for user %d: %w", key, sess.UserID, err)
		}
	}
	return nil
}

// SetPending flags the session as a pending recovery.
func (s *Store) SetPending(sess *platform.Session) {
	sess.Set(platform.SessionPendingRecovery, "1")
}

// SetUserPending flags a user as a pending recovery.
func (s *Store) SetUserPending(ctx context.Context, userID int64) error {
	return s.users.SetMeta(ctx, userID, platform.UserPendingRecovery, "1")
}

// IsPending reports whether the current checkout came from a recovery link.
// Logged-in shoppers are checked against user metadata only.
func (s *Store) IsPending(ctx context.Context, sess *platform.Session) (bool, error) {
	if sess.LoggedIn() {
		v, err := s.users.GetMeta(ctx, sess.UserID, platform.UserPendingRecovery)
		if err != nil {
			return false, err
		}
		return v != "", nil
	}
	v, _ := sess.Get(platform.SessionPendingRecovery)
	return v != "", nil
}

// SetOrderNote stores the note to prefill at checkout.
func (s *Store) SetOrderNote(sess *platform.Session, note string) {
	sess.Set(platform.SessionOrderNote, note)
}

// SetUserOrderNote stores the checkout note on a user, moved to the
// session at their next login.
func (s *Store) SetUserOrderNote(ctx context.Context, userID int64, note string) error {
	return s.users.SetMeta(ctx, userID, platform.UserOrderNote, note)
}

// TakeOrderNote returns the stored checkout note and removes it.
func (s *Store) TakeOrderNote(sess *platform.Session) string {
	note, ok := sess.Get(platform.SessionOrderNote)
	if ok {
		sess.Delete(platform.SessionOrderNote)
	}
	return note
}

// SyncPersistentCart reconciles the session with user metadata after a
// logged-in shopper loads a non-empty cart. A user binding is copied into a
// session without one; a session binding is saved to a user without one.
// A pending user's stored order note moves into the session.
func (s *Store) SyncPersistentCart(ctx context.Context, sess *platform.Session) error {
	if !sess.LoggedIn() || sess.CartEmpty() {
		return nil
	}
	userToken, err := s.users.GetMeta(ctx, sess.UserID, platform.UserCartToken)
	if err != nil {
		return err
	}
	current := s.Get(sess)

	switch {
	case userToken != "" && current.CartToken == "":
		raw, err := s.users.GetMeta(ctx, sess.UserID, platform.UserOrderID)
		if err != nil {
			return err
		}
		id, _ := strconv.ParseInt(raw, 10, 64)
		sess.Set(platform.SessionCartToken, userToken)
		sess.Set(platform.SessionOrderID, model.RemoteID(id).String())
	case userToken == "" && current.CartToken != "":
		if err := s.SetUser(ctx, sess.UserID, current); err != nil {
			return err
		}
	}

	pending, err := s.IsPending(ctx, sess)
	if err != nil || !pending {
		return err
	}
	note, err := s.users.GetMeta(ctx, sess.UserID, platform.UserOrderNote)
	if err != nil || note == "" {
		return err
	}
	s.SetOrderNote(sess, note)
	return s.users.DeleteMeta(ctx, sess.UserID, platform.UserOrderNote)
}

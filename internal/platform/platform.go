// Package platform defines the storefront collaborators the connector reads
// and writes: sessions, orders, users, coupons, metadata and options.
// Engines depend only on these interfaces; adapters over the real storefront
// and in-memory fakes implement them.
package platform

import (
	"context"

	"jilt-connector/internal/model"
)

// SessionStore loads and saves shopper sessions.
type SessionStore interface {
	// Load returns the session with id, or (nil, nil) when none exists.
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	// New returns an unsaved session with a fresh id.
	New() *Session
}

// MetaStore is a key/value store attached to numbered objects (orders or
// users). Missing keys read as "".
type MetaStore interface {
	GetMeta(ctx context.Context, objectID int64, key string) (string, error)
	SetMeta(ctx context.Context, objectID int64, key, value string) error
	DeleteMeta(ctx context.Context, objectID int64, key string) error
	// FindByMeta returns an object id holding key=value, or 0.
	FindByMeta(ctx context.Context, key, value string) (int64, error)
}

// OptionStore is durable process-wide configuration. Missing options read as "".
type OptionStore interface {
	GetOption(ctx context.Context, name string) (string, error)
	SetOption(ctx context.Context, name, value string) error
}

// Order exposes the facts about a storefront order that sync and recovery need.
type Order interface {
	ID() int64
	Number() string
	Status() string
	IsPaid() bool
	NeedsPayment() bool
	Currency() string
	Total() float64
	Subtotal() float64
	TotalTax() float64
	TotalShipping() float64
	TotalDiscount() float64
	TotalRefunded() float64
	RequiresShipping() bool
	LineItems() []OrderItem
	Fees() []model.FeeItem
	Billing() map[string]string  // storefront field names without prefix
	Shipping() map[string]string // storefront field names without prefix
	CustomerID() int64
	CustomerNote() string
	CustomerIP() string
	CustomerUserAgent() string
	PaymentURL() string
	ReceivedURL() string
	AdminURL() string
}

// OrderItem is one order line.
type OrderItem struct {
	Key         string
	Name        string
	ProductID   int64
	VariationID int64
	Quantity    int
	Subtotal    float64 // line subtotal before discounts
	SKU         string
	URL         string
	ImageURL    string
	Meta        map[string]string // display meta; pa_* keys are variation attributes
}

// OrderStore reads and updates storefront orders.
type OrderStore interface {
	// GetOrder returns the order, or an error matching model.ErrNotFound.
	GetOrder(ctx context.Context, id int64) (Order, error)
	UpdateStatus(ctx context.Context, id int64, status, note string) error
	AddNote(ctx context.Context, id int64, note string) error
}

// User is a registered storefront account.
type User struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	AdminURL  string
	// Privileged users can edit other users' content. They are never
	// logged in from a recovery link.
	Privileged bool
}

// UserDirectory looks up registered users.
type UserDirectory interface {
	// GetUser returns the user, or an error matching model.ErrNotFound.
	GetUser(ctx context.Context, id int64) (*User, error)
}

// CouponValidator reports whether a coupon code can currently be applied.
type CouponValidator interface {
	IsValid(ctx context.Context, code string) bool
}

// Storefront metadata keys shared by the engines.
const (
	SessionCartToken       = "wc_jilt_cart_token"
	SessionOrderID         = "wc_jilt_order_id"
	SessionPendingRecovery = "wc_jilt_pending_recovery"
	SessionOrderNote       = "wc_jilt_order_note"
	SessionCartHash        = "wc_jilt_cart_hash"
	SessionNotice          = "wc_jilt_notice"

	UserCartToken       = "_wc_jilt_cart_token"
	UserOrderID         = "_wc_jilt_order_id"
	UserPendingRecovery = "_wc_jilt_pending_recovery"
	UserOrderNote       = "_wc_jilt_order_note"

	OrderCartToken   = "_wc_jilt_cart_token"
	OrderRemoteID    = "_wc_jilt_order_id"
	OrderPlacedAt    = "_wc_jilt_placed_at"
	OrderCancelledAt = "_wc_jilt_cancelled_at"
	OrderRecovered   = "_wc_jilt_recovered"
)

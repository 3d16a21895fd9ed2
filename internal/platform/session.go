package platform

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"

	"jilt-connector/internal/model"
)

// Session is a shopper's storefront session. It is serialised as JSON by
// session stores.
type Session struct {
	ID                    string             `json:"id"`
	UserID                int64              `json:"user_id,omitempty"`
	Cart                  model.CartContents `json:"cart"`
	Customer              model.StringMap    `json:"customer"`
	AppliedCoupons        []string           `json:"applied_coupons"`
	ChosenShippingMethods []string           `json:"chosen_shipping_methods"`
	ShippingMethodCounts  []int              `json:"shipping_method_counts"`
	ChosenPaymentMethod   string             `json:"chosen_payment_method"`
	Values                map[string]string  `json:"values"`

	// CookieRefresh is set when the session cookie must be (re)issued on
	// the response.
	CookieRefresh bool `json:"-"`
}

// NewSession returns an empty session with id.
func NewSession(id string) *Session {
	return &Session{
		ID:       id,
		Cart:     model.CartContents{},
		Customer: model.StringMap{},
		Values:   map[string]string{},
	}
}

// Clone returns a copy of s whose maps and slices can be replaced or
// modified without affecting s. Cart items are shared.
func (s *Session) Clone() *Session {
	c := *s
	c.Cart = maps.Clone(s.Cart)
	c.Customer = maps.Clone(s.Customer)
	c.Values = maps.Clone(s.Values)
	c.AppliedCoupons = slices.Clone(s.AppliedCoupons)
	c.ChosenShippingMethods = slices.Clone(s.ChosenShippingMethods)
	c.ShippingMethodCounts = slices.Clone(s.ShippingMethodCounts)
	return &c
}

// Get returns a stored value.
func (s *Session) Get(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Set stores a value.
func (s *Session) Set(key, value string) {
	if s.Values == nil {
		s.Values = map[string]string{}
	}
	s.Values[key] = value
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	delete(s.Values, key)
}

// LoggedIn reports whether a user is authenticated on this session.
func (s *Session) LoggedIn() bool {
	return s.UserID != 0
}

// LogIn authenticates userID on this session.
func (s *Session) LogIn(userID int64) {
	s.UserID = userID
	s.CookieRefresh = true
}

// LogOut drops the authenticated user.
func (s *Session) LogOut() {
	s.UserID = 0
	s.CookieRefresh = true
}

// RefreshCookie marks the session cookie for (re)issue.
func (s *Session) RefreshCookie() {
	s.CookieRefresh = true
}

// CartEmpty reports whether the cart has no items.
func (s *Session) CartEmpty() bool {
	return len(s.Cart) == 0
}

// ClientSession returns the session projection stored on the remote record.
func (s *Session) ClientSession() *model.ClientSession {
	return &model.ClientSession{
		Token:                 s.ID,
		Cart:                  s.Cart,
		Customer:              s.Customer,
		AppliedCoupons:        s.AppliedCoupons,
		ChosenShippingMethods: s.ChosenShippingMethods,
		ShippingMethodCounts:  s.ShippingMethodCounts,
		ChosenPaymentMethod:   s.ChosenPaymentMethod,
	}
}

// CartHash returns an md5 of the JSON-encoded cart contents, used to tell
// whether two carts hold the same items.
func CartHash(cart model.CartContents) string {
	if cart == nil {
		cart = model.CartContents{}
	}
	data, _ := json.Marshal(cart)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

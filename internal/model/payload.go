package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// OrderPayload is the wire representation of a cart or order sent to the
// remote service. Money fields are integer minor units. Every optional field
// is omitted when empty so an update never blanks remote data.
//
// Totals is embedded as a pointer: a nil Totals drops all money fields,
// which status-only updates rely on.
type OrderPayload struct {
	*Totals

	CartToken       string         `json:"cart_token,omitempty"`
	CheckoutURL     string         `json:"checkout_url,omitempty"`
	LineItems       []LineItem     `json:"line_items,omitempty"`
	FeeItems        []FeeItem      `json:"fee_items,omitempty"`
	BillingAddress  *Address       `json:"billing_address,omitempty"`
	ShippingAddress *Address       `json:"shipping_address,omitempty"`
	Customer        *Customer      `json:"customer,omitempty"`
	ClientDetails   *ClientDetails `json:"client_details,omitempty"`
	ClientSession   string         `json:"client_session,omitempty"` // JSON-encoded ClientSession

	// Order-only fields
	Name            string `json:"name,omitempty"`
	OrderID         int64  `json:"order_id,omitempty"`
	AdminURL        string `json:"admin_url,omitempty"`
	Status          string `json:"status,omitempty"`
	FinancialStatus string `json:"financial_status,omitempty"`
	Note            string `json:"note,omitempty"`
	PlacedAt        int64  `json:"placed_at,omitempty"`    // unix seconds
	CancelledAt     int64  `json:"cancelled_at,omitempty"` // unix seconds
}

// Totals holds the money fields of a payload. Zero values are meaningful
// here (no discount, free shipping) so nothing is omitted.
type Totals struct {
	TotalPrice       int64  `json:"total_price"`
	SubtotalPrice    int64  `json:"subtotal_price"`
	TotalTax         int64  `json:"total_tax"`
	TotalDiscounts   int64  `json:"total_discounts"`
	TotalShipping    int64  `json:"total_shipping"`
	RequiresShipping bool   `json:"requires_shipping"`
	Currency         string `json:"currency"`
}

// LineItem is one product line. Price is the unit price in minor units.
type LineItem struct {
	Title      string            `json:"title"`
	ProductID  int64             `json:"product_id"`
	VariantID  int64             `json:"variant_id,omitempty"`
	Quantity   int               `json:"quantity"`
	Price      int64             `json:"price"`
	SKU        string            `json:"sku,omitempty"`
	URL        string            `json:"url,omitempty"`
	ImageURL   string            `json:"image_url,omitempty"`
	Key        string            `json:"key,omitempty"`
	Variation  map[string]string `json:"variation,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// FeeItem is a cart fee line.
type FeeItem struct {
	Title  string `json:"title"`
	Key    string `json:"key"`
	Amount int64  `json:"amount"`
}

// Address uses the remote service's field names.
type Address struct {
	Email       string `json:"email,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Address1    string `json:"address1,omitempty"`
	Address2    string `json:"address2,omitempty"`
	Company     string `json:"company,omitempty"`
	City        string `json:"city,omitempty"`
	StateCode   string `json:"state_code,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// AddressFieldMap maps storefront customer field suffixes to Address wire names.
// Shipping fields carry a "shipping_" prefix on the storefront side.
var AddressFieldMap = []struct {
	Store  string
	Remote string
}{
	{"email", "email"},
	{"first_name", "first_name"},
	{"last_name", "last_name"},
	{"address_1", "address1"},
	{"address_2", "address2"},
	{"company", "company"},
	{"city", "city"},
	{"state", "state_code"},
	{"postcode", "postal_code"},
	{"country", "country_code"},
	{"phone", "phone"},
}

// Field returns the value of the named remote field.
func (a *Address) Field(remote string) string {
	if a == nil {
		return ""
	}
	switch remote {
	case "email":
		return a.Email
	case "first_name":
		return a.FirstName
	case "last_name":
		return a.LastName
	case "address1":
		return a.Address1
	case "address2":
		return a.Address2
	case "company":
		return a.Company
	case "city":
		return a.City
	case "state_code":
		return a.StateCode
	case "postal_code":
		return a.PostalCode
	case "country_code":
		return a.CountryCode
	case "phone":
		return a.Phone
	}
	return ""
}

// SetField sets the named remote field.
func (a *Address) SetField(remote, value string) {
	switch remote {
	case "email":
		a.Email = value
	case "first_name":
		a.FirstName = value
	case "last_name":
		a.LastName = value
	case "address1":
		a.Address1 = value
	case "address2":
		a.Address2 = value
	case "company":
		a.Company = value
	case "city":
		a.City = value
	case "state_code":
		a.StateCode = value
	case "postal_code":
		a.PostalCode = value
	case "country_code":
		a.CountryCode = value
	case "phone":
		a.Phone = value
	}
}

// IsEmpty reports whether every field is blank.
func (a *Address) IsEmpty() bool {
	return a == nil || *a == Address{}
}

// AddressFromFields builds an Address from storefront customer fields
// (billing_* or shipping_* keys depending on prefix). Returns nil when empty.
func AddressFromFields(fields map[string]string, prefix string) *Address {
	addr := &Address{}
	for _, f := range AddressFieldMap {
		addr.SetField(f.Remote, fields[prefix+f.Store])
	}
	if addr.IsEmpty() {
		return nil
	}
	return addr
}

// Customer identifies the shopper.
type Customer struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	ID        int64  `json:"id,omitempty"`
	AdminURL  string `json:"admin_url,omitempty"`
}

// ClientDetails describes the shopper's browser.
type ClientDetails struct {
	BrowserIP      string `json:"browser_ip,omitempty"`
	AcceptLanguage string `json:"accept_language,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

// CartItem is a storefront cart entry as held in the session.
type CartItem struct {
	Key          string    `json:"key"`
	ProductID    int64     `json:"product_id"`
	VariationID  int64     `json:"variation_id,omitempty"`
	Variation    StringMap `json:"variation,omitempty"`
	Quantity     int       `json:"quantity"`
	LineSubtotal float64   `json:"line_subtotal"`
	LineTotal    float64   `json:"line_total"`
	LineTax      float64   `json:"line_tax"`
}

// ClientSession is the opaque session blob stored on the remote record and
// used to rebuild a guest cart.
type ClientSession struct {
	Token                 string       `json:"token"`
	Cart                  CartContents `json:"cart"`
	Customer              StringMap    `json:"customer"`
	AppliedCoupons        []string     `json:"applied_coupons"`
	ChosenShippingMethods []string     `json:"chosen_shipping_methods"`
	ShippingMethodCounts  []int        `json:"shipping_method_counts"`
	ChosenPaymentMethod   string       `json:"chosen_payment_method"`
}

// CartContents is the session cart keyed by cart item key.
type CartContents map[string]CartItem

// UnmarshalJSON accepts an empty JSON array as an empty cart; the
// storefront serialises empty associative arrays that way.
func (c *CartContents) UnmarshalJSON(data []byte) error {
	if isEmptyArray(data) {
		*c = CartContents{}
		return nil
	}
	var m map[string]CartItem
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*c = m
	return nil
}

// StringMap is a string map that tolerates empty arrays and scalar values.
type StringMap map[string]string

func (m *StringMap) UnmarshalJSON(data []byte) error {
	if isEmptyArray(data) {
		*m = StringMap{}
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(StringMap, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		case bool:
			if val {
				out[k] = "1"
			} else {
				out[k] = ""
			}
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		}
	}
	*m = out
	return nil
}

func isEmptyArray(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("[]")) || bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// RemoteID is a remote record id. The service returns ids as numbers but
// older records and recovery tokens may carry them as strings.
type RemoteID int64

func (id *RemoteID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("remote id %q: %w", s, err)
		}
		*id = RemoteID(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("remote id: %w", err)
	}
	*id = RemoteID(n)
	return nil
}

// String returns the decimal id, or "" for zero.
func (id RemoteID) String() string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(int64(id), 10)
}

// RemoteOrder is the remote service's view of a cart or order.
type RemoteOrder struct {
	ID              RemoteID       `json:"id"`
	CartToken       string         `json:"cart_token"`
	Status          string         `json:"status,omitempty"`
	FinancialStatus string         `json:"financial_status,omitempty"`
	Note            string         `json:"note,omitempty"`
	CheckoutURL     string         `json:"checkout_url,omitempty"`
	BillingAddress  *Address       `json:"billing_address,omitempty"`
	ShippingAddress *Address       `json:"shipping_address,omitempty"`
	ClientSession   *ClientSession `json:"-"`
}

// UnmarshalJSON decodes client_session whether the service returns it as
// an object or as the JSON string it was sent as.
func (o *RemoteOrder) UnmarshalJSON(data []byte) error {
	type plain RemoteOrder
	var aux struct {
		*plain
		ClientSession json.RawMessage `json:"client_session"`
	}
	aux.plain = (*plain)(o)
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	o.ClientSession = nil
	raw := bytes.TrimSpace(aux.ClientSession)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("client_session: %w", err)
		}
		if s == "" {
			return nil
		}
		raw = []byte(s)
	}
	var cs ClientSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return fmt.Errorf("client_session: %w", err)
	}
	o.ClientSession = &cs
	return nil
}

// RecoveryToken is the payload embedded in a recovery link.
type RecoveryToken struct {
	OrderID   RemoteID `json:"order_id"`
	CartToken string   `json:"cart_token"`
}

// Shop is the remote shop record.
type Shop struct {
	ID     RemoteID `json:"id"`
	Domain string   `json:"domain,omitempty"`
}

// ShopData is pushed to the remote service on link and on the daily update.
type ShopData struct {
	Domain                string `json:"domain"`
	AdminURL              string `json:"admin_url,omitempty"`
	ProfileType           string `json:"profile_type"`
	WooCommerceVersion    string `json:"woocommerce_version,omitempty"`
	IntegrationVersion    string `json:"integration_version,omitempty"`
	Name                  string `json:"name,omitempty"`
	Currency              string `json:"currency,omitempty"`
	ProvinceCode          string `json:"province_code,omitempty"`
	CountryCode           string `json:"country_code,omitempty"`
	Timezone              string `json:"timezone,omitempty"`
	CouponsEnabled        bool   `json:"coupons_enabled"`
	FreeShippingAvailable bool   `json:"free_shipping_available"`
	IntegrationEnabled    bool   `json:"integration_enabled"`
	SupportsSSL           bool   `json:"supports_ssl"`
	ShopOwner             string `json:"shop_owner,omitempty"`
	Email                 string `json:"email,omitempty"`
}

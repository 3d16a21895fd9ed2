// Package woocommerce implements the storefront adapters over the WooCommerce
// REST API (wc/v3). Orders, customers and coupons are read and updated here
// so the sync and recovery engines can run outside WordPress.
package woocommerce

import "encoding/json"

// === WooCommerce API Response Types ===

// WooOrder represents a wc/v3 order resource.
type WooOrder struct {
	ID                int               `json:"id"`
	Number            string            `json:"number"`
	OrderKey          string            `json:"order_key"`
	Status            string            `json:"status"`
	Currency          string            `json:"currency"`
	Total             string            `json:"total"` // "99.00" - string decimal
	TotalTax          string            `json:"total_tax"`
	ShippingTotal     string            `json:"shipping_total"`
	DiscountTotal     string            `json:"discount_total"`
	CustomerID        int               `json:"customer_id"`
	CustomerNote      string            `json:"customer_note"`
	CustomerIPAddress string            `json:"customer_ip_address"`
	CustomerUserAgent string            `json:"customer_user_agent"`
	Billing           WooAddress        `json:"billing"`
	Shipping          WooAddress        `json:"shipping"`
	LineItems         []WooLineItem     `json:"line_items"`
	ShippingLines     []WooShippingLine `json:"shipping_lines"`
	FeeLines          []WooFeeLine      `json:"fee_lines"`
	Refunds           []WooRefund       `json:"refunds"`
	PaymentURL        string            `json:"payment_url"`
}

// WooAddress represents a billing or shipping address.
// Shipping addresses carry no email or phone.
type WooAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// WooLineItem represents an order line.
type WooLineItem struct {
	ID          int           `json:"id"`
	Name        string        `json:"name"`
	ProductID   int           `json:"product_id"`
	VariationID int           `json:"variation_id"`
	Quantity    int           `json:"quantity"`
	Subtotal    string        `json:"subtotal"` // before discounts
	Total       string        `json:"total"`
	SKU         string        `json:"sku"`
	Permalink   string        `json:"permalink,omitempty"`
	Image       *WooImage     `json:"image,omitempty"`
	MetaData    []WooItemMeta `json:"meta_data,omitempty"`
}

// WooItemMeta is one line item meta entry. Value may be any JSON type.
type WooItemMeta struct {
	ID           int             `json:"id"`
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	DisplayKey   string          `json:"display_key,omitempty"`
	DisplayValue json.RawMessage `json:"display_value,omitempty"`
}

// WooImage represents a product image.
type WooImage struct {
	Src string `json:"src"`
}

// WooShippingLine represents a chosen shipping method on an order.
type WooShippingLine struct {
	ID          int    `json:"id"`
	MethodTitle string `json:"method_title"`
	MethodID    string `json:"method_id"`
	Total       string `json:"total"`
}

// WooFeeLine represents a fee on an order.
type WooFeeLine struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Total string `json:"total"`
}

// WooRefund is the refund summary embedded in an order.
// Total is negative, e.g. "-5.00".
type WooRefund struct {
	ID     int    `json:"id"`
	Reason string `json:"reason"`
	Total  string `json:"total"`
}

// WooCustomer represents a wc/v3 customer resource.
type WooCustomer struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	Username  string `json:"username"`
}

// WooCoupon represents a wc/v3 coupon resource.
type WooCoupon struct {
	ID          int     `json:"id"`
	Code        string  `json:"code"`
	Status      string  `json:"status,omitempty"`
	DateExpires *string `json:"date_expires_gmt"`
	UsageCount  int     `json:"usage_count"`
	UsageLimit  *int    `json:"usage_limit"`
}

// WooOrderUpdate is the body of an order status update.
type WooOrderUpdate struct {
	Status string `json:"status"`
}

// WooOrderNote is the body of an order note.
type WooOrderNote struct {
	Note         string `json:"note"`
	CustomerNote bool   `json:"customer_note"`
}

// WooErrorResponse represents the REST API error envelope.
type WooErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}

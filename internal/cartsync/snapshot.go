package cartsync

import (
	"encoding/json"

	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
)

// Snapshot is the cart state reported by the storefront with each cart event.
// Money values are in major units as the storefront computes them.
type Snapshot struct {
	Items []Item `json:"items"`
	Fees  []Fee  `json:"fees"`

	// Total is only meaningful when OnCartOrCheckout is set; elsewhere the
	// storefront does not calculate it.
	Total            float64 `json:"total"`
	SubtotalExTax    float64 `json:"subtotal_ex_tax"`
	TaxTotal         float64 `json:"tax_total"`
	ShippingTaxTotal float64 `json:"shipping_tax_total"`
	ShippingTotal    float64 `json:"shipping_total"`
	DiscountTotal    float64 `json:"discount_total"`
	RequiresShipping bool    `json:"requires_shipping"`
	Currency         string  `json:"currency"`
	OnCartOrCheckout bool    `json:"on_cart_or_checkout"`

	// BulkUpdate marks a cart-page quantity form submission.
	BulkUpdate bool `json:"bulk_update"`

	// Billing and Shipping use storefront field names without prefix.
	Billing  map[string]string `json:"billing"`
	Shipping map[string]string `json:"shipping"`

	Client model.ClientDetails `json:"client"`
}

// Item is one cart line.
type Item struct {
	Key          string            `json:"key"`
	Title        string            `json:"title"`
	ProductID    int64             `json:"product_id"`
	VariationID  int64             `json:"variation_id"`
	Variation    map[string]string `json:"variation"`
	Quantity     int               `json:"quantity"`
	LineSubtotal float64           `json:"line_subtotal"`
	SKU          string            `json:"sku"`
	URL          string            `json:"url"`
	ImageURL     string            `json:"image_url"`
}

// Fee is a cart fee line.
type Fee struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Empty reports whether the cart has no items.
func (s *Snapshot) Empty() bool {
	return len(s.Items) == 0
}

func (s *Snapshot) totalPrice() float64 {
	if s.OnCartOrCheckout {
		return s.Total
	}
	return s.SubtotalExTax + s.TaxTotal + s.ShippingTaxTotal + s.ShippingTotal
}

// buildPayload converts a snapshot and session into the remote cart payload.
// customer may be nil.
func buildPayload(snap *Snapshot, sess *platform.Session, customer *model.Customer) (*model.OrderPayload, error) {
	p := &model.OrderPayload{
		Totals: &model.Totals{
			TotalPrice:       model.AmountToInt(snap.totalPrice()),
			SubtotalPrice:    model.AmountToInt(snap.SubtotalExTax),
			TotalTax:         model.AmountToInt(snap.TaxTotal + snap.ShippingTaxTotal),
			TotalDiscounts:   model.AmountToInt(snap.DiscountTotal),
			TotalShipping:    model.AmountToInt(snap.ShippingTotal),
			RequiresShipping: snap.RequiresShipping,
			Currency:         snap.Currency,
		},
		BillingAddress:  model.AddressFromFields(snap.Billing, ""),
		ShippingAddress: model.AddressFromFields(snap.Shipping, ""),
		Customer:        customer,
	}

	for _, it := range snap.Items {
		if it.Quantity <= 0 {
			continue
		}
		li := model.LineItem{
			Title:     it.Title,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     model.AmountToInt(it.LineSubtotal / float64(it.Quantity)),
			SKU:       it.SKU,
			URL:       it.URL,
			ImageURL:  it.ImageURL,
			Key:       it.Key,
		}
		if it.VariationID != 0 {
			li.VariantID = it.VariationID
			li.Variation = nonEmpty(it.Variation)
		}
		p.LineItems = append(p.LineItems, li)
	}
	for _, f := range snap.Fees {
		p.FeeItems = append(p.FeeItems, model.FeeItem{Title: f.Name, Key: f.ID, Amount: model.AmountToInt(f.Amount)})
	}

	if snap.Client != (model.ClientDetails{}) {
		client := snap.Client
		p.ClientDetails = &client
	}

	blob, err := json.Marshal(sess.ClientSession())
	if err != nil {
		return nil, err
	}
	p.ClientSession = string(blob)
	return p, nil
}

func nonEmpty(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

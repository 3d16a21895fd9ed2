package ordersync

import (
	"encoding/json"
	"strconv"
	"strings"

	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
)

// Financial statuses derived from order state.
const (
	FinancialPaid              = "paid"
	FinancialVoided            = "voided"
	FinancialPartiallyRefunded = "partially_refunded"
)

// FinancialStatus derives the payment-state label for an order. Refunds are
// compared with the total in minor units. Other orders mirror their status.
func FinancialStatus(o platform.Order) string {
	switch {
	case o.IsPaid():
		return FinancialPaid
	case o.Status() == platform.StatusFailed:
		return FinancialVoided
	}
	if refunded := model.AmountToInt(o.TotalRefunded()); refunded != 0 && refunded != model.AmountToInt(o.Total()) {
		return FinancialPartiallyRefunded
	}
	return o.Status()
}

// buildPayload converts an order into the full remote payload. sess may be
// nil when the event arrives outside the shopper's session.
func (e *Engine) buildPayload(o platform.Order, cartToken, checkoutURL string, sess *platform.Session) (*model.OrderPayload, error) {
	p := &model.OrderPayload{
		Totals: &model.Totals{
			TotalPrice:       model.AmountToInt(o.Total()),
			SubtotalPrice:    model.AmountToInt(o.Subtotal()),
			TotalTax:         model.AmountToInt(o.TotalTax()),
			TotalDiscounts:   model.AmountToInt(o.TotalDiscount()),
			TotalShipping:    model.AmountToInt(o.TotalShipping()),
			RequiresShipping: o.RequiresShipping(),
			Currency:         o.Currency(),
		},
		Name:            o.Number(),
		OrderID:         o.ID(),
		AdminURL:        o.AdminURL(),
		Status:          o.Status(),
		FinancialStatus: FinancialStatus(o),
		CartToken:       cartToken,
		CheckoutURL:     checkoutURL,
		FeeItems:        o.Fees(),
		BillingAddress:  model.AddressFromFields(o.Billing(), ""),
		ShippingAddress: model.AddressFromFields(o.Shipping(), ""),
		Note:            o.CustomerNote(),
	}

	for _, it := range o.LineItems() {
		p.LineItems = append(p.LineItems, lineItem(it))
	}

	if ip, ua := o.CustomerIP(), o.CustomerUserAgent(); ip != "" || ua != "" {
		p.ClientDetails = &model.ClientDetails{BrowserIP: ip, UserAgent: ua}
	}

	billing := o.Billing()
	customer := &model.Customer{
		Email:     billing["email"],
		FirstName: billing["first_name"],
		LastName:  billing["last_name"],
	}
	if id := o.CustomerID(); id != 0 {
		customer.ID = id
		customer.AdminURL = e.userEditURL(id)
	}
	if *customer != (model.Customer{}) {
		p.Customer = customer
	}

	if sess != nil {
		blob, err := json.Marshal(sess.ClientSession())
		if err != nil {
			return nil, err
		}
		p.ClientSession = string(blob)
	}
	return p, nil
}

func lineItem(it platform.OrderItem) model.LineItem {
	li := model.LineItem{
		Title:     it.Name,
		ProductID: it.ProductID,
		Quantity:  it.Quantity,
		SKU:       it.SKU,
		URL:       it.URL,
		ImageURL:  it.ImageURL,
		Key:       it.Key,
	}
	if it.Quantity > 0 {
		li.Price = model.AmountToInt(it.Subtotal / float64(it.Quantity))
	}
	for k, v := range it.Meta {
		if strings.HasPrefix(k, "pa_") {
			if it.VariationID != 0 && v != "" {
				if li.Variation == nil {
					li.Variation = map[string]string{}
				}
				li.Variation[k] = v
			}
			continue
		}
		if li.Properties == nil {
			li.Properties = map[string]string{}
		}
		li.Properties[k] = v
	}
	if it.VariationID != 0 {
		li.VariantID = it.VariationID
	}
	return li
}

func (e *Engine) userEditURL(userID int64) string {
	if e.cfg.AdminURL == "" {
		return ""
	}
	return strings.TrimSuffix(e.cfg.AdminURL, "/") + "/user-edit.php?user_id=" + strconv.FormatInt(userID, 10)
}

package woocommerce

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"jilt-connector/internal/model"
	"jilt-connector/internal/platform"
)

// orderRecord converts a wc/v3 order to the storefront order the engines use.
func (c *Client) orderRecord(wc *WooOrder) *platform.OrderRecord {
	id := strconv.Itoa(wc.ID)

	rec := &platform.OrderRecord{
		OrderID:        int64(wc.ID),
		OrderNumber:    wc.Number,
		OrderStatus:    wc.Status,
		CurrencyCode:   wc.Currency,
		GrandTotal:     parseAmount(wc.Total),
		TaxAmount:      parseAmount(wc.TotalTax),
		ShippingAmount: parseAmount(wc.ShippingTotal),
		DiscountAmount: parseAmount(wc.DiscountTotal),
		Shippable:      len(wc.ShippingLines) > 0,
		BillingFields:  addressFields(&wc.Billing, true),
		ShippingFields: addressFields(&wc.Shipping, false),
		Customer:       int64(wc.CustomerID),
		Note:           wc.CustomerNote,
		IPAddress:      wc.CustomerIPAddress,
		UserAgent:      wc.CustomerUserAgent,
		PayURL:         wc.PaymentURL,
		ThankYouURL:    c.storeURL + "/checkout/order-received/" + id + "/?key=" + url.QueryEscape(wc.OrderKey),
		EditURL:        c.adminURL + "post.php?post=" + id + "&action=edit",
	}
	if rec.OrderNumber == "" {
		rec.OrderNumber = id
	}
	if rec.PayURL == "" {
		rec.PayURL = c.storeURL + "/checkout/order-pay/" + id + "/?pay_for_order=true&key=" + url.QueryEscape(wc.OrderKey)
	}

	// Refund totals are negative.
	var refunded int64
	for _, r := range wc.Refunds {
		refunded -= model.ParseCents(r.Total)
	}
	rec.RefundedAmount = float64(refunded) / 100
	for i := range wc.LineItems {
		item := c.orderItem(&wc.LineItems[i])
		rec.SubtotalAmount += item.Subtotal
		rec.Items = append(rec.Items, item)
	}
	for _, f := range wc.FeeLines {
		rec.FeeLines = append(rec.FeeLines, model.FeeItem{
			Title:  f.Name,
			Key:    strconv.Itoa(f.ID),
			Amount: model.ParseCents(f.Total),
		})
	}
	return rec
}

func (c *Client) orderItem(li *WooLineItem) platform.OrderItem {
	item := platform.OrderItem{
		Key:         strconv.Itoa(li.ID),
		Name:        li.Name,
		ProductID:   int64(li.ProductID),
		VariationID: int64(li.VariationID),
		Quantity:    li.Quantity,
		Subtotal:    parseAmount(li.Subtotal),
		SKU:         li.SKU,
		URL:         li.Permalink,
		Meta:        itemMeta(li.MetaData),
	}
	if item.URL == "" && li.ProductID > 0 {
		item.URL = c.storeURL + "/?p=" + strconv.Itoa(li.ProductID)
	}
	if li.Image != nil {
		item.ImageURL = li.Image.Src
	}
	return item
}

// itemMeta keeps visible meta with string values. Keys starting with an
// underscore are internal to the store.
func itemMeta(entries []WooItemMeta) map[string]string {
	meta := make(map[string]string)
	for _, m := range entries {
		if m.Key == "" || strings.HasPrefix(m.Key, "_") {
			continue
		}
		var v string
		if err := json.Unmarshal(m.Value, &v); err != nil {
			continue
		}
		meta[m.Key] = v
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// addressFields returns the address under the storefront's unprefixed
// field names. Shipping addresses have no email or phone.
func addressFields(a *WooAddress, withContact bool) map[string]string {
	fields := map[string]string{
		"first_name": a.FirstName,
		"last_name":  a.LastName,
		"company":    a.Company,
		"address_1":  a.Address1,
		"address_2":  a.Address2,
		"city":       a.City,
		"state":      a.State,
		"postcode":   a.Postcode,
		"country":    a.Country,
	}
	if withContact {
		fields["email"] = a.Email
		fields["phone"] = a.Phone
	}
	return fields
}

// parseAmount parses a WooCommerce decimal string. Empty or malformed
// values are zero.
func parseAmount(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

package platform

import (
	"slices"

	"jilt-connector/internal/model"
)

// Order statuses the engines branch on.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusOnHold     = "on-hold"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusFailed     = "failed"
)

// PaidStatuses are the statuses in which an order counts as paid.
var PaidStatuses = []string{StatusProcessing, StatusCompleted}

// OrderRecord is a plain-data Order, used by adapters that fetch the whole
// order up front and by the in-memory store.
type OrderRecord struct {
	OrderID        int64
	OrderNumber    string
	OrderStatus    string
	CurrencyCode   string
	GrandTotal     float64
	SubtotalAmount float64
	TaxAmount      float64
	ShippingAmount float64
	DiscountAmount float64
	RefundedAmount float64
	Shippable      bool
	Items          []OrderItem
	FeeLines       []model.FeeItem
	BillingFields  map[string]string
	ShippingFields map[string]string
	Customer       int64
	Note           string
	IPAddress      string
	UserAgent      string
	PayURL         string
	ThankYouURL    string
	EditURL        string
}

var _ Order = (*OrderRecord)(nil)

func (o *OrderRecord) ID() int64                   { return o.OrderID }
func (o *OrderRecord) Number() string              { return o.OrderNumber }
func (o *OrderRecord) Status() string              { return o.OrderStatus }
func (o *OrderRecord) Currency() string            { return o.CurrencyCode }
func (o *OrderRecord) Total() float64              { return o.GrandTotal }
func (o *OrderRecord) Subtotal() float64           { return o.SubtotalAmount }
func (o *OrderRecord) TotalTax() float64           { return o.TaxAmount }
func (o *OrderRecord) TotalShipping() float64      { return o.ShippingAmount }
func (o *OrderRecord) TotalDiscount() float64      { return o.DiscountAmount }
func (o *OrderRecord) TotalRefunded() float64      { return o.RefundedAmount }
func (o *OrderRecord) RequiresShipping() bool      { return o.Shippable }
func (o *OrderRecord) LineItems() []OrderItem      { return o.Items }
func (o *OrderRecord) Fees() []model.FeeItem       { return o.FeeLines }
func (o *OrderRecord) Billing() map[string]string  { return o.BillingFields }
func (o *OrderRecord) Shipping() map[string]string { return o.ShippingFields }
func (o *OrderRecord) CustomerID() int64           { return o.Customer }
func (o *OrderRecord) CustomerNote() string        { return o.Note }
func (o *OrderRecord) CustomerIP() string          { return o.IPAddress }
func (o *OrderRecord) CustomerUserAgent() string   { return o.UserAgent }
func (o *OrderRecord) PaymentURL() string          { return o.PayURL }
func (o *OrderRecord) ReceivedURL() string         { return o.ThankYouURL }
func (o *OrderRecord) AdminURL() string            { return o.EditURL }

// IsPaid reports whether the status is one of PaidStatuses.
func (o *OrderRecord) IsPaid() bool {
	return slices.Contains(PaidStatuses, o.OrderStatus)
}

// NeedsPayment reports whether the order still awaits a payment.
func (o *OrderRecord) NeedsPayment() bool {
	return (o.OrderStatus == StatusPending || o.OrderStatus == StatusFailed) && o.GrandTotal > 0
}

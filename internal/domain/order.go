package domain

import "time"

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cod"
	PaymentOnline         PaymentMethod = "online"
)

type OrderStatus string

const (
	OrderStatusPlaced         OrderStatus = "PLACED"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusFailed         OrderStatus = "FAILED"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusFailed
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// OrderDraft is the payload handed to the order store once an attempt has
// cleared rate limiting and revalidation.
type OrderDraft struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Lines         []CorrectedLine `json:"lines"`
	TotalAmount   float64         `json:"total_amount"`
	Currency      string          `json:"currency"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentRef    string          `json:"payment_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (d *OrderDraft) ComputeTotal() {
	var total float64
	for _, line := range d.Lines {
		total += line.Subtotal()
	}
	d.TotalAmount = total
}

package domain

// CartLineSnapshot captures one cart line at the moment the customer added it.
// A snapshot is never mutated in place; a validation pass produces corrected
// lines that supersede it.
type CartLineSnapshot struct {
	ProductID  int64   `json:"product_id"`
	Quantity   int32   `json:"quantity"`
	PriceAtAdd float64 `json:"price_at_add"`
	MRPAtAdd   float64 `json:"mrp_at_add"`
}

// CorrectedLine is a cart line with authoritative price and display fields
// substituted in.
type CorrectedLine struct {
	ProductID   int64   `json:"product_id"`
	Quantity    int32   `json:"quantity"`
	Price       float64 `json:"price"`
	MRP         float64 `json:"mrp"`
	DisplayName string  `json:"display_name"`
	Category    string  `json:"category"`
}

func (c CorrectedLine) Subtotal() float64 {
	return c.Price * float64(c.Quantity)
}

// AuthoritativeProduct is the current catalog truth for one product. It is
// fetched on demand and only ever cached with a short TTL.
type AuthoritativeProduct struct {
	ProductID    int64   `json:"product_id"`
	SellingPrice float64 `json:"selling_price"`
	MRP          float64 `json:"mrp"`
	Available    bool    `json:"available"`
	StockCount   *int32  `json:"stock_count,omitempty"` // nil when stock is not tracked
	Category     string  `json:"category"`
	DisplayName  string  `json:"display_name"`
}

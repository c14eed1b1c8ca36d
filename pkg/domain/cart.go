package domain

// CartLine is one entry of the draft order. ID is assigned by the backend and
// is the only stable key for updates and removal; ProductID may repeat.
type CartLine struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"product"`
	ProductName string `json:"product_name,omitempty"`
	SKU         string `json:"sku,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"price"`
}

// Subtotal is UnitPrice × Quantity.
func (l CartLine) Subtotal() Money {
	return l.UnitPrice.Mul(l.Quantity)
}

// Cart is the in-progress draft order.
type Cart struct {
	Items []CartLine `json:"items"`
}

// Total sums the subtotals of the current lines. It is always derived from
// Items; there is no stored total to go stale.
func (c Cart) Total() Money {
	var total Money
	for _, l := range c.Items {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ItemCount returns the number of units across all lines.
func (c Cart) ItemCount() int {
	n := 0
	for _, l := range c.Items {
		n += l.Quantity
	}
	return n
}

// Index returns the position of the line with the given ID, or -1.
func (c Cart) Index(lineID int64) int {
	for i := range c.Items {
		if c.Items[i].ID == lineID {
			return i
		}
	}
	return -1
}

// Line returns the line with the given ID.
func (c Cart) Line(lineID int64) (CartLine, bool) {
	if i := c.Index(lineID); i >= 0 {
		return c.Items[i], true
	}
	return CartLine{}, false
}

// Clone returns a deep copy, safe to hand to readers.
func (c Cart) Clone() Cart {
	items := make([]CartLine, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items}
}

package domain

import "time"

// Cart is the server-shaped cart snapshot. Money is in minor units.
type Cart struct {
	ID              string     `json:"id,omitempty"`
	Items           []CartItem `json:"items"`
	TotalItems      int        `json:"total_items"`
	TotalPrice      int64      `json:"total_price"`
	CouponCode      string     `json:"coupon_code,omitempty"`
	DiscountAmount  *int64     `json:"discount_amount,omitempty"`
	DiscountedTotal *int64     `json:"discounted_total,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// CartItem represents a single line in the cart.
type CartItem struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
}

// Clone returns a deep copy. Snapshots held by the cache are never mutated
// in place.
func (c Cart) Clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = make([]CartItem, len(c.Items))
		copy(out.Items, c.Items)
	}
	if c.DiscountAmount != nil {
		v := *c.DiscountAmount
		out.DiscountAmount = &v
	}
	if c.DiscountedTotal != nil {
		v := *c.DiscountedTotal
		out.DiscountedTotal = &v
	}
	if c.ExpiresAt != nil {
		v := *c.ExpiresAt
		out.ExpiresAt = &v
	}
	return out
}

// FindItemIndex returns the index of the line for productID, or -1.
func (c *Cart) FindItemIndex(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Quantity returns the quantity held for productID, zero when absent.
func (c *Cart) Quantity(productID string) int {
	if i := c.FindItemIndex(productID); i >= 0 {
		return c.Items[i].Quantity
	}
	return 0
}

// IsEmpty reports whether the cart holds no items.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0 || c.TotalItems <= 0
}

// SetQuantity sets the quantity of productID, appending a zero-priced
// placeholder line for an unknown product and dropping the line when qty
// reaches zero. Totals are recomputed.
func (c *Cart) SetQuantity(productID string, qty int) {
	if qty < 0 {
		qty = 0
	}
	i := c.FindItemIndex(productID)
	switch {
	case i < 0 && qty == 0:
	case i < 0:
		c.Items = append(c.Items, CartItem{ProductID: productID, Quantity: qty})
	case qty == 0:
		c.Items = append(c.Items[:i:i], c.Items[i+1:]...)
	default:
		c.Items[i].Quantity = qty
	}
	c.Recalculate()
}

// AdjustQuantity adds delta (which may be negative) to the quantity of
// productID, clamping at zero.
func (c *Cart) AdjustQuantity(productID string, delta int) {
	c.SetQuantity(productID, c.Quantity(productID)+delta)
}

// Recalculate recomputes line totals, total_items and total_price from the
// items. When a discount is present the discounted total follows the new
// subtotal; the discount amount itself is server-owned and kept.
func (c *Cart) Recalculate() {
	var count int
	var total int64
	for i := range c.Items {
		if c.Items[i].Quantity < 0 {
			c.Items[i].Quantity = 0
		}
		c.Items[i].TotalPrice = c.Items[i].UnitPrice * int64(c.Items[i].Quantity)
		count += c.Items[i].Quantity
		total += c.Items[i].TotalPrice
	}
	c.TotalItems = count
	c.TotalPrice = total
	if c.DiscountAmount != nil {
		dt := total - *c.DiscountAmount
		if dt < 0 {
			dt = 0
		}
		c.DiscountedTotal = &dt
	}
}

// ClearCoupon drops the coupon and all discount fields.
func (c *Cart) ClearCoupon() {
	c.CouponCode = ""
	c.DiscountAmount = nil
	c.DiscountedTotal = nil
}

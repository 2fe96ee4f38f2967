package domain

// CounterSnapshot is the pair of badge counts shown across the storefront.
type CounterSnapshot struct {
	CartCount     int `json:"cart_count"`
	WishlistCount int `json:"wishlist_count"`
}

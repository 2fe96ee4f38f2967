package domain

import "time"

// WishlistItem is a membership record. At most one exists per user and
// product.
type WishlistItem struct {
	ProductID string    `json:"product_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Wishlist is the "all items" snapshot.
type Wishlist struct {
	Items []WishlistItem `json:"items"`
	Total int            `json:"total"`
}

// Clone returns a copy that shares nothing with w.
func (w Wishlist) Clone() Wishlist {
	out := w
	if w.Items != nil {
		out.Items = make([]WishlistItem, len(w.Items))
		copy(out.Items, w.Items)
	}
	return out
}

// Contains reports whether productID is a member.
func (w *Wishlist) Contains(productID string) bool {
	for i := range w.Items {
		if w.Items[i].ProductID == productID {
			return true
		}
	}
	return false
}

// Add inserts item unless its product is already present. It reports
// whether the wishlist changed.
func (w *Wishlist) Add(item WishlistItem) bool {
	if w.Contains(item.ProductID) {
		return false
	}
	w.Items = append(w.Items, item)
	w.Total = len(w.Items)
	return true
}

// Remove deletes productID and reports whether it was present.
func (w *Wishlist) Remove(productID string) bool {
	for i := range w.Items {
		if w.Items[i].ProductID == productID {
			w.Items = append(w.Items[:i:i], w.Items[i+1:]...)
			w.Total = len(w.Items)
			return true
		}
	}
	return false
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWishlist_AddIsIdempotent(t *testing.T) {
	var w Wishlist
	assert.True(t, w.Add(WishlistItem{ProductID: "p1", UserID: "u1"}))
	assert.False(t, w.Add(WishlistItem{ProductID: "p1", UserID: "u1"}))

	assert.Len(t, w.Items, 1)
	assert.Equal(t, 1, w.Total)
}

func TestWishlist_Remove(t *testing.T) {
	w := Wishlist{Items: []WishlistItem{{ProductID: "p1"}, {ProductID: "p2"}}, Total: 2}

	assert.True(t, w.Remove("p1"))
	assert.False(t, w.Remove("p1"))
	assert.False(t, w.Contains("p1"))
	assert.True(t, w.Contains("p2"))
	assert.Equal(t, 1, w.Total)
}

func TestWishlist_CloneDoesNotAlias(t *testing.T) {
	w := Wishlist{Items: []WishlistItem{{ProductID: "p1"}}, Total: 1}
	cp := w.Clone()
	cp.Remove("p1")

	assert.True(t, w.Contains("p1"))
}

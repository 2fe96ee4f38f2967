package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/utafrali/storefront-sync/internal/domain"
)

func TestCounters_SetAndSnapshot(t *testing.T) {
	c := NewCounters()
	c.SetCartCount(3)
	c.SetWishlistCount(2)

	assert.Equal(t, domain.CounterSnapshot{CartCount: 3, WishlistCount: 2}, c.Snapshot())
}

func TestCounters_NegativeClampsToZero(t *testing.T) {
	c := NewCounters()
	c.SetCartCount(5)
	c.SetCartCount(-2)

	assert.Equal(t, 0, c.Snapshot().CartCount)
}

func TestCounters_SubscribersSeeWriteBeforeReturn(t *testing.T) {
	c := NewCounters()

	var got []domain.CounterSnapshot
	c.Subscribe(func(s domain.CounterSnapshot) { got = append(got, s) })

	c.SetCartCount(1)
	assert.Equal(t, []domain.CounterSnapshot{{CartCount: 1}}, got)

	c.SetWishlistCount(4)
	assert.Equal(t, domain.CounterSnapshot{CartCount: 1, WishlistCount: 4}, got[1])
}

func TestCounters_NoNotificationWithoutChange(t *testing.T) {
	c := NewCounters()
	calls := 0
	c.Subscribe(func(domain.CounterSnapshot) { calls++ })

	c.SetCartCount(2)
	c.SetCartCount(2)
	assert.Equal(t, 1, calls)
}

func TestCounters_Unsubscribe(t *testing.T) {
	c := NewCounters()
	calls := 0
	unsub := c.Subscribe(func(domain.CounterSnapshot) { calls++ })

	c.SetCartCount(1)
	unsub()
	c.SetCartCount(2)
	assert.Equal(t, 1, calls)
}

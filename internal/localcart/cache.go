// Package localcart holds the in-memory cart used for instant feedback. It knows nothing
// about signed-in users or the remote store.
package localcart

import (
	"sync"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/domain"
)

// Cache is an ordered list of line items keyed by product id.
type Cache struct {
	mu    sync.RWMutex
	items []domain.LineItem
	now   func() time.Time
}

func New() *Cache {
	return &Cache{now: time.Now}
}

// Add appends the product with quantity 1. Adding a product that is already present is a
// no-op; quantity changes go through Increment.
func (c *Cache) Add(p domain.Product) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOf(p.ID) >= 0 {
		return false
	}
	c.items = append(c.items, domain.LineItem{Product: p, Quantity: 1, UpdatedAt: c.now()})
	return true
}

// Put inserts a fully formed item, keeping its quantity and timestamp. Existing items are
// left untouched. Used when merging remote rows into the local cart.
func (c *Cache) Put(item domain.LineItem) bool {
	if item.Quantity < 1 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOf(item.Product.ID) >= 0 {
		return false
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = c.now()
	}
	c.items = append(c.items, item)
	return true
}

// SetQuantity overwrites the quantity of an existing item with a value observed at `at`.
func (c *Cache) SetQuantity(productID string, quantity int, at time.Time) bool {
	if quantity < 1 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	c.items[i].Quantity = quantity
	c.items[i].UpdatedAt = at
	return true
}

func (c *Cache) Remove(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(productID)
	if i < 0 {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	return true
}

// Increment returns the new quantity, or false if the product is not in the cart.
func (c *Cache) Increment(productID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(productID)
	if i < 0 {
		return 0, false
	}
	c.items[i].Quantity++
	c.items[i].UpdatedAt = c.now()
	return c.items[i].Quantity, true
}

// Decrement returns the new quantity. An item at quantity 1 is removed and 0 is returned.
func (c *Cache) Decrement(productID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(productID)
	if i < 0 {
		return 0, false
	}
	if c.items[i].Quantity <= 1 {
		c.items = append(c.items[:i], c.items[i+1:]...)
		return 0, true
	}
	c.items[i].Quantity--
	c.items[i].UpdatedAt = c.now()
	return c.items[i].Quantity, true
}

func (c *Cache) Get(productID string) (domain.LineItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.indexOf(productID)
	if i < 0 {
		return domain.LineItem{}, false
	}
	return c.items[i], true
}

// Items returns a copy of the line items in insertion order.
func (c *Cache) Items() []domain.LineItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.LineItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) TotalPrice() domain.Money {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total domain.Money
	for _, item := range c.items {
		total += item.Subtotal()
	}
	return total
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}

func (c *Cache) indexOf(productID string) int {
	for i := range c.items {
		if c.items[i].Product.ID == productID {
			return i
		}
	}
	return -1
}

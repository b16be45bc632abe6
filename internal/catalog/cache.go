// Package catalog caches per-provider model lists. Vendor catalog
// queries are slow and slow-changing, so the router serves cached
// lists while they are fresh.
package catalog

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	provider  string
	models    []string
	expiresAt time.Time
}

// Cache is an in-memory LRU cache with per-entry TTL, keyed by
// provider name.
type Cache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front = most recently used
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// New creates a cache with the given TTL and max entry count.
func New(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached model list for a provider, if fresh.
func (c *Cache) Get(provider string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[provider]
	if !ok {
		return nil, false
	}
	e := elem.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.order.Remove(elem)
		delete(c.items, provider)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return e.models, true
}

// Put stores a provider's model list, evicting the least recently
// used entry when full.
func (c *Cache) Put(provider string, models []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[provider]; ok {
		e := elem.Value.(*entry)
		e.models = models
		e.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxEntries {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).provider)
		}
	}

	c.items[provider] = c.order.PushFront(&entry{
		provider:  provider,
		models:    models,
		expiresAt: c.now().Add(c.ttl),
	})
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Package cache holds raw upstream responses keyed by destination host.
//
// Entries expire lazily: there is no janitor, an expired entry is dropped
// the first time it is read after its TTL. The store is safe for concurrent
// use and copies values in and out, so callers never share a backing slice.
package cache

import (
	"slices"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultTTL is used when New is given a non-positive TTL.
const DefaultTTL = 360 * time.Second

// Op identifies a cache mutation.
type Op int

const (
	OpSet Op = iota
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event describes a mutation. Size is the stored value length for OpSet.
type Event struct {
	Op   Op
	Key  string
	Size int
}

// Observer receives cache events. It is called synchronously and must not
// block or call back into the Cache.
type Observer interface {
	CacheEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) CacheEvent(e Event) { f(e) }

// Cache is a TTL store of raw responses.
type Cache struct {
	ttl   time.Duration
	store *gocache.Cache
	obs   Observer

	// mu orders Set against the lazy delete in Get so a miss never drops an
	// entry written after the miss was observed.
	mu sync.Mutex
}

// New returns an empty cache. obs may be nil.
func New(ttl time.Duration, obs Observer) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:   ttl,
		store: gocache.New(ttl, 0),
		obs:   obs,
	}
	c.store.OnEvicted(func(key string, _ any) {
		c.emit(Event{Op: OpRemove, Key: key})
	})
	return c
}

// TTL returns the lifetime given to new entries.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Has reports whether key holds a live entry.
func (c *Cache) Has(key string) bool {
	_, ok := c.store.Get(key)
	return ok
}

// Get returns a copy of the live value for key. An expired entry is removed.
func (c *Cache) Get(key string) ([]byte, bool) {
	if v, ok := c.store.Get(key); ok {
		return slices.Clone(v.([]byte)), true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check under the lock; a concurrent Set may have landed.
	if v, ok := c.store.Get(key); ok {
		return slices.Clone(v.([]byte)), true
	}
	c.store.Delete(key)
	return nil, false
}

// Set stores a copy of value under key, replacing any previous entry.
func (c *Cache) Set(key string, value []byte) {
	c.mu.Lock()
	c.store.Set(key, slices.Clone(value), c.ttl)
	c.mu.Unlock()
	c.emit(Event{Op: OpSet, Key: key, Size: len(value)})
}

// Remove deletes key and reports whether a live entry was present.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.store.Get(key)
	c.store.Delete(key)
	return ok
}

// Keys returns the live keys in sorted order.
func (c *Cache) Keys() []string {
	items := c.store.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return len(c.store.Items())
}

// Purge removes every entry and returns how many were live.
func (c *Cache) Purge() int {
	n := 0
	for _, k := range c.Keys() {
		if c.Remove(k) {
			n++
		}
	}
	return n
}

func (c *Cache) emit(e Event) {
	if c.obs != nil {
		c.obs.CacheEvent(e)
	}
}

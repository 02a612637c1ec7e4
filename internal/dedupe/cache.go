// ABOUTME: Thread-safe TTL cache of idempotency keys and the responses they produced
// ABOUTME: Lets the JSON API replay the original result when a client retries a create

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Response is a recorded HTTP result for an idempotency key.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// cacheEntry stores the timestamp, list element, and result for a cached key.
// A nil response means the original request is still in flight.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
	response  *Response
}

// Cache is a thread-safe, TTL-based, size-limited map from idempotency keys
// to responses. Uses a doubly-linked list to maintain insertion order for O(1)
// eviction.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
	now     func() time.Time
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	return newCache(ttl, maxSize, time.Now)
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
		now:     now,
	}
	go c.cleanup()
	return c
}

// Outcome describes what Begin found for a key.
type Outcome int

const (
	// Started means the key was new and is now reserved for the caller.
	Started Outcome = iota
	// InFlight means another request holds the key and has not finished.
	InFlight
	// Completed means the key finished; the recorded response is returned.
	Completed
)

// Begin atomically looks up key and reserves it if unseen or expired.
// Callers that get Started must follow with Complete or Abandon.
func (c *Cache) Begin(key string) (Outcome, *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && c.now().Sub(entry.timestamp) < c.ttl {
		if entry.response == nil {
			return InFlight, nil
		}
		return Completed, entry.response
	}

	c.markLocked(key, nil)
	return Started, nil
}

// Complete records the response for a reserved key and restarts its TTL.
func (c *Cache) Complete(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, &resp)
}

// Abandon releases a reservation so the key can be retried, as after a
// failed request.
func (c *Cache) Abandon(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && entry.response == nil {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Lookup returns the recorded response for key, if any.
func (c *Cache) Lookup(key string) (*Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	if !ok || entry.response == nil || c.now().Sub(entry.timestamp) >= c.ttl {
		return nil, false
	}
	return entry.response, true
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// markLocked inserts or refreshes key. Must be called with mu held.
func (c *Cache) markLocked(key string, resp *Response) {
	now := c.now()

	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		entry.response = resp
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp: now,
		element:   elem,
		response:  resp,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using linked list.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

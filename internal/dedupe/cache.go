// ABOUTME: Thread-safe TTL cache that remembers the outcome of idempotent requests
// ABOUTME: Lets a retried POST with the same Idempotency-Key replay instead of posting twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// State is the outcome of Begin.
type State int

const (
	// StateNew means the caller now owns the key and must Complete or Abandon it.
	StateNew State = iota
	// StateInFlight means another request holds the key and has not finished.
	StateInFlight
	// StateDone means the key finished earlier; its Response is returned.
	StateDone
)

// Response is what gets replayed for a completed key.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// cacheEntry stores the timestamp, list element and outcome for a key.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
	resp      *Response // nil while in flight
}

// Cache is a TTL-based, size-limited map from request keys to their
// recorded responses. Uses a doubly-linked list to maintain insertion order
// for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // List of keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a new cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Check returns true if the key is held or completed and not expired.
func (c *Cache) Check(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	return time.Since(entry.timestamp) < c.ttl
}

// Begin atomically claims key. If the key already completed, the recorded
// response is returned with StateDone. If another request holds it,
// StateInFlight is returned. Otherwise the key is marked in flight and the
// caller gets StateNew.
func (c *Cache) Begin(key string) (*Response, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && time.Since(entry.timestamp) < c.ttl {
		if entry.resp == nil {
			return nil, StateInFlight
		}
		resp := *entry.resp
		return &resp, StateDone
	}

	c.markLocked(key, nil)
	return nil, StateNew
}

// Complete records the response for a key claimed with Begin.
func (c *Cache) Complete(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body := make([]byte, len(resp.Body))
	copy(body, resp.Body)
	resp.Body = body
	c.markLocked(key, &resp)
}

// Abandon releases a key claimed with Begin without recording a response,
// so the request can be retried.
func (c *Cache) Abandon(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && entry.resp == nil {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// markLocked is the internal mark implementation. Must be called with mu held.
func (c *Cache) markLocked(key string, resp *Response) {
	now := time.Now()

	// If key already exists, update timestamp and move to back
	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		entry.resp = resp
		c.order.MoveToBack(entry.element)
		return
	}

	// Evict oldest if at capacity
	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp: now,
		element:   elem,
		resp:      resp,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
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

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
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

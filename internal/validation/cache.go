package validation

import (
	"container/list"
	"sync"
	"time"
)

// Cache memoizes per-task validation facts keyed by (taskID,
// ruleSetVersion) with a TTL bound and LRU eviction on overflow.
//
// Correctness over performance: any failure path degrades to a cache miss,
// and a write to a task's relationships evicts every entry for that task
// eagerly, so a pass can never outlive the facts it was computed from.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	ll      *list.List // front = most recently used
	ttl     time.Duration
	max     int
}

type cacheEntry struct {
	key     string
	taskID  string
	result  *Result
	expires time.Time
}

// NewCache returns a cache with the given TTL and entry bound.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries: make(map[string]*list.Element),
		ll:      list.New(),
		ttl:     ttl,
		max:     maxEntries,
	}
}

func cacheKey(taskID, ruleSetVersion string) string {
	return taskID + "\x00" + ruleSetVersion
}

// Get returns a live cached result, or nil on miss/expiry.
func (c *Cache) Get(key string) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expires) {
		c.ll.Remove(el)
		delete(c.entries, key)
		return nil
	}
	c.ll.MoveToFront(el)
	return entry.result
}

// Put stores a result, evicting the least recently used entry on overflow.
func (c *Cache) Put(key, taskID string, r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.result = r
		entry.expires = time.Now().Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}

	for c.ll.Len() >= c.max {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	el := c.ll.PushFront(&cacheEntry{
		key:     key,
		taskID:  taskID,
		result:  r,
		expires: time.Now().Add(c.ttl),
	})
	c.entries[key] = el
}

// InvalidateTask drops every entry for the given task. Wired to the store's
// relationship observer so a relationship added or removed within the TTL
// is reflected by the very next validation call.
func (c *Cache) InvalidateTask(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for el := c.ll.Front(); el != nil; el = next {
		next = el.Next()
		entry := el.Value.(*cacheEntry)
		if entry.taskID == taskID {
			c.ll.Remove(el)
			delete(c.entries, entry.key)
		}
	}
}

// Len reports the live entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

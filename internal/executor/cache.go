// Package executor drives single steps through the strategy cascade under
// the safety gate, and runs whole plans with recovery. It owns the selector
// cache and the post-condition verifier.
package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/surehand-ai/surehand/internal/types"
)

// Cache defaults.
const (
	DefaultCacheTTL        = 60 * time.Second
	DefaultCacheMaxEntries = 100
)

// Key builds the cache signature for a step: tool, canonical-JSON arguments,
// and the window the step ran against. json.Marshal sorts map keys, so the
// same arguments always produce the same signature.
func Key(tool string, args map[string]any, windowTitle string) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	if len(args) > 0 {
		if raw, err := json.Marshal(args); err == nil {
			h.Write(raw)
		}
	}
	h.Write([]byte{0})
	h.Write([]byte(windowTitle))
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	selector *types.UISelector
	storedAt time.Time
}

// SelectorCache keeps resolved selectors for a short TTL so repeated actions
// on the same target skip re-resolution. It never persists; a restart starts
// cold. Safe for concurrent use.
type SelectorCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry

	hits      int
	misses    int
	evictions int

	now func() time.Time
}

// NewSelectorCache builds a cache. Non-positive ttl or maxEntries select the
// defaults.
func NewSelectorCache(ttl time.Duration, maxEntries int) *SelectorCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &SelectorCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
		now:        time.Now,
	}
}

// Get returns a copy of the cached selector. An expired entry counts as a
// miss and is evicted on the spot.
func (c *SelectorCache) Get(key string) (*types.UISelector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		c.evictions++
		c.misses++
		return nil, false
	}

	c.hits++
	sel := *entry.selector
	return &sel, true
}

// Set stores a copy of the selector under the key, overwriting any previous
// entry. When the cache is full the oldest entry is evicted first.
func (c *SelectorCache) Set(key string, sel *types.UISelector) {
	if sel == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	cp := *sel
	c.entries[key] = cacheEntry{selector: &cp, storedAt: c.now()}
}

// Invalidate drops one entry.
func (c *SelectorCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.evictions++
	}
}

// InvalidateAll empties the cache. Used when the desktop changes wholesale
// (session resume, resolution change).
func (c *SelectorCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictions += len(c.entries)
	c.entries = make(map[string]cacheEntry)
}

// InvalidateWindow drops every entry whose selector references the window,
// matched case-insensitively by substring. Returns how many were dropped.
func (c *SelectorCache) InvalidateWindow(title string) int {
	if title == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	needle := strings.ToLower(title)
	dropped := 0
	for key, entry := range c.entries {
		if strings.Contains(strings.ToLower(entry.selector.WindowTitle), needle) {
			delete(c.entries, key)
			dropped++
		}
	}
	c.evictions += dropped
	return dropped
}

// Len returns the current entry count.
func (c *SelectorCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the lifetime hit, miss, and eviction counts.
func (c *SelectorCache) Stats() (hits, misses, evictions int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

func (c *SelectorCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

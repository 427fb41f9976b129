package erp

import (
	"sync"
	"time"
)

// DefaultSessionTTL bounds how long an authenticated uid is reused.
// Remote configuration and credentials can change between requests, so it
// stays in minutes.
const DefaultSessionTTL = 5 * time.Minute

type sessionEntry struct {
	uid     int
	expires time.Time
}

// SessionCache maps a credential fingerprint to the uid returned by
// authenticate. It only ever holds opaque ids, so concurrent overwrites
// are harmless.
type SessionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]sessionEntry
}

// NewSessionCache creates a cache whose entries expire after ttl.
// A non-positive ttl falls back to DefaultSessionTTL.
func NewSessionCache(ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]sessionEntry),
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *SessionCache) WithClock(now func() time.Time) *SessionCache {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Get returns the cached uid for key if it has not expired.
func (c *SessionCache) Get(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return 0, false
	}
	return e.uid, true
}

// Put stores uid for key, replacing any previous entry.
func (c *SessionCache) Put(key string, uid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = sessionEntry{uid: uid, expires: c.now().Add(c.ttl)}
}

// Invalidate drops the session for key.
func (c *SessionCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll drops every cached session.
func (c *SessionCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]sessionEntry)
}

// Len returns the number of entries, expired ones included.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

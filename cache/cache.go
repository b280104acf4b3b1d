// Package cache is the content cache shared by every content route. Entries
// expire lazily: an expired entry is deleted the next time its key is read,
// or when Prune sweeps the store.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Entry is a stored value with its expiry bookkeeping.
type Entry struct {
	Data     []byte
	StoredAt time.Time
	TTL      time.Duration
}

func (e Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// Expired reports whether now is past StoredAt+TTL.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// Store is the backend holding cache entries. MemoryStore serves a single
// instance; MongoStore is shared by every instance pointed at the same database.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	// DeleteStored removes key only while it still holds the entry stored at
	// storedAt, so a concurrent Set is never lost.
	DeleteStored(ctx context.Context, key string, storedAt time.Time) error
	Prune(ctx context.Context, now time.Time) (int, error)
}

type Cache struct {
	store Store
	now   func() time.Time
}

type Option func(*Cache)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores value under key for ttl, replacing any existing entry.
// Backend failures are logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[ERROR] cache: encode %s: %v", key, err)
		return
	}
	entry := Entry{Data: data, StoredAt: c.now(), TTL: ttl}
	if err := c.store.Set(ctx, key, entry); err != nil {
		log.Printf("[ERROR] cache: set %s: %v", key, err)
	}
}

// Get decodes the live value under key into dest and reports whether it was
// found. Missing, expired and unreadable entries are all misses.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		log.Printf("[ERROR] cache: get %s: %v", key, err)
		return false
	}
	if !ok {
		return false
	}
	if entry.Expired(c.now()) {
		if err := c.store.DeleteStored(ctx, key, entry.StoredAt); err != nil {
			log.Printf("[WARN] cache: delete expired %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(entry.Data, dest); err != nil {
		log.Printf("[ERROR] cache: decode %s: %v", key, err)
		return false
	}
	return true
}

// Prune removes every expired entry and returns how many were dropped.
func (c *Cache) Prune(ctx context.Context) int {
	n, err := c.store.Prune(ctx, c.now())
	if err != nil {
		log.Printf("[ERROR] cache: prune: %v", err)
	}
	return n
}

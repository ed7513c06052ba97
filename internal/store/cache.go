package store

import (
	"sync"

	"github.com/roach88/tally/internal/engine"
	"github.com/roach88/tally/internal/rules"
)

// entityKind names the table an entity lives in.
type entityKind string

const (
	kindCategory entityKind = "categories"
	kindMerchant entityKind = "merchants"
	kindTag      entityKind = "tags"
)

type entityKey struct {
	kind entityKind
	id   int64
}

// entityCache remembers committed entity rows so that repeated ownership
// checks during a batch do not re-read the same category or tag.
type entityCache struct {
	mu      sync.Mutex
	entries map[entityKey]rules.Entity
	hits    int64
	misses  int64
}

func newEntityCache() *entityCache {
	return &entityCache{entries: make(map[entityKey]rules.Entity)}
}

func (c *entityCache) get(kind entityKind, id int64) (rules.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[entityKey{kind, id}]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return e, ok
}

func (c *entityCache) put(kind entityKind, e rules.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entityKey{kind, e.ID}] = e
}

func (c *entityCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[entityKey]rules.Entity)
	c.hits, c.misses = 0, 0
}

// Clear drops cached entity rows.
func (s *Store) Clear() {
	s.entities.clear()
}

// Stats reports entity cache usage.
func (s *Store) Stats() engine.CacheStats {
	c := s.entities
	c.mu.Lock()
	defer c.mu.Unlock()
	return engine.CacheStats{
		Name:    "store.entities",
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// Package mirror implements the client-side synchronization core: an
// in-memory cache of the remote service collection, a pure filter engine,
// and a controller that coordinates paged fetches with the live change feed.
package mirror

import (
	"time"

	"github.com/lastmilehq/deliverysync/internal/domain"
)

// Cache owns the authoritative in-memory copy of every record fetched so far,
// in insertion order. It is not safe for concurrent use on its own; the
// Controller serializes all access.
type Cache struct {
	order       []string
	items       map[string]*domain.Service
	total       int
	fullyLoaded bool
	lastFetch   time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{items: make(map[string]*domain.Service)}
}

// ReplaceAll overwrites the full known set with a fresh page-one fetch.
func (c *Cache) ReplaceAll(items []domain.Service, total int, now time.Time) {
	c.order = c.order[:0]
	c.items = make(map[string]*domain.Service, len(items))
	for i := range items {
		s := items[i]
		if _, ok := c.items[s.ID]; ok {
			continue
		}
		c.order = append(c.order, s.ID)
		c.items[s.ID] = &s
	}
	c.total = total
	c.fullyLoaded = len(c.order) >= total
	c.lastFetch = now
}

// AppendPage adds a "load more" page. Records whose id is already known are
// skipped, keeping the first-seen field values; concurrent inserts on the
// remote side can shift offsets and make pages overlap.
func (c *Cache) AppendPage(items []domain.Service, total int, now time.Time) {
	for i := range items {
		s := items[i]
		if _, ok := c.items[s.ID]; ok {
			continue
		}
		c.order = append(c.order, s.ID)
		c.items[s.ID] = &s
	}
	c.total = total
	c.fullyLoaded = len(c.order) >= total
	c.lastFetch = now
}

// Upsert applies an INSERT or UPDATE change-feed patch. A known id merges the
// patch field-by-field (last write wins, nil fields untouched). An unknown id
// is inserted at the front — newest first is the default ordering — and the
// locally-known total grows with it, but fullyLoaded never flips true without
// remote confirmation.
func (c *Cache) Upsert(id string, patch *domain.ServicePatch) {
	if id == "" {
		return
	}
	if existing, ok := c.items[id]; ok {
		patch.Apply(existing)
		return
	}
	s := patch.Materialize(id)
	c.order = append([]string{id}, c.order...)
	c.items[id] = &s
	c.total++
}

// UpsertFull replaces or front-inserts a complete record, typically one
// re-fetched after a partial UPDATE event.
func (c *Cache) UpsertFull(s domain.Service) {
	if s.ID == "" {
		return
	}
	if _, ok := c.items[s.ID]; ok {
		rec := s
		c.items[s.ID] = &rec
		return
	}
	rec := s
	c.order = append([]string{s.ID}, c.order...)
	c.items[s.ID] = &rec
	c.total++
}

// Remove applies a DELETE event. Unknown ids are a no-op, which makes
// duplicate delivery harmless. The remote source owns the real total; locally
// it only shrinks enough to stay consistent with the records still held.
func (c *Cache) Remove(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.total > len(c.order) {
		c.total--
	}
	return true
}

// Get returns a copy of the record with the given id.
func (c *Cache) Get(id string) (domain.Service, bool) {
	s, ok := c.items[id]
	if !ok {
		return domain.Service{}, false
	}
	return *s, true
}

// All returns copies of every known record in insertion order.
func (c *Cache) All() []domain.Service {
	out := make([]domain.Service, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.items[id])
	}
	return out
}

// Len returns the number of locally-held records.
func (c *Cache) Len() int { return len(c.order) }

// Total returns the record count last reported by the remote source,
// adjusted for change-feed inserts and deletes seen since.
func (c *Cache) Total() int { return c.total }

// FullyLoaded reports whether every remotely-known record has been retrieved.
func (c *Cache) FullyLoaded() bool { return c.fullyLoaded }

// LastFetch returns the time of the last successful remote fetch.
func (c *Cache) LastFetch() time.Time { return c.lastFetch }

// Clear empties the cache, e.g. when the session token changes.
func (c *Cache) Clear() {
	c.order = nil
	c.items = make(map[string]*domain.Service)
	c.total = 0
	c.fullyLoaded = false
	c.lastFetch = time.Time{}
}

// Seed loads a best-effort snapshot into an empty cache. The snapshot counts
// as stale data, not as a fetch: total tracks only what is held and the cache
// is never considered fully loaded or fresh because of it.
func (c *Cache) Seed(items []domain.Service) {
	if len(c.order) > 0 {
		return
	}
	for i := range items {
		s := items[i]
		if _, ok := c.items[s.ID]; ok {
			continue
		}
		c.order = append(c.order, s.ID)
		c.items[s.ID] = &s
	}
	c.total = len(c.order)
}

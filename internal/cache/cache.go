// Package cache holds the in-memory materialization of the latest price per
// item. It is kept in sync with the store by the market service, which
// applies every change only after the store has accepted it.
package cache

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sells-group/xivmarket/internal/model"
)

// ItemCache is an ordered, concurrency-safe index of ItemRefs sorted by item
// ID. Readers share the lock; writers wait for readers to drain.
type ItemCache struct {
	mu   sync.RWMutex
	refs []model.ItemRef
}

// Stats contains cache occupancy figures.
type Stats struct {
	Entries int `json:"entries"`
	Priced  int `json:"priced"`
}

// New builds a cache from an initial load. When an ID appears more than once
// the entry with the newest price is kept.
func New(refs []model.ItemRef) *ItemCache {
	sorted := make([]model.ItemRef, 0, len(refs))
	for _, r := range refs {
		sorted = append(sorted, cloneRef(r))
	}
	slices.SortStableFunc(sorted, func(a, b model.ItemRef) int {
		return cmp.Compare(a.Item.ID, b.Item.ID)
	})

	out := sorted[:0]
	for _, r := range sorted {
		if n := len(out); n > 0 && out[n-1].Item.ID == r.Item.ID {
			if newer(r, out[n-1]) {
				out[n-1] = r
			}
			continue
		}
		out = append(out, r)
	}
	return &ItemCache{refs: out}
}

func (c *ItemCache) find(id int64) (int, bool) {
	return slices.BinarySearchFunc(c.refs, id, func(r model.ItemRef, id int64) int {
		return cmp.Compare(r.Item.ID, id)
	})
}

// Get returns the entry for id. Unknown items report false; a known item
// without any price is returned with a nil Price.
func (c *ItemCache) Get(id int64) (model.ItemRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.find(id)
	if !ok {
		return model.ItemRef{}, false
	}
	return c.refs[i], true
}

// GetMany returns the entries for ids in the given order, skipping unknown
// items.
func (c *ItemCache) GetMany(ids []int64) []model.ItemRef {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.ItemRef, 0, len(ids))
	for _, id := range ids {
		if i, ok := c.find(id); ok {
			out = append(out, c.refs[i])
		}
	}
	return out
}

// Upsert inserts ref in sort order when its item is unknown. For a known
// item the price and average are replaced only when ref carries a price
// strictly newer than the cached one, so a late writer can never roll the
// latest price back. The cached item identity is kept; PutItem changes it.
// It reports whether the cache changed.
func (c *ItemCache) Upsert(ref model.ItemRef) bool {
	ref = cloneRef(ref)

	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.find(ref.Item.ID)
	if !ok {
		c.refs = slices.Insert(c.refs, i, ref)
		return true
	}
	if !newer(ref, c.refs[i]) {
		return false
	}
	ref.Item = c.refs[i].Item
	c.refs[i] = ref
	return true
}

// PutItem records item identity changes, inserting a priceless entry for
// unknown items and keeping the price of known ones.
func (c *ItemCache) PutItem(item model.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.find(item.ID)
	if !ok {
		c.refs = slices.Insert(c.refs, i, model.ItemRef{ItemState: model.ItemState{Item: item}})
		return
	}
	c.refs[i].Item = item
}

// SetAverage replaces the rolling average of id, provided its latest price
// still has timestamp ts.
func (c *ItemCache) SetAverage(id int64, ts time.Time, avg *int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.find(id)
	if !ok || c.refs[i].Price == nil || !c.refs[i].Price.Timestamp.Equal(ts) {
		return false
	}
	c.refs[i].Average = clonePtr(avg)
	return true
}

// SetFlagged marks the latest price of id as flagged or cleared, provided
// it still has timestamp ts.
func (c *ItemCache) SetFlagged(id int64, ts time.Time, flagged bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.find(id)
	if !ok || c.refs[i].Price == nil || !c.refs[i].Price.Timestamp.Equal(ts) {
		return false
	}
	p := *c.refs[i].Price
	p.Flagged = flagged
	c.refs[i].Price = &p
	return true
}

// DeleteLatest clears the price of id when the cached latest price has
// timestamp ts. The item itself stays cached. A true result tells the caller
// to fetch the new latest price from the store.
func (c *ItemCache) DeleteLatest(id int64, ts time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.find(id)
	if !ok || c.refs[i].Price == nil || !c.refs[i].Price.Timestamp.Equal(ts) {
		return false
	}
	c.refs[i].Price = nil
	c.refs[i].Average = nil
	return true
}

// Scan runs fn over all entries under the read lock. fn must not modify or
// retain the slice.
func (c *ItemCache) Scan(fn func(refs []model.ItemRef)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.refs)
}

// Query runs a read-only transform over all entries and returns its result.
func Query[T any](c *ItemCache, fn func(refs []model.ItemRef) T) T {
	var out T
	c.Scan(func(refs []model.ItemRef) {
		out = fn(refs)
	})
	return out
}

// Len returns the number of cached items.
func (c *ItemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.refs)
}

// Stats returns occupancy figures.
func (c *ItemCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Entries: len(c.refs)}
	for _, r := range c.refs {
		if r.Price != nil {
			s.Priced++
		}
	}
	return s
}

// newer reports whether candidate should replace current.
func newer(candidate, current model.ItemRef) bool {
	if candidate.Price == nil {
		return false
	}
	if current.Price == nil {
		return true
	}
	return candidate.Price.Timestamp.After(current.Price.Timestamp)
}

func cloneRef(r model.ItemRef) model.ItemRef {
	r.Price = clonePtr(r.Price)
	r.Average = clonePtr(r.Average)
	return r
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying c.
func NewContext(ctx context.Context, c *ItemCache) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the cache stored in ctx, if any.
func FromContext(ctx context.Context) (*ItemCache, bool) {
	c, ok := ctx.Value(ctxKey{}).(*ItemCache)
	return c, ok && c != nil
}

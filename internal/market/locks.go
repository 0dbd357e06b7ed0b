package market

import "sync"

const itemLockStripes = 64

// itemLocks serializes writes to the same item so that a store mutation,
// the refetch that follows it and the resulting cache write happen as one
// step. Items share a fixed set of stripes.
type itemLocks struct {
	stripes [itemLockStripes]sync.Mutex
}

// lock locks the stripe of itemID and returns its unlock func.
func (l *itemLocks) lock(itemID int64) func() {
	m := &l.stripes[uint64(itemID)%itemLockStripes]
	m.Lock()
	return m.Unlock
}

// repairSet holds items whose cached latest price could not be refetched
// after a delete. The refresher reloads them.
type repairSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func (r *repairSet) add(itemID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids == nil {
		r.ids = make(map[int64]struct{})
	}
	r.ids[itemID] = struct{}{}
}

func (r *repairSet) remove(itemID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, itemID)
}

func (r *repairSet) pending() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	return ids
}

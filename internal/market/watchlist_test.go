package market

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/xivmarket/internal/model"
)

func TestWatchlist(t *testing.T) {
	st := newTestStore(t)
	seed(t, st,
		shard(1, "Fire Shard", false),
		shard(2, "Ice Shard", false),
		shard(3, "Wind Shard", false),
	)
	svc := newTestService(t, st, newClock())
	ctx := context.Background()

	added, err := svc.Watch(ctx, 7, 2)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = svc.Watch(ctx, 7, 2)
	require.NoError(t, err)
	assert.False(t, added, "already watching")

	added, err = svc.Watch(ctx, 7, 1)
	require.NoError(t, err)
	assert.True(t, added)

	_, err = svc.Watch(ctx, 7, 3)
	assert.ErrorIs(t, err, ErrWatchLimit)

	_, err = svc.Watch(ctx, 7, 99)
	assert.ErrorIs(t, err, ErrUnknownItem)

	refs, err := svc.Watchlist(ctx, 7)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, int64(1), refs[0].Item.ID)
	assert.Equal(t, int64(2), refs[1].Item.ID)

	watching, err := svc.IsWatching(ctx, 7, 1)
	require.NoError(t, err)
	assert.True(t, watching)

	n, err := svc.WatchCount(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err := svc.Unwatch(ctx, 7, 1)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = svc.Unwatch(ctx, 7, 1)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = svc.Watch(ctx, 7, 3)
	assert.NoError(t, err, "room again after unwatching")
}

func TestMostWatched(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, shard(1, "Fire Shard", false), shard(2, "Ice Shard", false))
	svc := newTestService(t, st, newClock())
	ctx := context.Background()

	for _, user := range []int64{1, 2, 3} {
		_, err := svc.Watch(ctx, user, 2)
		require.NoError(t, err)
	}
	_, err := svc.Watch(ctx, 1, 1)
	require.NoError(t, err)

	counts, err := svc.MostWatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, int64(2), counts[0].ItemID)
	assert.Equal(t, 3, counts[0].Watchers)
}

func TestWatch_ConcurrentRespectsLimit(t *testing.T) {
	st := newTestStore(t)
	items := make([]model.Item, 12)
	for i := range items {
		items[i] = shard(int64(i+1), "Shard", false)
	}
	seed(t, st, items...)
	svc := newTestService(t, st, newClock())
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, it := range items {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := svc.Watch(ctx, 7, id); err != nil {
				assert.ErrorIs(t, err, ErrWatchLimit)
			}
		}(it.ID)
	}
	wg.Wait()

	n, err := svc.WatchCount(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

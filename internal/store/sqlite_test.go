package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/xivmarket/internal/model"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func fireShard(id int64) model.Item {
	return model.Item{ID: id, Name: model.ItemName{EN: "Fire Shard", DE: "Feuerscherbe"}}
}

func seedItems(t *testing.T, st Store, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, st.CreateItem(context.Background(), fireShard(id)))
	}
}

func insertPrice(t *testing.T, st Store, itemID int64, age time.Duration, value, user int64) time.Time {
	t.Helper()
	ts := testNow.Add(-age)
	require.NoError(t, st.InsertPrice(context.Background(), itemID, model.Price{
		Timestamp: ts,
		Value:     value,
		Submitter: model.UserRef{ID: user},
	}))
	return ts
}

// --- Items ---

func TestSQLite_CreateAndGetItem(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	hq := model.Item{ID: 2, Name: model.ItemName{EN: "Potion", JA: "ポーション"}, HQ: true}
	require.NoError(t, st.CreateItem(ctx, hq))

	got, err := st.GetItem(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, hq, *got)

	missing, err := st.GetItem(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_CreateItem_Duplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedItems(t, st, 1)

	err := st.CreateItem(context.Background(), fireShard(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateItem))
}

func TestSQLite_UpsertItems(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1)

	n, err := st.UpsertItems(ctx, []model.Item{
		{ID: 1, Name: model.ItemName{EN: "Fire Shard", FR: "Éclat de feu"}},
		{ID: 2, Name: model.ItemName{EN: "Ice Shard"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := st.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Éclat de feu", got.Name.FR)
	assert.Empty(t, got.Name.DE, "names are replaced, not merged")

	n, err = st.UpsertItems(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Prices ---

func TestSQLite_InsertPrice_Duplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedItems(t, st, 1)
	insertPrice(t, st, 1, time.Hour, 100, 7)

	err := st.InsertPrice(context.Background(), 1, model.Price{
		Timestamp: testNow.Add(-time.Hour),
		Value:     200,
		Submitter: model.UserRef{ID: 8},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicatePrice))

	p, err := st.LatestPrice(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.Value)
}

func TestSQLite_InsertPrice_UnknownItem(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.InsertPrice(context.Background(), 42, model.Price{Timestamp: testNow, Value: 1, Submitter: model.UserRef{ID: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FOREIGN KEY")
}

func TestSQLite_LatestPrices_ColdStart(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 3, 1, 2)

	require.NoError(t, st.UpsertUser(ctx, model.UserRef{ID: 7, Name: "Alys"}))
	insertPrice(t, st, 1, 3*time.Hour, 100, 7)
	latest := insertPrice(t, st, 1, time.Hour, 110, 7)
	insertPrice(t, st, 3, 2*time.Hour, 0, 8)

	states, err := st.LatestPrices(ctx)
	require.NoError(t, err)
	require.Len(t, states, 3)

	assert.Equal(t, int64(1), states[0].Item.ID)
	require.NotNil(t, states[0].Price)
	assert.Equal(t, int64(110), states[0].Price.Value)
	assert.True(t, latest.Equal(states[0].Price.Timestamp))
	assert.Equal(t, "Alys", states[0].Price.Submitter.Name)

	assert.Equal(t, int64(2), states[1].Item.ID)
	assert.Nil(t, states[1].Price, "unpriced items are still loaded")

	require.NotNil(t, states[2].Price)
	assert.Equal(t, int64(0), states[2].Price.Value)
	assert.Equal(t, int64(8), states[2].Price.Submitter.ID)
	assert.Empty(t, states[2].Price.Submitter.Name)
}

func TestSQLite_TimestampsRoundTripAsUTCSeconds(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1)

	local := time.Date(2024, 6, 1, 14, 0, 0, 123456789, time.FixedZone("CEST", 2*60*60))
	require.NoError(t, st.InsertPrice(ctx, 1, model.Price{Timestamp: local, Value: 5, Submitter: model.UserRef{ID: 1}}))

	p, err := st.GetPrice(ctx, 1, local)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), p.Timestamp)
}

func TestSQLite_DeletePrice_Scoped(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1)
	ts := insertPrice(t, st, 1, time.Hour, 100, 7)

	n, err := st.DeletePrice(ctx, 1, ts, 8)
	require.NoError(t, err)
	assert.Zero(t, n, "other users cannot delete the price")

	n, err = st.DeletePrice(ctx, 1, ts, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, err := st.LatestPrice(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSQLite_DeletePrice_Unscoped(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1)
	older := insertPrice(t, st, 1, 2*time.Hour, 90, 7)
	ts := insertPrice(t, st, 1, time.Hour, 100, 7)

	n, err := st.DeletePrice(ctx, 1, ts, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, err := st.LatestPrice(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, older.Equal(p.Timestamp))

	n, err = st.DeletePrice(ctx, 1, ts, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_PriceHistory(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1, 2)
	insertPrice(t, st, 1, 40*time.Hour, 10, 7)
	insertPrice(t, st, 1, 20*time.Hour, 20, 7)
	insertPrice(t, st, 1, time.Hour, 30, 7)
	insertPrice(t, st, 2, time.Hour, 99, 7)

	prices, err := st.PriceHistory(ctx, 1, testNow.Add(-36*time.Hour))
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, int64(30), prices[0].Value, "newest first")
	assert.Equal(t, int64(20), prices[1].Value)
}

// --- Flags ---

func TestSQLite_FlagLifecycle_Dismiss(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1)
	require.NoError(t, st.UpsertUser(ctx, model.UserRef{ID: 9, Name: "Reporter"}))
	ts := insertPrice(t, st, 1, time.Hour, 100, 7)

	created, err := st.CreateFlag(ctx, 1, ts, 9)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.CreateFlag(ctx, 1, ts, 10)
	require.NoError(t, err)
	assert.False(t, created, "one flag per price")

	flags, err := st.ListFlags(ctx, 10)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, int64(9), flags[0].Reporter.ID)
	assert.Equal(t, "Reporter", flags[0].Reporter.Name)
	assert.Equal(t, int64(7), flags[0].State.Price.Submitter.ID)
	assert.True(t, flags[0].State.Price.Flagged)

	p, err := st.GetPrice(ctx, 1, ts)
	require.NoError(t, err)
	assert.True(t, p.Flagged)

	res, err := st.ResolveFlag(ctx, 1, ts, false, testNow)
	require.NoError(t, err)
	assert.Equal(t, model.FlagDismissed, res.Status())
	assert.Equal(t, int64(7), res.Submitter)
	assert.Equal(t, int64(9), res.Reporter)
	assert.NotEmpty(t, res.ID)

	n, err := st.CountFlags(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	p, err = st.GetPrice(ctx, 1, ts)
	require.NoError(t, err)
	require.NotNil(t, p, "dismissal keeps the price")
	assert.False(t, p.Flagged)

	history, err := st.FlagHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, *res, history[0])
}

func TestSQLite_FlagLifecycle_Delete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1)
	ts := insertPrice(t, st, 1, time.Hour, 100, 7)

	_, err := st.CreateFlag(ctx, 1, ts, 9)
	require.NoError(t, err)

	res, err := st.ResolveFlag(ctx, 1, ts, true, testNow)
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	p, err := st.GetPrice(ctx, 1, ts)
	require.NoError(t, err)
	assert.Nil(t, p)

	n, err := st.CountFlags(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "flag removed with its price")

	_, err = st.ResolveFlag(ctx, 1, ts, true, testNow)
	assert.True(t, errors.Is(err, ErrFlagNotFound), "resolution is terminal")
}

func TestSQLite_FlagCascadesWithPriceDelete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1)
	ts := insertPrice(t, st, 1, time.Hour, 100, 7)
	_, err := st.CreateFlag(ctx, 1, ts, 9)
	require.NoError(t, err)

	_, err = st.DeletePrice(ctx, 1, ts, 0)
	require.NoError(t, err)

	n, err := st.CountFlags(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_ResolveFlag_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.ResolveFlag(context.Background(), 1, testNow, false, testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFlagNotFound))
}

func TestSQLite_ModerationStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1, 2)

	bad := insertPrice(t, st, 1, 3*time.Hour, 1, 7)
	fine := insertPrice(t, st, 1, 2*time.Hour, 100, 7)
	open := insertPrice(t, st, 2, time.Hour, 50, 7)

	for _, ts := range []time.Time{bad, fine} {
		_, err := st.CreateFlag(ctx, 1, ts, 9)
		require.NoError(t, err)
	}
	_, err := st.CreateFlag(ctx, 2, open, 9)
	require.NoError(t, err)

	_, err = st.ResolveFlag(ctx, 1, bad, true, testNow)
	require.NoError(t, err)
	_, err = st.ResolveFlag(ctx, 1, fine, false, testNow)
	require.NoError(t, err)

	submitter, err := st.ModerationStats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, model.ModerationStats{PricesSubmitted: 2, PricesInvalid: 1}, submitter)

	reporter, err := st.ModerationStats(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, model.ModerationStats{FlagsUnresolved: 1, FlagsValid: 1, FlagsInvalid: 1}, reporter)
}

// --- Watchlist ---

func TestSQLite_Watchlist(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1, 2, 3)

	for _, w := range []struct{ user, item int64 }{
		{1, 3}, {1, 2}, {2, 2}, {3, 2}, {2, 1},
	} {
		added, err := st.AddWatch(ctx, w.user, w.item, 0)
		require.NoError(t, err)
		assert.True(t, added)
	}
	added, err := st.AddWatch(ctx, 1, 3, 0)
	require.NoError(t, err)
	assert.False(t, added)

	ids, err := st.ListWatched(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids)

	ok, err := st.IsWatching(ctx, 1, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := st.CountWatched(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	top, err := st.MostWatched(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []model.WatchCount{{ItemID: 2, Watchers: 3}, {ItemID: 1, Watchers: 1}}, top)

	removed, err := st.RemoveWatch(ctx, 1, 3)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = st.RemoveWatch(ctx, 1, 3)
	require.NoError(t, err)
	assert.False(t, removed)

	ok, err = st.IsWatching(ctx, 1, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_AddWatch_Limit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1, 2, 3)

	for _, item := range []int64{1, 2} {
		added, err := st.AddWatch(ctx, 7, item, 2)
		require.NoError(t, err)
		assert.True(t, added)
	}

	added, err := st.AddWatch(ctx, 7, 2, 2)
	require.NoError(t, err, "re-watching at the cap is not an error")
	assert.False(t, added)

	_, err = st.AddWatch(ctx, 7, 3, 2)
	assert.ErrorIs(t, err, ErrWatchLimit)

	n, err := st.CountWatched(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLite_AddWatch_ConcurrentRespectsLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	ids := make([]int64, 20)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	seedItems(t, st, ids...)

	var wg sync.WaitGroup
	var added atomic.Int32
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			ok, err := st.AddWatch(ctx, 7, id, 3)
			if err != nil {
				assert.ErrorIs(t, err, ErrWatchLimit)
				return
			}
			if ok {
				added.Add(1)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(3), added.Load())
	n, err := st.CountWatched(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// --- Crafting ---

func TestSQLite_Related(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedItems(t, st, 1)

	require.NoError(t, st.SetRelated(ctx, 1, model.Related{
		CraftedFrom: []int64{5, 4, 5},
		CraftsInto:  []int64{9},
	}))
	rel, err := st.Related(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, rel.CraftedFrom)
	assert.Equal(t, []int64{9}, rel.CraftsInto)

	require.NoError(t, st.SetRelated(ctx, 1, model.Related{CraftsInto: []int64{8}}))
	rel, err = st.Related(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, rel.CraftedFrom)
	assert.Equal(t, []int64{8}, rel.CraftsInto)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)

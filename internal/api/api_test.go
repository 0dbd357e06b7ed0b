package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/xivmarket/internal/market"
	"github.com/sells-group/xivmarket/internal/model"
	"github.com/sells-group/xivmarket/internal/monitoring"
	"github.com/sells-group/xivmarket/internal/store"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	st     *store.SQLiteStore
	svc    *market.Service
	router http.Handler
}

func newFixture(t *testing.T, items ...model.Item) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))
	if len(items) > 0 {
		_, err := st.UpsertItems(ctx, items)
		require.NoError(t, err)
	}

	opts := market.DefaultOptions()
	opts.WatchLimit = 2
	opts.Now = func() time.Time { return testNow }
	svc, err := market.New(ctx, st, opts)
	require.NoError(t, err)

	router := NewRouter(svc, monitoring.NewCollector(svc), Options{StaleAfterHours: 72})
	return &fixture{st: st, svc: svc, router: router}
}

type call struct {
	method    string
	path      string
	body      any
	user      int64
	moderator bool
}

func (f *fixture) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.user != 0 {
		req.Header.Set(headerUserID, fmt.Sprint(c.user))
	}
	if c.moderator {
		req.Header.Set(headerModerator, "true")
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func item(id int64, name string) model.Item {
	return model.Item{ID: id, Name: model.ItemName{EN: name}}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, item(1, "Fire Shard"))

	rr := f.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	body := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "ok", body["status"])
	metrics := body["metrics"].(map[string]any)
	assert.Equal(t, float64(1), metrics["cache_entries"])
}

func TestHealth_StoreDown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.st.Close())

	rr := f.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "degraded", decodeBody[map[string]any](t, rr)["status"])
}

func TestItems_CreateAndGet(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, call{method: http.MethodPost, path: "/items", body: item(5, "Ice Shard")})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = f.do(t, call{method: http.MethodPost, path: "/items", body: item(5, "Ice Shard")})
	assert.Equal(t, http.StatusCreated, rr.Code, "creation is idempotent")

	rr = f.do(t, call{method: http.MethodGet, path: "/items/5"})
	require.Equal(t, http.StatusOK, rr.Code)
	ref := decodeBody[model.ItemRef](t, rr)
	assert.Equal(t, "Ice Shard", ref.Item.Name.EN)
	assert.Nil(t, ref.Price)

	rr = f.do(t, call{method: http.MethodGet, path: "/items/99"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, call{method: http.MethodGet, path: "/items/abc"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, call{method: http.MethodPost, path: "/items", body: map[string]any{"id": 6}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPrices(t *testing.T) {
	f := newFixture(t, item(1, "Fire Shard"))

	rr := f.do(t, call{method: http.MethodPost, path: "/items/1/prices", body: map[string]int64{"value": 120}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, call{method: http.MethodPost, path: "/items/1/prices", body: map[string]int64{"value": 120}, user: 8})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	ref := decodeBody[model.ItemRef](t, rr)
	require.NotNil(t, ref.Price)
	assert.Equal(t, int64(120), ref.Price.Value)

	rr = f.do(t, call{method: http.MethodPost, path: "/items/1/prices", body: map[string]int64{"value": 5}, user: 9})
	assert.Equal(t, http.StatusConflict, rr.Code, "same second as the previous price")

	rr = f.do(t, call{method: http.MethodPost, path: "/items/1/prices", body: map[string]int64{"value": -1}, user: 8})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, call{method: http.MethodPost, path: "/items/2/prices", body: map[string]int64{"value": 1}, user: 8})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, call{method: http.MethodPost, path: "/items/1/prices", body: map[string]string{}, user: 8})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, call{method: http.MethodGet, path: "/items/recent"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]model.ItemRef](t, rr), 1)

	path := fmt.Sprintf("/items/1/prices/%d", testNow.Unix())
	rr = f.do(t, call{method: http.MethodDelete, path: path, user: 8})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "deleted", decodeBody[map[string]string](t, rr)["outcome"])

	ref, _ = f.svc.Item(1)
	assert.Nil(t, ref.Price)
}

func TestDeletePrice_OldPriceIsFlagged(t *testing.T) {
	f := newFixture(t, item(1, "Fire Shard"))
	ts := testNow.Add(-time.Hour)
	require.NoError(t, f.st.InsertPrice(context.Background(), 1, model.Price{Timestamp: ts, Value: 10, Submitter: model.UserRef{ID: 8}}))

	rr := f.do(t, call{method: http.MethodDelete, path: "/items/1/prices/" + ts.Format(time.RFC3339), user: 8})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "flagged", decodeBody[map[string]string](t, rr)["outcome"])

	rr = f.do(t, call{method: http.MethodDelete, path: "/items/1/prices/yesterday", user: 8})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFlags(t *testing.T) {
	f := newFixture(t, item(1, "Fire Shard"))
	ts := testNow.Add(-time.Hour)
	require.NoError(t, f.st.InsertPrice(context.Background(), 1, model.Price{Timestamp: ts, Value: 9999, Submitter: model.UserRef{ID: 8}}))

	flag := flagRequest{ItemID: 1, Timestamp: ts}
	rr := f.do(t, call{method: http.MethodPost, path: "/flags", body: flag, user: 3})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = f.do(t, call{method: http.MethodPost, path: "/flags", body: flag, user: 4})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeBody[map[string]bool](t, rr)["created"])

	rr = f.do(t, call{method: http.MethodGet, path: "/flags", user: 3})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, call{method: http.MethodGet, path: "/flags", user: 2, moderator: true})
	require.Equal(t, http.StatusOK, rr.Code)
	flags := decodeBody[[]model.Flag](t, rr)
	require.Len(t, flags, 1)
	assert.Equal(t, int64(3), flags[0].Reporter.ID)

	flag.Delete = true
	rr = f.do(t, call{method: http.MethodPost, path: "/flags/resolve", body: flag, user: 2, moderator: true})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, string(model.FlagDeleted), decodeBody[map[string]any](t, rr)["status"])

	rr = f.do(t, call{method: http.MethodPost, path: "/flags/resolve", body: flag, user: 2, moderator: true})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, call{method: http.MethodGet, path: "/flags/history", user: 2, moderator: true})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]model.FlagResolution](t, rr), 1)

	rr = f.do(t, call{method: http.MethodGet, path: "/users/3/moderation"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decodeBody[model.ModerationStats](t, rr).FlagsValid)
}

func TestWatchlist(t *testing.T) {
	f := newFixture(t, item(1, "Fire Shard"), item(2, "Ice Shard"), item(3, "Wind Shard"))

	for _, id := range []int64{1, 2} {
		rr := f.do(t, call{method: http.MethodPost, path: fmt.Sprintf("/watchlist/%d", id), user: 7})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.True(t, decodeBody[map[string]bool](t, rr)["added"])
	}

	rr := f.do(t, call{method: http.MethodPost, path: "/watchlist/3", user: 7})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, call{method: http.MethodGet, path: "/watchlist", user: 7})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]model.ItemRef](t, rr), 2)

	rr = f.do(t, call{method: http.MethodGet, path: "/watchlist/1", user: 7})
	assert.True(t, decodeBody[map[string]bool](t, rr)["watching"])

	rr = f.do(t, call{method: http.MethodDelete, path: "/watchlist/1", user: 7})
	assert.True(t, decodeBody[map[string]bool](t, rr)["removed"])

	rr = f.do(t, call{method: http.MethodGet, path: "/watchlist"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, call{method: http.MethodGet, path: "/items/most-watched"})
	require.Equal(t, http.StatusOK, rr.Code)
	counts := decodeBody[[]model.WatchCount](t, rr)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(2), counts[0].ItemID)
}

func TestSearchAndRelated(t *testing.T) {
	f := newFixture(t,
		model.Item{ID: 1, Name: model.ItemName{EN: "Bronze Ingot", DE: "Bronzebarren"}},
		model.Item{ID: 2, Name: model.ItemName{EN: "Copper Ore", DE: "Kupfererz"}},
	)

	rr := f.do(t, call{method: http.MethodGet, path: "/items/search?q=kupfer&lang=de"})
	require.Equal(t, http.StatusOK, rr.Code)
	refs := decodeBody[[]model.ItemRef](t, rr)
	require.Len(t, refs, 1)
	assert.Equal(t, int64(2), refs[0].Item.ID)

	rr = f.do(t, call{method: http.MethodGet, path: "/items/search?q=x&lang=xx"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rel := model.Related{CraftedFrom: []int64{2}}
	rr = f.do(t, call{method: http.MethodPut, path: "/items/1/related", body: rel, user: 7})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, call{method: http.MethodPut, path: "/items/1/related", body: rel, user: 2, moderator: true})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = f.do(t, call{method: http.MethodGet, path: "/items/1/related?lang=de"})
	require.Equal(t, http.StatusOK, rr.Code)
	got := decodeBody[market.RelatedItems](t, rr)
	require.Len(t, got.CraftedFrom, 1)
	assert.Equal(t, "Kupfererz", got.CraftedFrom[0].Item.Name.DE)
}

func TestReportAndHistory(t *testing.T) {
	f := newFixture(t, item(1, "Fire Shard"))
	ctx := context.Background()
	require.NoError(t, f.st.InsertPrice(ctx, 1, model.Price{Timestamp: testNow.Add(-2 * time.Hour), Value: 10, Submitter: model.UserRef{ID: 8}}))
	require.NoError(t, f.st.InsertPrice(ctx, 1, model.Price{Timestamp: testNow.Add(-10 * 24 * time.Hour), Value: 20, Submitter: model.UserRef{ID: 8}}))

	rr := f.do(t, call{method: http.MethodGet, path: "/items/1/report"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rep := decodeBody[map[string]any](t, rr)
	assert.Len(t, rep["history"], 1)

	rr = f.do(t, call{method: http.MethodGet, path: "/items/1/history?window=720h"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]model.Price](t, rr), 2)

	rr = f.do(t, call{method: http.MethodGet, path: "/items/1/history?window=soon"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, call{method: http.MethodGet, path: "/items/42/report"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestIdentify_RejectsBadHeader(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerUserID, "nobody")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, call{method: http.MethodPost, path: "/users", body: userRequest{Name: "Alys"}, user: 4})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Alys", decodeBody[model.UserRef](t, rr).Name)

	rr = f.do(t, call{method: http.MethodPost, path: "/users", body: userRequest{Name: "Alys"}})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, statusOf(market.ErrRateLimited))
	assert.Equal(t, http.StatusConflict, statusOf(market.ErrWatchLimit))
	assert.Equal(t, http.StatusNotFound, statusOf(store.ErrFlagNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusOf(fmt.Errorf("boom")))
}

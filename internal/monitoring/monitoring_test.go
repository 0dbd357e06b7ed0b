package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/xivmarket/internal/cache"
	"github.com/sells-group/xivmarket/internal/config"
	"github.com/sells-group/xivmarket/internal/model"
	"github.com/sells-group/xivmarket/internal/resilience"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	cache   *cache.ItemCache
	breaker *resilience.Breaker
	flags   int
	pingErr error
	flagErr error
}

func (f *fakeSource) Cache() *cache.ItemCache      { return f.cache }
func (f *fakeSource) Breaker() *resilience.Breaker { return f.breaker }
func (f *fakeSource) Ping(context.Context) error   { return f.pingErr }
func (f *fakeSource) CountFlags(context.Context) (int, error) {
	return f.flags, f.flagErr
}

func priced(id int64, age time.Duration) model.ItemRef {
	return model.ItemRef{ItemState: model.ItemState{
		Item:  model.Item{ID: id},
		Price: &model.Price{Timestamp: testNow.Add(-age), Value: 10},
	}}
}

func newSource() *fakeSource {
	return &fakeSource{
		cache: cache.New([]model.ItemRef{
			priced(1, time.Hour),
			priced(2, 100*time.Hour),
			{ItemState: model.ItemState{Item: model.Item{ID: 3}}},
		}),
		breaker: resilience.NewBreaker("average-refresh", resilience.BreakerConfig{FailureThreshold: 1}),
		flags:   4,
	}
}

func newCollector(src Source) *Collector {
	c := NewCollector(src)
	c.now = func() time.Time { return testNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	snap := newCollector(newSource()).Collect(context.Background(), 72)

	assert.Equal(t, 3, snap.CacheEntries)
	assert.Equal(t, 2, snap.CachePriced)
	assert.Equal(t, 1, snap.CacheStale)
	assert.Equal(t, 4, snap.FlagsUnresolved)
	assert.True(t, snap.StoreOK)
	require.NotNil(t, snap.Refresher)
	assert.Equal(t, "closed", snap.Refresher.State)
	assert.True(t, snap.Healthy())
	assert.Equal(t, testNow, snap.CollectedAt)
}

func TestCollector_StoreDown(t *testing.T) {
	src := newSource()
	src.pingErr = errors.New("connection refused")

	snap := newCollector(src).Collect(context.Background(), 72)
	assert.False(t, snap.StoreOK)
	assert.Contains(t, snap.StoreError, "connection refused")
	assert.Equal(t, 3, snap.CacheEntries, "cache metrics survive store outages")
	assert.False(t, snap.Healthy())
}

func TestCollector_CountFlagsFails(t *testing.T) {
	src := newSource()
	src.flagErr = errors.New("relation \"flags\" does not exist")

	snap := newCollector(src).Collect(context.Background(), 0)
	assert.False(t, snap.StoreOK)
	assert.Zero(t, snap.CacheStale, "zero threshold disables staleness")
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FlagBacklogThreshold: 10})
	snap := newCollector(newSource()).Collect(context.Background(), 72)
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_All(t *testing.T) {
	src := newSource()
	src.flags = 51
	src.pingErr = errors.New("timeout")
	_ = src.breaker.Execute(context.Background(), func(context.Context) error {
		return errors.New("boom")
	})

	a := NewAlerter(config.MonitoringConfig{FlagBacklogThreshold: 50})
	snap := newCollector(src).Collect(context.Background(), 72)
	// The ping failure short-circuits flag counting, so set it directly.
	snap.FlagsUnresolved = src.flags

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 3)
	assert.Equal(t, AlertStoreUnreachable, alerts[0].Type)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Equal(t, AlertRefresherOpen, alerts[1].Type)
	assert.Equal(t, AlertFlagBacklog, alerts[2].Type)
	assert.Contains(t, alerts[2].Message, "51 unresolved flags")
}

func TestAlerter_Evaluate_StaleCache(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{StaleFractionThreshold: 0.4})
	snap := newCollector(newSource()).Collect(context.Background(), 72)

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleCache, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "50% of priced items")
}

func fastAlerter(cfg config.MonitoringConfig) *Alerter {
	a := NewAlerter(cfg)
	a.retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	return a
}

func TestAlerter_Notify(t *testing.T) {
	var received atomic.Int32
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	err := a.Notify(context.Background(), []Alert{
		{Type: AlertFlagBacklog, Severity: "medium", Message: "too many flags", Timestamp: testNow},
		{Type: AlertStaleCache, Severity: "low", Timestamp: testNow},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), received.Load(), "alerts are batched")
	assert.Equal(t, "xivmarket", got.Service)
	require.Len(t, got.Alerts, 2)
	assert.Equal(t, AlertFlagBacklog, got.Alerts[0].Type)
	assert.True(t, got.SentAt.Equal(testNow))
}

func TestAlerter_Notify_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	require.NoError(t, a.Notify(context.Background(), []Alert{{Type: AlertFlagBacklog}}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestAlerter_Notify_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	err := a.Notify(context.Background(), []Alert{{Type: AlertFlagBacklog}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAlerter_Notify_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.NoError(t, a.Notify(context.Background(), []Alert{{Type: AlertFlagBacklog}}))
	assert.NoError(t, a.Notify(context.Background(), nil))
}

func newTestChecker(src *fakeSource, cfg config.MonitoringConfig, clock *time.Time) *Checker {
	c := NewChecker(newCollector(src), fastAlerter(cfg), cfg)
	c.now = func() time.Time { return *clock }
	return c
}

func TestChecker_Check(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := newSource()
	src.flags = 20
	cfg := config.MonitoringConfig{FlagBacklogThreshold: 5, WebhookURL: srv.URL, StaleAfterHours: 72, AlertRepeatMins: 60}
	clock := testNow
	checker := newTestChecker(src, cfg, &clock)
	log := zap.NewNop()

	assert.Equal(t, 1, checker.check(context.Background(), log))
	assert.Equal(t, int32(1), received.Load())

	clock = clock.Add(5 * time.Minute)
	assert.Zero(t, checker.check(context.Background(), log), "still firing inside the repeat period")

	clock = clock.Add(time.Hour)
	assert.Equal(t, 1, checker.check(context.Background(), log), "repeated after the period")

	src.flags = 0
	clock = clock.Add(time.Minute)
	assert.Zero(t, checker.check(context.Background(), log))
	src.flags = 20
	clock = clock.Add(time.Minute)
	assert.Equal(t, 1, checker.check(context.Background(), log), "a cleared alert fires again at once")
	assert.Equal(t, int32(3), received.Load())
}

func TestChecker_FailedSendIsRetriedNextTick(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := newSource()
	src.flags = 20
	cfg := config.MonitoringConfig{FlagBacklogThreshold: 5, WebhookURL: srv.URL}
	clock := testNow
	checker := newTestChecker(src, cfg, &clock)

	assert.Zero(t, checker.check(context.Background(), zap.NewNop()))
	fail.Store(false)
	clock = clock.Add(time.Minute)
	assert.Equal(t, 1, checker.check(context.Background(), zap.NewNop()))
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1}
	checker := NewChecker(newCollector(newSource()), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

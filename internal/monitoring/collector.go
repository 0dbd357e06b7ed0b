// Package monitoring samples service health and raises webhook alerts when
// thresholds are crossed.
package monitoring

import (
	"context"
	"time"

	"github.com/sells-group/xivmarket/internal/cache"
	"github.com/sells-group/xivmarket/internal/model"
	"github.com/sells-group/xivmarket/internal/resilience"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Cache metrics.
	CacheEntries int `json:"cache_entries"`
	CachePriced  int `json:"cache_priced"`
	CacheStale   int `json:"cache_stale"`

	// Moderation backlog.
	FlagsUnresolved int `json:"flags_unresolved"`

	// Dependencies.
	StoreOK    bool                 `json:"store_ok"`
	StoreError string               `json:"store_error,omitempty"`
	Refresher  *resilience.Snapshot `json:"refresher,omitempty"`

	// Metadata.
	StaleAfterHours int       `json:"stale_after_hours"`
	CollectedAt     time.Time `json:"collected_at"`
}

// Healthy reports whether the store answered and the refresher is not
// tripped.
func (s *MetricsSnapshot) Healthy() bool {
	return s.StoreOK && (s.Refresher == nil || s.Refresher.State != resilience.Open.String())
}

// Source is the part of the market service the collector samples.
type Source interface {
	Cache() *cache.ItemCache
	CountFlags(ctx context.Context) (int, error)
	Breaker() *resilience.Breaker
	Ping(ctx context.Context) error
}

// Collector gathers metrics from the market service.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot. Store failures are recorded in the snapshot
// rather than returned, so health endpoints can still report them.
func (c *Collector) Collect(ctx context.Context, staleAfterHours int) *MetricsSnapshot {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		StaleAfterHours: staleAfterHours,
		CollectedAt:     now,
	}

	staleAfter := time.Duration(staleAfterHours) * time.Hour
	c.src.Cache().Scan(func(refs []model.ItemRef) {
		snap.CacheEntries = len(refs)
		for _, r := range refs {
			age, ok := r.Age(now)
			if !ok {
				continue
			}
			snap.CachePriced++
			if staleAfter > 0 && age >= staleAfter {
				snap.CacheStale++
			}
		}
	})

	if b := c.src.Breaker(); b != nil {
		s := b.Snapshot()
		snap.Refresher = &s
	}

	if err := c.src.Ping(ctx); err != nil {
		snap.StoreError = err.Error()
		return snap
	}
	snap.StoreOK = true

	n, err := c.src.CountFlags(ctx)
	if err != nil {
		snap.StoreOK = false
		snap.StoreError = err.Error()
		return snap
	}
	snap.FlagsUnresolved = n

	return snap
}

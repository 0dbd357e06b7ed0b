// Package market is the service root: it owns the store and the item
// cache and performs every mutation store first, cache second.
package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/xivmarket/internal/aggregate"
	"github.com/sells-group/xivmarket/internal/cache"
	"github.com/sells-group/xivmarket/internal/config"
	"github.com/sells-group/xivmarket/internal/model"
	"github.com/sells-group/xivmarket/internal/resilience"
	"github.com/sells-group/xivmarket/internal/store"
)

var (
	// ErrUnknownItem is returned when a price targets an item that does not
	// exist.
	ErrUnknownItem = eris.New("market: unknown item")
	// ErrInvalidValue is returned for negative price values.
	ErrInvalidValue = eris.New("market: invalid price value")
	// ErrRateLimited is returned when a user submits prices too quickly.
	ErrRateLimited = eris.New("market: submission rate exceeded")
	// ErrWatchLimit is returned when a user's watchlist is full.
	ErrWatchLimit = store.ErrWatchLimit
	// ErrPriceNotFound is returned when flagging or deleting a price that
	// does not exist.
	ErrPriceNotFound = eris.New("market: price not found")
)

// Options tunes the service. Zero fields fall back to DefaultOptions.
type Options struct {
	Graphing        aggregate.Config
	WatchLimit      int
	SearchLimit     int
	QueryLimit      int
	DeleteWindow    time.Duration
	SubmitRate      rate.Limit
	SubmitBurst     int
	WarmConcurrency int
	RefreshInterval time.Duration
	Retry           resilience.RetryConfig
	Breaker         resilience.BreakerConfig

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		Graphing:        aggregate.Config{Days: 7, Points: 168},
		WatchLimit:      50,
		SearchLimit:     50,
		QueryLimit:      25,
		DeleteWindow:    10 * time.Minute,
		SubmitRate:      rate.Inf,
		SubmitBurst:     1,
		WarmConcurrency: 8,
		RefreshInterval: 15 * time.Minute,
		Retry:           resilience.DefaultRetryConfig(),
		Breaker:         resilience.DefaultBreakerConfig(),
		Now:             time.Now,
	}
}

// OptionsFromConfig maps application config onto service options.
func OptionsFromConfig(cfg *config.Config) Options {
	submit := rate.Inf
	if cfg.Submissions.PerMinute > 0 {
		submit = rate.Limit(cfg.Submissions.PerMinute / 60)
	}
	return Options{
		Graphing:        aggregate.Config{Days: cfg.Graphing.Days, Points: cfg.Graphing.DataPoints},
		WatchLimit:      cfg.Lists.WatchLimit,
		SearchLimit:     cfg.Lists.SearchLimit,
		QueryLimit:      cfg.Lists.QueryLimit,
		DeleteWindow:    cfg.Prices.DeleteWindow(),
		SubmitRate:      submit,
		SubmitBurst:     cfg.Submissions.Burst,
		WarmConcurrency: cfg.Cache.WarmConcurrency,
		RefreshInterval: cfg.Cache.RefreshInterval(),
		Retry:           resilience.RetryFromConfig(cfg.Retry),
		Breaker:         resilience.BreakerFromConfig(cfg.Breaker),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Graphing.Days <= 0 || o.Graphing.Points < 2 {
		o.Graphing = def.Graphing
	}
	if o.WatchLimit <= 0 {
		o.WatchLimit = def.WatchLimit
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = def.SearchLimit
	}
	if o.QueryLimit <= 0 {
		o.QueryLimit = def.QueryLimit
	}
	if o.DeleteWindow < 0 {
		o.DeleteWindow = 0
	}
	if o.SubmitRate == 0 {
		o.SubmitRate = def.SubmitRate
	}
	if o.SubmitBurst <= 0 {
		o.SubmitBurst = def.SubmitBurst
	}
	if o.WarmConcurrency <= 0 {
		o.WarmConcurrency = def.WarmConcurrency
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = def.RefreshInterval
	}
	if o.Now == nil {
		o.Now = def.Now
	}
	return o
}

// Service serves reads from the item cache and routes writes through the
// store.
type Service struct {
	store   store.Store
	cache   *cache.ItemCache
	opts    Options
	log     *zap.Logger
	limits  *userLimiters
	breaker *resilience.Breaker
	writes  itemLocks
	repairs repairSet

	mu    sync.RWMutex
	users map[int64]model.UserRef
}

// New loads every item with its latest price and rolling average, then
// returns a ready service. Transient store failures during the load are
// retried.
func New(ctx context.Context, st store.Store, opts Options) (*Service, error) {
	opts = opts.withDefaults()
	s := &Service{
		store:   st,
		opts:    opts,
		log:     zap.L().With(zap.String("component", "market")),
		limits:  newUserLimiters(opts.SubmitRate, opts.SubmitBurst),
		breaker: resilience.NewBreaker("average-refresh", opts.Breaker),
		users:   make(map[int64]model.UserRef),
	}

	start := time.Now()
	refs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.cache = cache.New(refs)

	stats := s.cache.Stats()
	s.log.Info("item cache warmed",
		zap.Int("items", stats.Entries),
		zap.Int("priced", stats.Priced),
		zap.Duration("elapsed", time.Since(start)),
	)
	return s, nil
}

// load reads the latest state of every item and computes the averages of
// priced items concurrently.
func (s *Service) load(ctx context.Context) ([]model.ItemRef, error) {
	retry := s.opts.Retry
	retry.OnRetry = resilience.RetryLogger("market", "latest_prices")
	states, err := resilience.DoVal(ctx, retry, s.store.LatestPrices)
	if err != nil {
		return nil, eris.Wrap(err, "market: load latest prices")
	}

	refs := make([]model.ItemRef, len(states))
	now := s.opts.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.WarmConcurrency)
	for i, st := range states {
		refs[i] = model.ItemRef{ItemState: st}
		if st.Price == nil {
			continue
		}
		s.rememberUser(st.Price.Submitter)
		g.Go(func() error {
			avg, err := s.average(gctx, st.Item.ID, now)
			if err != nil {
				return err
			}
			refs[i].Average = avg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "market: compute averages")
	}
	return refs, nil
}

// average computes the rolling average of itemID from the store.
func (s *Service) average(ctx context.Context, itemID int64, now time.Time) (*int64, error) {
	from, _ := aggregate.AverageWindow(now)
	history, err := resilience.DoVal(ctx, s.opts.Retry, func(ctx context.Context) ([]model.Price, error) {
		return s.store.PriceHistory(ctx, itemID, from)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "market: average of item %d", itemID)
	}
	avg, ok := aggregate.RollingAverage(history, now)
	if !ok {
		return nil, nil
	}
	return &avg, nil
}

// Cache exposes the item cache for read-only queries.
func (s *Service) Cache() *cache.ItemCache {
	return s.cache
}

// Store exposes the backing store.
func (s *Service) Store() store.Store {
	return s.store
}

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}

// Breaker exposes the refresher circuit breaker for health reporting.
func (s *Service) Breaker() *resilience.Breaker {
	return s.breaker
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return eris.Wrap(s.store.Ping(ctx), "market: ping store")
}

// Now returns the service clock, truncated to the second.
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Second)
}

// --- Users ---

// RegisterUser records the display identity of a user.
func (s *Service) RegisterUser(ctx context.Context, user model.UserRef) error {
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return eris.Wrapf(err, "market: register user %d", user.ID)
	}
	s.rememberUser(user)
	return nil
}

func (s *Service) rememberUser(u model.UserRef) {
	if u.ID == 0 || u.Name == "" {
		return
	}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *Service) user(id int64) model.UserRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		return u
	}
	return model.UserRef{ID: id}
}

// --- Items ---

// Item returns the cached state of id. Unknown items report false.
func (s *Service) Item(id int64) (model.ItemRef, bool) {
	return s.cache.Get(id)
}

// Items returns the cached states of ids in order, skipping unknown ones.
func (s *Service) Items(ids ...int64) []model.ItemRef {
	return s.cache.GetMany(ids)
}

// CreateItem adds an item. Creating an item that already exists is not an
// error; the existing item is returned.
func (s *Service) CreateItem(ctx context.Context, item model.Item) (model.Item, error) {
	err := s.store.CreateItem(ctx, item)
	switch {
	case err == nil:
		s.cache.PutItem(item)
		return item, nil
	case errors.Is(err, store.ErrDuplicateItem):
		existing, gerr := s.store.GetItem(ctx, item.ID)
		if gerr != nil {
			return model.Item{}, eris.Wrapf(gerr, "market: lookup existing item %d", item.ID)
		}
		if existing == nil {
			return model.Item{}, eris.Wrapf(err, "market: create item %d", item.ID)
		}
		if _, ok := s.cache.Get(existing.ID); !ok {
			s.cache.PutItem(*existing)
		}
		return *existing, nil
	default:
		return model.Item{}, eris.Wrapf(err, "market: create item %d", item.ID)
	}
}

// ImportItems upserts a batch of items and refreshes their identity in the
// cache.
func (s *Service) ImportItems(ctx context.Context, items []model.Item) (int64, error) {
	n, err := s.store.UpsertItems(ctx, items)
	if err != nil {
		return 0, eris.Wrap(err, "market: import items")
	}
	for _, it := range items {
		s.cache.PutItem(it)
	}
	return n, nil
}

// --- Cache queries ---

func (s *Service) limit(n, max int) int {
	if n <= 0 || n > max {
		return max
	}
	return n
}

// RecentlyUpdated lists items priced within maxAge, newest first.
func (s *Service) RecentlyUpdated(limit int, maxAge time.Duration) []model.ItemRef {
	return cache.Query(s.cache, cache.RecentlyUpdated(s.opts.Now(), s.limit(limit, s.opts.QueryLimit), maxAge))
}

// MostValuable lists items priced within maxAge whose value lies in
// [minValue, maxValue], most valuable first.
func (s *Service) MostValuable(limit int, maxAge time.Duration, minValue, maxValue int64) []model.ItemRef {
	return cache.Query(s.cache, cache.MostValuable(s.opts.Now(), s.limit(limit, s.opts.QueryLimit), maxAge, minValue, maxValue))
}

// NoSupply lists items whose latest price within maxAge reports no supply.
func (s *Service) NoSupply(limit int, maxAge time.Duration) []model.ItemRef {
	return cache.Query(s.cache, cache.NoSupply(s.opts.Now(), s.limit(limit, s.opts.QueryLimit), maxAge))
}

// Stale lists items last priced between minAge and maxAge ago, oldest first.
func (s *Service) Stale(limit int, minAge, maxAge time.Duration) []model.ItemRef {
	return cache.Query(s.cache, cache.Stale(s.opts.Now(), s.limit(limit, s.opts.QueryLimit), minAge, maxAge))
}

// Search finds items by name in lang.
func (s *Service) Search(term string, lang model.Language, limit int) []model.ItemRef {
	return cache.Query(s.cache, cache.Search(term, lang, s.limit(limit, s.opts.SearchLimit)))
}

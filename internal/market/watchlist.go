package market

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/xivmarket/internal/model"
)

// Watch adds itemID to the watchlist of userID. It reports false when the
// item was already watched and fails with ErrWatchLimit when the watchlist
// is full.
func (s *Service) Watch(ctx context.Context, userID, itemID int64) (bool, error) {
	if _, ok := s.cache.Get(itemID); !ok {
		return false, eris.Wrapf(ErrUnknownItem, "market: watch item %d", itemID)
	}
	added, err := s.store.AddWatch(ctx, userID, itemID, s.opts.WatchLimit)
	return added, eris.Wrapf(err, "market: watch item %d", itemID)
}

// Unwatch removes itemID from the watchlist of userID.
func (s *Service) Unwatch(ctx context.Context, userID, itemID int64) (bool, error) {
	removed, err := s.store.RemoveWatch(ctx, userID, itemID)
	return removed, eris.Wrapf(err, "market: unwatch item %d", itemID)
}

// Watchlist returns the cached state of every item userID watches.
func (s *Service) Watchlist(ctx context.Context, userID int64) ([]model.ItemRef, error) {
	ids, err := s.store.ListWatched(ctx, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "market: watchlist of user %d", userID)
	}
	return s.cache.GetMany(ids), nil
}

// IsWatching reports whether userID watches itemID.
func (s *Service) IsWatching(ctx context.Context, userID, itemID int64) (bool, error) {
	ok, err := s.store.IsWatching(ctx, userID, itemID)
	return ok, eris.Wrap(err, "market: is watching")
}

// WatchCount returns how many items userID watches.
func (s *Service) WatchCount(ctx context.Context, userID int64) (int, error) {
	n, err := s.store.CountWatched(ctx, userID)
	return n, eris.Wrap(err, "market: watch count")
}

// MostWatched returns the items with the most watchers.
func (s *Service) MostWatched(ctx context.Context, limit int) ([]model.WatchCount, error) {
	counts, err := s.store.MostWatched(ctx, s.limit(limit, s.opts.QueryLimit))
	return counts, eris.Wrap(err, "market: most watched")
}

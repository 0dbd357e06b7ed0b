package market

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/xivmarket/internal/aggregate"
	"github.com/sells-group/xivmarket/internal/model"
	"github.com/sells-group/xivmarket/internal/resilience"
)

// AddPrice records a price submitted by userID for itemID at the current
// time and returns the resulting cache entry.
func (s *Service) AddPrice(ctx context.Context, itemID, value, userID int64) (model.ItemRef, error) {
	if value < 0 {
		return model.ItemRef{}, eris.Wrapf(ErrInvalidValue, "market: add price %d", value)
	}
	if _, ok := s.cache.Get(itemID); !ok {
		return model.ItemRef{}, eris.Wrapf(ErrUnknownItem, "market: add price to item %d", itemID)
	}
	now := s.now()
	if !s.limits.allow(userID, now) {
		return model.ItemRef{}, eris.Wrapf(ErrRateLimited, "market: user %d", userID)
	}

	unlock := s.writes.lock(itemID)
	defer unlock()

	price := model.Price{
		Timestamp: now,
		Value:     value,
		Submitter: s.user(userID),
	}
	if err := s.store.InsertPrice(ctx, itemID, price); err != nil {
		return model.ItemRef{}, eris.Wrapf(err, "market: add price to item %d", itemID)
	}

	ref, _ := s.cache.Get(itemID)
	avg, err := s.average(ctx, itemID, now)
	if err != nil {
		// The price is stored; the next refresh fills in the average.
		s.log.Warn("rolling average failed after insert",
			zap.Int64("item_id", itemID),
			zap.Error(err),
		)
		avg = ref.Average
	}

	ref.Price = &price
	ref.Average = avg
	if !s.cache.Upsert(ref) {
		s.log.Debug("newer price already cached", zap.Int64("item_id", itemID))
	}
	ref, _ = s.cache.Get(itemID)
	return ref, nil
}

// DeletePrice removes the price of itemID at ts. A non-zero userID limits
// the delete to prices that user submitted; deleting nothing is not an
// error. When the latest cached price goes, the next latest is loaded from
// the store.
func (s *Service) DeletePrice(ctx context.Context, itemID int64, ts time.Time, userID int64) (bool, error) {
	ts = ts.UTC().Truncate(time.Second)

	unlock := s.writes.lock(itemID)
	defer unlock()

	n, err := s.store.DeletePrice(ctx, itemID, ts, userID)
	if err != nil {
		return false, eris.Wrapf(err, "market: delete price of item %d", itemID)
	}
	if n == 0 {
		return false, nil
	}
	return true, s.afterDelete(ctx, itemID, ts)
}

// afterDelete brings the cache entry of itemID in line with the store once
// the price at ts is gone. The caller holds the item's write lock.
func (s *Service) afterDelete(ctx context.Context, itemID int64, ts time.Time) error {
	if s.cache.DeleteLatest(itemID, ts) {
		if err := s.reloadLatest(ctx, itemID); err != nil {
			s.repairs.add(itemID)
			s.log.Warn("latest price reload failed, queued for repair",
				zap.Int64("item_id", itemID),
				zap.Error(err),
			)
			return err
		}
		return nil
	}

	now := s.opts.Now()
	from, to := aggregate.AverageWindow(now)
	if !ts.After(from) || ts.After(to) {
		return nil
	}
	ref, ok := s.cache.Get(itemID)
	if !ok || ref.Price == nil {
		return nil
	}
	avg, err := s.average(ctx, itemID, now)
	if err != nil {
		s.log.Warn("rolling average failed after delete",
			zap.Int64("item_id", itemID),
			zap.Error(err),
		)
		return nil
	}
	s.cache.SetAverage(itemID, ref.Price.Timestamp, avg)
	return nil
}

// reloadLatest fetches the latest price of itemID after its cached latest
// was removed. The caller holds the item's write lock.
func (s *Service) reloadLatest(ctx context.Context, itemID int64) error {
	latest, err := resilience.DoVal(ctx, s.opts.Retry, func(ctx context.Context) (*model.Price, error) {
		return s.store.LatestPrice(ctx, itemID)
	})
	if err != nil {
		return eris.Wrapf(err, "market: reload latest price of item %d", itemID)
	}
	if latest == nil {
		return nil
	}

	ref, ok := s.cache.Get(itemID)
	if !ok {
		return nil
	}
	avg, err := s.average(ctx, itemID, s.opts.Now())
	if err != nil {
		s.log.Warn("rolling average failed after delete",
			zap.Int64("item_id", itemID),
			zap.Error(err),
		)
	}
	ref.Price = latest
	ref.Average = avg
	s.cache.Upsert(ref)
	return nil
}

// repairLatest reloads the cache entries whose refetch failed after a
// delete. Entries that fail again stay queued.
func (s *Service) repairLatest(ctx context.Context) int {
	var repaired int
	for _, id := range s.repairs.pending() {
		unlock := s.writes.lock(id)
		err := s.reloadLatest(ctx, id)
		unlock()
		if err != nil {
			s.log.Warn("latest price repair failed", zap.Int64("item_id", id), zap.Error(err))
			continue
		}
		s.repairs.remove(id)
		repaired++
	}
	return repaired
}

// Actor is the user performing a moderation-sensitive action.
type Actor struct {
	ID        int64
	Moderator bool
}

// DeletionOutcome reports what RequestDeletion did.
type DeletionOutcome string

const (
	// DeletionDeleted means the price was removed (or was not the actor's
	// to remove).
	DeletionDeleted DeletionOutcome = "deleted"
	// DeletionFlagged means the price was too old to delete and was flagged
	// for moderator review instead.
	DeletionFlagged DeletionOutcome = "flagged"
)

// RequestDeletion handles a user asking to delete a price. Moderators delete
// any price. Other users may delete their own prices within the delete
// window; older prices are flagged instead.
func (s *Service) RequestDeletion(ctx context.Context, itemID int64, ts time.Time, actor Actor) (DeletionOutcome, error) {
	if actor.Moderator {
		_, err := s.DeletePrice(ctx, itemID, ts, 0)
		return DeletionDeleted, err
	}

	if s.now().Sub(ts) > s.opts.DeleteWindow {
		if _, err := s.CreateFlag(ctx, itemID, ts, actor.ID); err != nil {
			return "", err
		}
		return DeletionFlagged, nil
	}

	_, err := s.DeletePrice(ctx, itemID, ts, actor.ID)
	return DeletionDeleted, err
}

// History returns the prices of itemID recorded since since, newest first.
func (s *Service) History(ctx context.Context, itemID int64, since time.Time) ([]model.Price, error) {
	prices, err := s.store.PriceHistory(ctx, itemID, since)
	return prices, eris.Wrapf(err, "market: history of item %d", itemID)
}

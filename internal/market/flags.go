package market

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/xivmarket/internal/model"
)

// CreateFlag puts the price of itemID at ts on moderator hold. It reports
// false when the price was already flagged.
func (s *Service) CreateFlag(ctx context.Context, itemID int64, ts time.Time, reporter int64) (bool, error) {
	ts = ts.UTC().Truncate(time.Second)
	price, err := s.store.GetPrice(ctx, itemID, ts)
	if err != nil {
		return false, eris.Wrapf(err, "market: flag price of item %d", itemID)
	}
	if price == nil {
		return false, eris.Wrapf(ErrPriceNotFound, "market: flag item %d at %s", itemID, ts.Format(time.RFC3339))
	}

	created, err := s.store.CreateFlag(ctx, itemID, ts, reporter)
	if err != nil {
		return false, eris.Wrapf(err, "market: flag price of item %d", itemID)
	}
	s.cache.SetFlagged(itemID, ts, true)
	if created {
		s.log.Info("price flagged",
			zap.Int64("item_id", itemID),
			zap.Time("price_ts", ts),
			zap.Int64("reporter", reporter),
		)
	}
	return created, nil
}

// ListFlags returns unresolved flags, oldest price first. A limit of zero
// returns every flag.
func (s *Service) ListFlags(ctx context.Context, limit int) ([]model.Flag, error) {
	flags, err := s.store.ListFlags(ctx, limit)
	return flags, eris.Wrap(err, "market: list flags")
}

// CountFlags returns the number of unresolved flags.
func (s *Service) CountFlags(ctx context.Context) (int, error) {
	n, err := s.store.CountFlags(ctx)
	return n, eris.Wrap(err, "market: count flags")
}

// ResolveFlag closes the flag on the price of itemID at ts, deleting the
// price when deletePrice is set and dismissing the flag otherwise.
func (s *Service) ResolveFlag(ctx context.Context, itemID int64, ts time.Time, deletePrice bool) (*model.FlagResolution, error) {
	ts = ts.UTC().Truncate(time.Second)

	unlock := s.writes.lock(itemID)
	defer unlock()

	res, err := s.store.ResolveFlag(ctx, itemID, ts, deletePrice, s.now())
	if err != nil {
		return nil, eris.Wrapf(err, "market: resolve flag on item %d", itemID)
	}

	if deletePrice {
		if err := s.afterDelete(ctx, itemID, ts); err != nil {
			return res, err
		}
	} else {
		s.cache.SetFlagged(itemID, ts, false)
	}

	s.log.Info("flag resolved",
		zap.Int64("item_id", itemID),
		zap.Time("price_ts", ts),
		zap.String("status", string(res.Status())),
	)
	return res, nil
}

// FlagHistory returns the most recent resolutions first.
func (s *Service) FlagHistory(ctx context.Context, limit int) ([]model.FlagResolution, error) {
	history, err := s.store.FlagHistory(ctx, limit)
	return history, eris.Wrap(err, "market: flag history")
}

// ModerationStats returns the moderation record of userID.
func (s *Service) ModerationStats(ctx context.Context, userID int64) (model.ModerationStats, error) {
	stats, err := s.store.ModerationStats(ctx, userID)
	return stats, eris.Wrapf(err, "market: moderation stats of user %d", userID)
}

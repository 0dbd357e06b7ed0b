package market

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/xivmarket/internal/model"
	"github.com/sells-group/xivmarket/internal/resilience"
)

// RefreshResult summarizes one average refresh pass.
type RefreshResult struct {
	Scanned  int `json:"scanned"`
	Updated  int `json:"updated"`
	Repaired int `json:"repaired"`
}

// RefreshAverages recomputes the rolling average of every priced item. The
// window moves with the clock, so averages go stale without new prices.
// An entry whose latest price changed mid-pass is left to the writer that
// changed it. Entries whose latest price could not be reloaded after a
// delete are reloaded first.
func (s *Service) RefreshAverages(ctx context.Context) (RefreshResult, error) {
	return resilience.ExecuteVal(ctx, s.breaker, s.refreshAverages)
}

func (s *Service) refreshAverages(ctx context.Context) (RefreshResult, error) {
	repaired := s.repairLatest(ctx)

	type target struct {
		id int64
		ts time.Time
	}
	targets := make([]target, 0, s.cache.Len())
	s.cache.Scan(func(refs []model.ItemRef) {
		for _, r := range refs {
			if r.Price != nil {
				targets = append(targets, target{id: r.Item.ID, ts: r.Price.Timestamp})
			}
		}
	})

	now := s.opts.Now()
	updated := make([]bool, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.WarmConcurrency)
	for i, t := range targets {
		g.Go(func() error {
			avg, err := s.average(gctx, t.id, now)
			if err != nil {
				return err
			}
			updated[i] = s.cache.SetAverage(t.id, t.ts, avg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RefreshResult{}, eris.Wrap(err, "market: refresh averages")
	}

	res := RefreshResult{Scanned: len(targets), Repaired: repaired}
	for _, u := range updated {
		if u {
			res.Updated++
		}
	}
	return res, nil
}

// RunRefresher refreshes averages every RefreshInterval until ctx is done.
func (s *Service) RunRefresher(ctx context.Context) {
	log := s.log.With(zap.String("loop", "average-refresh"))
	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()

	log.Info("average refresher started", zap.Duration("interval", s.opts.RefreshInterval))
	for {
		select {
		case <-ctx.Done():
			log.Info("average refresher stopped")
			return
		case <-ticker.C:
			start := time.Now()
			res, err := s.RefreshAverages(ctx)
			switch {
			case errors.Is(err, resilience.ErrBreakerOpen):
				log.Warn("average refresh skipped", zap.Error(err))
			case err != nil:
				log.Error("average refresh failed", zap.Error(err))
			default:
				log.Debug("averages refreshed",
					zap.Int("scanned", res.Scanned),
					zap.Int("updated", res.Updated),
					zap.Int("repaired", res.Repaired),
					zap.Duration("elapsed", time.Since(start)),
				)
			}
		}
	}
}

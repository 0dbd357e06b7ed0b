package market

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/sells-group/xivmarket/internal/aggregate"
	"github.com/sells-group/xivmarket/internal/cache"
	"github.com/sells-group/xivmarket/internal/model"
)

// RelatedItems is the crafting adjacency of an item resolved to cache
// entries.
type RelatedItems struct {
	CraftedFrom []model.ItemRef `json:"crafted_from"`
	CraftsInto  []model.ItemRef `json:"crafts_into"`
}

// ItemReport is everything an item page shows.
type ItemReport struct {
	Ref         model.ItemRef    `json:"item"`
	Counterpart *model.ItemRef   `json:"counterpart,omitempty"`
	History     []model.Price    `json:"history"`
	Analytics   aggregate.Report `json:"analytics"`
	Related     RelatedItems     `json:"related"`
}

// ItemReport runs the analytics over the recent history of id. The returned
// history covers the graphing window only. The second return is false for
// unknown items.
func (s *Service) ItemReport(ctx context.Context, id int64, lang model.Language) (*ItemReport, bool, error) {
	ref, ok := s.cache.Get(id)
	if !ok {
		return nil, false, nil
	}

	now := s.opts.Now()
	history, err := s.store.PriceHistory(ctx, id, now.Add(-aggregate.HistoryWindow(s.opts.Graphing)))
	if err != nil {
		return nil, true, eris.Wrapf(err, "market: report for item %d", id)
	}
	analytics := aggregate.Analyze(history, now, s.opts.Graphing)

	graphFrom := now.Add(-time.Duration(s.opts.Graphing.Days) * aggregate.Day)
	graphed := slices.IndexFunc(history, func(p model.Price) bool {
		return p.Timestamp.Before(graphFrom)
	})
	if graphed >= 0 {
		history = history[:graphed]
	}

	related, err := s.Related(ctx, id, lang)
	if err != nil {
		return nil, true, err
	}

	return &ItemReport{
		Ref:         ref,
		Counterpart: s.Counterpart(ref.Item),
		History:     history,
		Analytics:   analytics,
		Related:     related,
	}, true, nil
}

// Counterpart returns the item with the same English name and the other
// quality, if one exists.
func (s *Service) Counterpart(item model.Item) *model.ItemRef {
	matches := cache.Query(s.cache, cache.ByName(model.LanguageEnglish, item.Name.EN))
	for _, m := range matches {
		if m.Item.ID != item.ID && m.Item.HQ != item.HQ {
			return &m
		}
	}
	return nil
}

// SetRelated replaces the crafting adjacency of itemID.
func (s *Service) SetRelated(ctx context.Context, itemID int64, related model.Related) error {
	if _, ok := s.cache.Get(itemID); !ok {
		return eris.Wrapf(ErrUnknownItem, "market: set related of item %d", itemID)
	}
	return eris.Wrapf(s.store.SetRelated(ctx, itemID, related), "market: set related of item %d", itemID)
}

// Related resolves the crafting adjacency of itemID through the cache,
// ordered by name in lang.
func (s *Service) Related(ctx context.Context, itemID int64, lang model.Language) (RelatedItems, error) {
	ids, err := s.store.Related(ctx, itemID)
	if err != nil {
		return RelatedItems{}, eris.Wrapf(err, "market: related of item %d", itemID)
	}
	return RelatedItems{
		CraftedFrom: s.sortedByName(ids.CraftedFrom, lang),
		CraftsInto:  s.sortedByName(ids.CraftsInto, lang),
	}, nil
}

func (s *Service) sortedByName(ids []int64, lang model.Language) []model.ItemRef {
	refs := s.cache.GetMany(ids)
	fold := cases.Fold()
	slices.SortStableFunc(refs, func(a, b model.ItemRef) int {
		return cmp.Or(
			cmp.Compare(fold.String(a.Item.DisplayName(lang)), fold.String(b.Item.DisplayName(lang))),
			cmp.Compare(a.Item.ID, b.Item.ID),
		)
	})
	return refs
}

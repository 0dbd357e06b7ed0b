package cache

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/sells-group/xivmarket/internal/model"
)

// QueryFunc is a read-only transform suitable for Query.
type QueryFunc func(refs []model.ItemRef) []model.ItemRef

// A limit of zero or less returns every match.
func pick(refs []model.ItemRef, keep func(model.ItemRef) bool, order func(a, b model.ItemRef) int, limit int) []model.ItemRef {
	var out []model.ItemRef
	for _, r := range refs {
		if keep(r) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, order)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// youngerThan keeps priced entries whose latest price is strictly younger
// than maxAge.
func youngerThan(now time.Time, maxAge time.Duration) func(model.ItemRef) bool {
	return func(r model.ItemRef) bool {
		age, ok := r.Age(now)
		return ok && age < maxAge
	}
}

func newestFirst(a, b model.ItemRef) int {
	return b.Price.Timestamp.Compare(a.Price.Timestamp)
}

// RecentlyUpdated selects items priced within maxAge, newest first.
func RecentlyUpdated(now time.Time, limit int, maxAge time.Duration) QueryFunc {
	return func(refs []model.ItemRef) []model.ItemRef {
		return pick(refs, youngerThan(now, maxAge), newestFirst, limit)
	}
}

// MostValuable selects items priced within maxAge whose value lies in
// [minValue, maxValue], most valuable first.
func MostValuable(now time.Time, limit int, maxAge time.Duration, minValue, maxValue int64) QueryFunc {
	fresh := youngerThan(now, maxAge)
	return func(refs []model.ItemRef) []model.ItemRef {
		return pick(refs, func(r model.ItemRef) bool {
			return fresh(r) && r.Price.Value >= minValue && r.Price.Value <= maxValue
		}, func(a, b model.ItemRef) int {
			return cmp.Compare(b.Price.Value, a.Price.Value)
		}, limit)
	}
}

// NoSupply selects items whose latest price within maxAge is zero, newest
// first.
func NoSupply(now time.Time, limit int, maxAge time.Duration) QueryFunc {
	fresh := youngerThan(now, maxAge)
	return func(refs []model.ItemRef) []model.ItemRef {
		return pick(refs, func(r model.ItemRef) bool {
			return fresh(r) && r.Price.Value == 0
		}, newestFirst, limit)
	}
}

// Stale selects items whose latest price is older than minAge but younger
// than maxAge, oldest first. These are the prices worth resubmitting.
func Stale(now time.Time, limit int, minAge, maxAge time.Duration) QueryFunc {
	return func(refs []model.ItemRef) []model.ItemRef {
		return pick(refs, func(r model.ItemRef) bool {
			age, ok := r.Age(now)
			return ok && age > minAge && age < maxAge
		}, func(a, b model.ItemRef) int {
			return a.Price.Timestamp.Compare(b.Price.Timestamp)
		}, limit)
	}
}

// Search selects items whose name in lang contains term, ignoring case.
// Results are ordered by name, normal quality before HQ.
func Search(term string, lang model.Language, limit int) QueryFunc {
	return func(refs []model.ItemRef) []model.ItemRef {
		// Casers are stateful, so each query gets its own.
		fold := cases.Fold()
		needle := fold.String(strings.TrimSpace(term))
		if needle == "" {
			return nil
		}

		names := make(map[int64]string)
		matches := pick(refs, func(r model.ItemRef) bool {
			name := fold.String(r.Item.Name.In(lang))
			if !strings.Contains(name, needle) {
				return false
			}
			names[r.Item.ID] = name
			return true
		}, func(a, b model.ItemRef) int {
			if c := strings.Compare(names[a.Item.ID], names[b.Item.ID]); c != 0 {
				return c
			}
			switch {
			case a.Item.HQ == b.Item.HQ:
				return 0
			case a.Item.HQ:
				return 1
			default:
				return -1
			}
		}, limit)
		return matches
	}
}

// ByName selects items whose name in lang equals one of names, ignoring
// case, in item ID order.
func ByName(lang model.Language, names ...string) QueryFunc {
	return func(refs []model.ItemRef) []model.ItemRef {
		fold := cases.Fold()
		want := make(map[string]bool, len(names))
		for _, n := range names {
			want[fold.String(strings.TrimSpace(n))] = true
		}

		var out []model.ItemRef
		for _, r := range refs {
			if want[fold.String(r.Item.Name.In(lang))] {
				out = append(out, r)
			}
		}
		return out
	}
}

package aggregate

import (
	"slices"
	"time"

	"github.com/sells-group/xivmarket/internal/model"
)

// Slice is one fixed-width time bucket. Age counts slice widths back from
// now; 0 is the most recent.
type Slice struct {
	Age   int   `json:"age"`
	Value int64 `json:"value"`
}

// Series is a slice-indexed price history. Slices are sorted by age
// ascending and may have holes for untraded periods.
type Series struct {
	Width  time.Duration `json:"-"`
	Points int           `json:"points"`
	Slices []Slice       `json:"slices"`
}

// Normalise buckets newest-first prices into points slices spanning days
// days. Each slice is represented by the midpoint of its min and max.
// Records older than the last slice end the scan.
func Normalise(prices []model.Price, now time.Time, days, points int) Series {
	s := Series{Points: points}
	if days <= 0 || points <= 0 {
		return s
	}

	secs := int64(days) * int64(Day/time.Second) / int64(points)
	if secs < 1 {
		secs = 1
	}
	s.Width = time.Duration(secs) * time.Second

	spans := make(map[int]*span)
	for _, p := range prices {
		age := int(now.Sub(p.Timestamp) / s.Width)
		if age < 0 {
			age = 0
		}
		if age >= points {
			break
		}
		sp, ok := spans[age]
		if !ok {
			sp = &span{}
			spans[age] = sp
		}
		sp.observe(p.Value)
	}

	s.Slices = make([]Slice, 0, len(spans))
	for age, sp := range spans {
		s.Slices = append(s.Slices, Slice{Age: age, Value: (sp.max + sp.min) / 2})
	}
	slices.SortFunc(s.Slices, func(a, b Slice) int { return a.Age - b.Age })
	return s
}

// Blocks groups series values into day and week buckets, keyed by age in
// days and weeks. Each day contributes its mean to its week.
type Blocks struct {
	Days  map[int][]int64
	Weeks map[int][]int64
}

// TimeBlocks groups a series into day and week buckets.
func TimeBlocks(s Series) Blocks {
	b := Blocks{
		Days:  make(map[int][]int64),
		Weeks: make(map[int][]int64),
	}
	if s.Width <= 0 {
		return b
	}

	perDay := int(Day / s.Width)
	if perDay < 1 {
		perDay = 1
	}
	for _, sl := range s.Slices {
		day := sl.Age / perDay
		b.Days[day] = append(b.Days[day], sl.Value)
	}
	for day, values := range b.Days {
		b.Weeks[day/7] = append(b.Weeks[day/7], mean(values))
	}
	return b
}

// Averages holds bucketed average prices.
type Averages struct {
	Day   *int64 `json:"day,omitempty"`
	Week  *int64 `json:"week,omitempty"`
	Month *int64 `json:"month,omitempty"`
}

// ComputeAverages derives the current day and week averages and the mean
// of all weekly averages.
func ComputeAverages(b Blocks) Averages {
	var a Averages
	if v, ok := b.Days[0]; ok {
		a.Day = model.Ptr(mean(v))
	}
	if v, ok := b.Weeks[0]; ok {
		a.Week = model.Ptr(mean(v))
	}
	if len(b.Weeks) > 0 {
		weekly := make([]int64, 0, len(b.Weeks))
		for _, v := range b.Weeks {
			weekly = append(weekly, mean(v))
		}
		a.Month = model.Ptr(mean(weekly))
	}
	return a
}

// Trends holds ratio-minus-one deltas between the newest bucket and the one
// before it.
type Trends struct {
	Current *float64 `json:"current,omitempty"`
	Daily   *float64 `json:"daily,omitempty"`
	Weekly  *float64 `json:"weekly,omitempty"`
}

// ComputeTrends compares bucket 0 against bucket 1 at slice, day and week
// granularity. A trend is absent when either side lacks data.
func ComputeTrends(s Series, b Blocks) Trends {
	var t Trends
	if len(s.Slices) > 1 && s.Slices[0].Age == 0 && s.Slices[1].Age == 1 {
		t.Current = ratio(float64(s.Slices[0].Value), float64(s.Slices[1].Value))
	}
	t.Daily = bucketRatio(b.Days)
	t.Weekly = bucketRatio(b.Weeks)
	return t
}

func bucketRatio(buckets map[int][]int64) *float64 {
	cur, ok := buckets[0]
	if !ok {
		return nil
	}
	prev, ok := buckets[1]
	if !ok {
		return nil
	}
	return ratio(meanFloat(cur), meanFloat(prev))
}

func ratio(cur, prev float64) *float64 {
	if prev == 0 {
		return nil
	}
	return model.Ptr(cur/prev - 1)
}

func mean(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return sum / int64(len(values))
}

func meanFloat(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return sum / float64(len(values))
}

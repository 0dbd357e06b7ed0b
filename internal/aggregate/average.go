package aggregate

import (
	"time"

	"github.com/sells-group/xivmarket/internal/model"
)

const (
	// Day, Week and Month are the rolling window lengths. A month is four
	// weeks.
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 4 * Week

	averageOffset = 12 * time.Hour
	averageSpan   = 24 * time.Hour
	averageBucket = 3 * time.Hour
	averageSlots  = int(averageSpan / averageBucket)
)

type span struct {
	min, max int64
	seen     bool
}

func (s *span) observe(v int64) {
	if !s.seen {
		s.min, s.max, s.seen = v, v, true
		return
	}
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
}

func (s span) mid() float64 {
	return float64(s.max+s.min) / 2
}

// RollingAverage computes the damped average used for the cached item
// average. Prices between 12h and 36h old are grouped into 3h buckets, each
// non-empty bucket contributes the midpoint of its range, and the result is
// the truncated mean of those midpoints. Zero ("no supply") values are
// ignored. The second return is false when the window holds no data.
func RollingAverage(prices []model.Price, now time.Time) (int64, bool) {
	var slots [averageSlots]span

	for _, p := range prices {
		if p.Value == 0 {
			continue
		}
		age := now.Sub(p.Timestamp)
		if age < averageOffset || age >= averageOffset+averageSpan {
			continue
		}
		slots[int((age-averageOffset)/averageBucket)].observe(p.Value)
	}

	var sum float64
	var n int
	for _, s := range slots {
		if s.seen {
			sum += s.mid()
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return int64(sum / float64(n)), true
}

// AverageWindow returns the [from, to) timestamp range RollingAverage reads,
// so callers can fetch only the history it needs.
func AverageWindow(now time.Time) (from, to time.Time) {
	return now.Add(-(averageOffset + averageSpan)), now.Add(-averageOffset)
}

// Package aggregate turns newest-first price histories into analytics:
// rolling min/max, bucketed averages, trend deltas and chart series.
package aggregate

import (
	"time"

	"github.com/sells-group/xivmarket/internal/model"
)

// Config sets the graphing window: Points slices spread across Days days.
type Config struct {
	Days   int
	Points int
}

// Report is the full analytics view of one item's price history.
type Report struct {
	Series   Series   `json:"series"`
	Extremes Extremes `json:"extremes"`
	Averages Averages `json:"averages"`
	Trends   Trends   `json:"trends"`
	Chart    []*int64 `json:"chart"`
}

// Analyze runs every aggregation over newest-first prices. Extremes cover
// the last month of prices; everything else only sees the graphing window.
// When no price falls inside the graphing window only the extremes and the
// series geometry are filled in.
func Analyze(prices []model.Price, now time.Time, cfg Config) Report {
	r := Report{
		Series:   Normalise(prices, now, cfg.Days, cfg.Points),
		Extremes: ComputeExtremes(prices, now),
	}
	if len(r.Series.Slices) == 0 {
		return r
	}

	blocks := TimeBlocks(r.Series)
	r.Averages = ComputeAverages(blocks)
	r.Trends = ComputeTrends(r.Series, blocks)
	r.Chart = GapFill(r.Series, cfg.Points)
	return r
}

// HistoryWindow returns how far back Analyze needs prices: the longer of
// the graphing window and the month extremes window.
func HistoryWindow(cfg Config) time.Duration {
	return max(time.Duration(cfg.Days)*Day, Month)
}

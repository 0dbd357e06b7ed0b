package aggregate

import (
	"time"

	"github.com/sells-group/xivmarket/internal/model"
)

// Window holds the lowest and highest price seen in a rolling window.
type Window struct {
	Low  *model.Price `json:"low,omitempty"`
	High *model.Price `json:"high,omitempty"`
}

func (w *Window) observe(p model.Price) {
	if w.Low == nil || p.Value < w.Low.Value {
		w.Low = &p
	}
	if w.High == nil || p.Value > w.High.Value {
		w.High = &p
	}
}

// Extremes holds min/max prices over the last day, week and month.
type Extremes struct {
	Day   Window `json:"day"`
	Week  Window `json:"week"`
	Month Window `json:"month"`
}

// ComputeExtremes scans newest-first prices and tracks the extremal records
// of each nested window. The scan stops at the first record older than a
// month. Comparisons are strict, so the first extremal record wins a tie.
func ComputeExtremes(prices []model.Price, now time.Time) Extremes {
	var ex Extremes

	monthCutoff := now.Add(-Month)
	weekCutoff := now.Add(-Week)
	dayCutoff := now.Add(-Day)

	for _, p := range prices {
		if p.Timestamp.Before(monthCutoff) {
			break
		}
		ex.Month.observe(p)
		if !p.Timestamp.Before(weekCutoff) {
			ex.Week.observe(p)
		}
		if !p.Timestamp.Before(dayCutoff) {
			ex.Day.observe(p)
		}
	}
	return ex
}

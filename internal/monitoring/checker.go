package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/xivmarket/internal/config"
)

// Checker samples health on an interval and forwards alerts to the
// alerter. An alert that stays active is repeated at most once per repeat
// period; one that clears and fires again is sent straight away.
type Checker struct {
	collector       *Collector
	alerter         *Alerter
	interval        time.Duration
	repeatAfter     time.Duration
	staleAfterHours int
	now             func() time.Time

	// Only touched from the Run goroutine.
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	repeat := time.Duration(cfg.AlertRepeatMins) * time.Minute
	if repeat <= 0 {
		repeat = time.Hour
	}
	return &Checker{
		collector:       collector,
		alerter:         alerter,
		interval:        interval,
		repeatAfter:     repeat,
		staleAfterHours: cfg.StaleAfterHours,
		now:             time.Now,
		lastSent:        make(map[AlertType]time.Time),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", c.interval),
		zap.Duration("repeat_after", c.repeatAfter),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.check(ctx, log)
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// check runs one evaluation and returns how many alerts were delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap := c.collector.Collect(ctx, c.staleAfterHours)

	due := c.due(c.alerter.Evaluate(snap), c.now())
	if len(due) == 0 {
		log.Debug("monitoring: nothing to send", zap.Bool("healthy", snap.Healthy()))
		return 0
	}

	if err := c.alerter.Notify(ctx, due); err != nil {
		log.Error("monitoring: failed to send alerts", zap.Int("alerts", len(due)), zap.Error(err))
		return 0
	}

	now := c.now()
	for _, a := range due {
		c.lastSent[a.Type] = now
	}
	log.Info("monitoring: alerts sent", zap.Int("alerts", len(due)))
	return len(due)
}

// due drops alerts sent within the repeat period and forgets alert types
// that are no longer active.
func (c *Checker) due(active []Alert, now time.Time) []Alert {
	firing := make(map[AlertType]bool, len(active))
	var out []Alert
	for _, a := range active {
		firing[a.Type] = true
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.repeatAfter {
			continue
		}
		out = append(out, a)
	}
	for t := range c.lastSent {
		if !firing[t] {
			delete(c.lastSent, t)
		}
	}
	return out
}

package market

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused per-user limiter is kept.
const idleLimiterTTL = time.Hour

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiters hands out one token bucket per user.
type userLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[int64]*userLimiter
	lastGC   time.Time
}

func newUserLimiters(limit rate.Limit, burst int) *userLimiters {
	return &userLimiters{
		limit:    limit,
		burst:    burst,
		limiters: make(map[int64]*userLimiter),
	}
}

// allow reports whether user may submit at now.
func (u *userLimiters) allow(user int64, now time.Time) bool {
	if u.limit == rate.Inf {
		return true
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if now.Sub(u.lastGC) > idleLimiterTTL {
		for id, l := range u.limiters {
			if now.Sub(l.lastSeen) > idleLimiterTTL {
				delete(u.limiters, id)
			}
		}
		u.lastGC = now
	}

	l, ok := u.limiters[user]
	if !ok {
		l = &userLimiter{limiter: rate.NewLimiter(u.limit, u.burst)}
		u.limiters[user] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

package hub

import (
	"sync"

	"golang.org/x/time/rate"
)

// userLimiters tracks one token bucket per user for message sends. The
// limit is per user, not per connection, so multiple devices share one
// budget. Entries are forgotten when the user's last connection goes
// away to keep the map bounded by connected users.
type userLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newUserLimiters(perSecond float64, burst int) *userLimiters {
	return &userLimiters{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// allow reports whether the user may send another message now.
func (u *userLimiters) allow(userID string) bool {
	u.mu.Lock()
	l, exists := u.limiters[userID]
	if !exists {
		l = rate.NewLimiter(u.rate, u.burst)
		u.limiters[userID] = l
	}
	u.mu.Unlock()

	return l.Allow()
}

// forget drops the user's limiter state.
func (u *userLimiters) forget(userID string) {
	u.mu.Lock()
	delete(u.limiters, userID)
	u.mu.Unlock()
}

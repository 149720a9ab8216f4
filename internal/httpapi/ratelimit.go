package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter hands out one token bucket per user: limit requests per window,
// bursting up to limit. A zero limit disables limiting.
type userLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	buckets   map[string]*userBucket
	lastSweep time.Time
	now       func() time.Time
}

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newUserLimiter(limit int, window time.Duration) *userLimiter {
	return &userLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*userBucket),
		now:     time.Now,
	}
}

func (l *userLimiter) Allow(userID string) bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	b, ok := l.buckets[userID]
	if !ok {
		every := rate.Every(l.window / time.Duration(l.limit))
		b = &userBucket{limiter: rate.NewLimiter(every, l.limit)}
		l.buckets[userID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for a full window; they would be full again anyway.
func (l *userLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.window {
			delete(l.buckets, id)
		}
	}
}

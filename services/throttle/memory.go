// Package throttle limits how often a caller may attempt an action, e.g. guessing enrolment codes.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var nowFunc = time.Now // mockable

const (
	idleAfter  = 10 * time.Minute
	pruneAbove = 1024
)

// MemoryLimiter is a token bucket per key, refilled at perMinute tokens a minute.
// Buckets are local to the process.
type MemoryLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

func NewMemoryLimiter(perMinute, burst int) *MemoryLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &MemoryLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= pruneAbove {
			l.prune(now)
		}
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	l.lastSeen[key] = now
	return b.AllowN(now, 1), nil
}

// prune drops the buckets idle long enough to be full again.
func (l *MemoryLimiter) prune(now time.Time) {
	for key, seen := range l.lastSeen {
		if now.Sub(seen) > idleAfter {
			delete(l.buckets, key)
			delete(l.lastSeen, key)
		}
	}
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

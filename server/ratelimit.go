package server

import (
	"sync"
	"time"
)

// RateLimiter throttles gps_updates per user. Telemetry is best
// effort so over-limit updates are dropped, not queued.
type RateLimiter struct {
	mu          sync.Mutex
	last        map[string]time.Time
	minInterval time.Duration
}

func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		last:        make(map[string]time.Time),
		minInterval: minInterval,
	}
}

// Allow reports whether a user may submit an update now and, if so,
// records the attempt
func (r *RateLimiter) Allow(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if last, ok := r.last[userID]; ok {
		if now.Sub(last) < r.minInterval {
			return false
		}
	}
	r.last[userID] = now
	return true
}

// Prune drops bookkeeping for users not seen since the cutoff
func (r *RateLimiter) Prune(now time.Time, age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, last := range r.last {
		if now.Sub(last) > age {
			delete(r.last, id)
		}
	}
}

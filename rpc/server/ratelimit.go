package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterMaxEntries   = 512
	limiterStaleAfter   = 10 * time.Minute
	limiterSweepBackoff = time.Minute
)

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles command routes per caller key (the remote IP, from
// callerKey) via a token bucket, grounded on
// the teacher's bounded-map-with-eviction rate limiter but backed by
// golang.org/x/time/rate instead of a hand-rolled window counter.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*callerLimiter
	sweep    time.Time

	ratePerSec float64
	burst      int
}

// NewRateLimiter builds a limiter allowing ratePerSec steady-state requests
// per caller with burst headroom.
func NewRateLimiter(ratePerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters:   make(map[string]*callerLimiter),
		ratePerSec: ratePerSec,
		burst:      burst,
	}
}

func (rl *RateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.evictLocked(now)

	cl, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= limiterMaxEntries {
			rl.evictOldestLocked()
		}
		cl = &callerLimiter{limiter: rate.NewLimiter(rate.Limit(rl.ratePerSec), rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) evictLocked(now time.Time) {
	if len(rl.limiters) == 0 {
		return
	}
	if !rl.sweep.IsZero() && now.Sub(rl.sweep) < limiterSweepBackoff && len(rl.limiters) < limiterMaxEntries {
		return
	}
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > limiterStaleAfter {
			delete(rl.limiters, key)
		}
	}
	rl.sweep = now
}

func (rl *RateLimiter) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, cl := range rl.limiters {
		if oldest.IsZero() || cl.lastSeen.Before(oldest) {
			oldest = cl.lastSeen
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(rl.limiters, oldestKey)
	}
}

// Middleware rejects requests over the per-caller rate with 429, keyed by
// remote IP via callerKey; nothing keys by bearer-token subject.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerKey(r)
		if !rl.allow(key, time.Now()) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return strings.ToLower(strings.TrimSpace(host))
}

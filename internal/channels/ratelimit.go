package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of per-thread limiters.
	maxTrackedKeys = 4096

	// limiterIdle is how long an unused limiter is kept.
	limiterIdle = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// SendLimiter paces outbound sends per conversation so a long chunked reply
// does not trip platform spam detection. Safe for concurrent use.
type SendLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*limiterEntry
	now     func() time.Time
}

// NewSendLimiter creates a limiter allowing perSecond sends with the given
// burst per key. perSecond <= 0 disables limiting.
func NewSendLimiter(perSecond float64, burst int) *SendLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &SendLimiter{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// Wait blocks until key may send or ctx is done.
func (r *SendLimiter) Wait(ctx context.Context, key string) error {
	return r.get(key).Wait(ctx)
}

// Allow reports whether key may send right now without waiting.
func (r *SendLimiter) Allow(key string) bool {
	return r.get(key).Allow()
}

func (r *SendLimiter) get(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	// Prune idle entries when approaching the cap
	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.lastUsed) >= limiterIdle {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = e
	}
	e.lastUsed = now
	return e.limiter
}

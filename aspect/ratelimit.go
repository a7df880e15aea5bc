package aspect

import (
	"fmt"
	"sync"
	"time"

	"github.com/wattframework/ampere/router"
)

// RateLimitConfig configures the token-bucket rate-limit aspect.
type RateLimitConfig struct {
	RequestsPerSecond float64                    // default 100
	Burst             int                        // default 20
	KeyFunc           func(router.Context) string // default: remote IP from X-Forwarded-For/X-Real-IP
	CleanupInterval   time.Duration              // default 1 minute
	MaxAge            time.Duration              // default 5 minutes
}

// DefaultRateLimitConfig returns the teacher's default rate-limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             20,
		KeyFunc:           defaultRateLimitKey,
		CleanupInterval:   time.Minute,
		MaxAge:            5 * time.Minute,
	}
}

func defaultRateLimitKey(ctx router.Context) string {
	if ip := ctx.Header().GetString("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := ctx.Header().GetString("X-Real-IP"); ip != "" {
		return ip
	}
	return "default"
}

// RateLimit builds a token-bucket rate-limit aspect, one bucket per key
// (by default, per client IP). A request that finds its bucket empty is
// answered 429 directly and never reaches the terminal handler.
//
// Grounded on bolt/middleware/ratelimit.go's tokenBucket/limiterStore
// (lazy per-key bucket creation via sync.Map, a ticking goroutine evicting
// buckets idle past MaxAge), carried over near verbatim since the
// algorithm doesn't depend on core.Context at all.
func RateLimit(config RateLimitConfig) Aspect {
	d := DefaultRateLimitConfig()
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = d.RequestsPerSecond
	}
	if config.Burst == 0 {
		config.Burst = d.Burst
	}
	if config.KeyFunc == nil {
		config.KeyFunc = defaultRateLimitKey
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = d.CleanupInterval
	}
	if config.MaxAge == 0 {
		config.MaxAge = d.MaxAge
	}

	store := newLimiterStore(config.RequestsPerSecond, config.Burst, config.MaxAge)
	stop := make(chan struct{})
	go store.cleanup(config.CleanupInterval, stop)

	return Aspect{
		Name: "ratelimit",
		Before: func(ctx router.Context) (bool, error) {
			limiter := store.get(config.KeyFunc(ctx))
			if limiter.allow() {
				return false, nil
			}
			r, ok := ctx.(responder)
			if !ok {
				return true, fmt.Errorf("aspect: rate limit exceeded")
			}
			retryIn := limiter.retryIn()
			resp := r.Response()
			resp.Header().Set([]byte("Retry-After"), []byte(fmt.Sprintf("%.0f", retryIn.Seconds())))
			return true, resp.WriteJSON(429, []byte(fmt.Sprintf(`{"error":"rate limit exceeded","retry_in_seconds":%.2f}`, retryIn.Seconds())))
		},
	}
}

type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiterEntry
	rate     float64
	burst    int
	maxAge   time.Duration
}

type rateLimiterEntry struct {
	bucket     *tokenBucket
	lastAccess time.Time
}

func newLimiterStore(rate float64, burst int, maxAge time.Duration) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*rateLimiterEntry),
		rate:     rate,
		burst:    burst,
		maxAge:   maxAge,
	}
}

func (ls *limiterStore) get(key string) *tokenBucket {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	e, ok := ls.limiters[key]
	if !ok {
		e = &rateLimiterEntry{bucket: newTokenBucket(ls.rate, ls.burst)}
		ls.limiters[key] = e
	}
	e.lastAccess = time.Now()
	return e.bucket
}

func (ls *limiterStore) cleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			ls.mu.Lock()
			for key, e := range ls.limiters {
				if now.Sub(e.lastAccess) > ls.maxAge {
					delete(ls.limiters, key)
				}
			}
			ls.mu.Unlock()
		}
	}
}

// tokenBucket is a classic token-bucket limiter: tokens refill continuously
// at rate per second, up to burst capacity.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

func (tb *tokenBucket) retryIn() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	needed := 1.0 - tb.tokens
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / tb.refillRate * float64(time.Second))
}

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/medrec/medrec/internal/platform/auth"
)

// Limit is a sustained rate with a burst allowance.
type Limit struct {
	RequestsPerSecond float64
	BurstSize         int
}

// RateLimitConfig holds rate limiting configuration. Routes maps echo route
// paths (as returned by c.Path()) to a limit of their own; those routes are
// counted in a separate bucket per caller.
type RateLimitConfig struct {
	Limit
	Routes map[string]Limit
	// IdleTTL drops buckets not used for this long. Zero keeps them.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:   Limit{RequestsPerSecond: 100, BurstSize: 200},
		IdleTTL: 10 * time.Minute,
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds one limiter per key and sweeps idle ones lazily.
type rateLimiterStore struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiterStore(ttl time.Duration) *rateLimiterStore {
	return &rateLimiterStore{
		buckets:   make(map[string]*bucket),
		ttl:       ttl,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (s *rateLimiterStore) get(key string, l Limit) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.ttl > 0 && now.Sub(s.lastSweep) >= s.ttl {
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) >= s.ttl {
				delete(s.buckets, k)
			}
		}
		s.lastSweep = now
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.RequestsPerSecond), l.BurstSize)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// take consumes one token. When none is available it returns the number of
// whole seconds until one will be, at least 1.
func take(lim *rate.Limiter, now time.Time) (bool, int) {
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 1
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	if lim.Limit() <= 0 {
		return false, 1
	}
	return false, max(1, int(math.Ceil(delay.Seconds())))
}

// RateLimit applies a token bucket per authenticated caller, or per client IP
// for anonymous requests. Run it after the auth middleware.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg.IdleTTL)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}
			limit := cfg.Limit
			if l, ok := cfg.Routes[c.Path()]; ok {
				limit = l
				key = c.Path() + "|" + key
			}

			lim := store.get(key, limit)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.FormatFloat(limit.RequestsPerSecond, 'f', -1, 64))

			now := store.now()
			ok, retryAfter := take(lim, now)
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, int(lim.TokensAt(now)))))
			return next(c)
		}
	}
}

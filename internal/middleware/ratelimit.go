// Package middleware provides HTTP middleware for Portcullis.
// ratelimit.go implements a per-IP token bucket limiter on top of
// golang.org/x/time/rate. Used on credential and OAuth callback endpoints.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an IP's bucket is kept after its last request.
const limiterIdleTTL = 10 * time.Minute

// ipLimiter is one client's bucket plus the last time it was used.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds the buckets for one RateLimit middleware instance.
type limiterSet struct {
	mu      sync.Mutex
	buckets map[string]*ipLimiter
	limit   rate.Limit
	burst   int
}

func newLimiterSet(maxRequests int, window time.Duration) *limiterSet {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &limiterSet{
		buckets: make(map[string]*ipLimiter),
		limit:   rate.Every(window / time.Duration(maxRequests)),
		burst:   maxRequests,
	}
}

func (s *limiterSet) get(ip string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[ip]
	if !ok {
		b = &ipLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter
}

// sweep drops buckets idle for longer than limiterIdleTTL.
func (s *limiterSet) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ip, b := range s.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(s.buckets, ip)
		}
	}
}

// RateLimit returns middleware that allows bursts of up to maxRequests per
// IP, refilled evenly over window. Returns 429 with Retry-After when a
// bucket is empty.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	set := newLimiterSet(maxRequests, window)

	// Background cleanup of idle buckets.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for now := range ticker.C {
			set.sweep(now)
		}
	}()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			r := set.get(c.RealIP(), now).ReserveN(now, 1)
			if delay := r.DelayFrom(now); delay > 0 {
				r.CancelAt(now)
				c.Response().Header().Set("Retry-After",
					strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"type":    "rate_limited",
					"message": "Rate limit exceeded. Please try again later.",
				})
			}
			return next(c)
		}
	}
}

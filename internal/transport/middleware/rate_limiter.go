// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/adiadia/activity-relay/internal/auth"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRetryAfter         = "Retry-After"

	limiterIdleTTL   = 10 * time.Minute
	limiterSweepSize = 1024
)

type rateLimitDecision struct {
	Allowed           bool
	LimitPerMinute    int
	Remaining         int
	RetryAfterSeconds int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientRateLimiter keeps one token bucket per client key.
type clientRateLimiter struct {
	mu             sync.Mutex
	limitPerMinute int
	clients        map[string]*clientLimiter
}

func newClientRateLimiter(limitPerMinute int) *clientRateLimiter {
	if limitPerMinute <= 0 {
		limitPerMinute = 1
	}
	return &clientRateLimiter{
		limitPerMinute: limitPerMinute,
		clients:        make(map[string]*clientLimiter, 32),
	}
}

func (l *clientRateLimiter) Allow(key string, now time.Time) rateLimitDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= limiterSweepSize {
			l.sweep(now)
		}
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(l.limitPerMinute)/60.0), l.limitPerMinute),
		}
		l.clients[key] = c
	}
	c.lastSeen = now

	decision := rateLimitDecision{LimitPerMinute: l.limitPerMinute}

	res := c.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); res.OK() && delay == 0 {
		decision.Allowed = true
		decision.Remaining = int(math.Floor(c.limiter.TokensAt(now)))
		return decision
	} else if res.OK() {
		res.CancelAt(now)
		decision.RetryAfterSeconds = int(math.Ceil(delay.Seconds()))
	}

	if decision.RetryAfterSeconds < 1 {
		decision.RetryAfterSeconds = 1
	}
	return decision
}

func (l *clientRateLimiter) sweep(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.clients, key)
		}
	}
}

// RateLimit limits requests per client IP. The IP comes from the request
// metadata captured earlier in the chain.
func RateLimit(limitPerMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	return rateLimitWith(newClientRateLimiter(limitPerMinute), time.Now, logger)
}

func rateLimitWith(limiter *clientRateLimiter, now func() time.Time, logger *slog.Logger) func(http.Handler) http.Handler {
	if limiter == nil {
		panic("middleware.RateLimit requires a limiter")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := auth.RequestMetaFromContext(r.Context()).IP

			decision := limiter.Allow(client, now())
			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				logger.Warn("request rate limited",
					"path", r.URL.Path,
					"client_ip", client,
				)
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

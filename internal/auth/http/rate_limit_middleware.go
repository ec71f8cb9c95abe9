package http

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	apperrors "github.com/allisson/agentbroker/internal/errors"
	"github.com/allisson/agentbroker/internal/httputil"
)

// ErrRateLimited is returned when a caller exceeds its session creation budget.
var ErrRateLimited = apperrors.WithCode(apperrors.ErrTooManyRequests, "RATE_LIMITED")

const (
	limiterIdleTTL       = time.Hour
	limiterSweepInterval = 5 * time.Minute
)

// userLimiters hands out one token bucket per user id.
type userLimiters struct {
	mu      sync.Mutex
	buckets map[string]*userBucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type userBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newUserLimiters(rps float64, burst int, now func() time.Time) *userLimiters {
	if now == nil {
		now = time.Now
	}
	return &userLimiters{
		buckets: make(map[string]*userBucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     now,
	}
}

// take consumes one token for userID. It returns zero when the request may proceed,
// otherwise how long the caller should wait. No token is consumed on rejection.
func (u *userLimiters) take(userID string) time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()
	bucket, ok := u.buckets[userID]
	if !ok {
		bucket = &userBucket{limiter: rate.NewLimiter(u.limit, u.burst)}
		u.buckets[userID] = bucket
	}
	bucket.seen = now

	reservation := bucket.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return rate.InfDuration
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return delay
	}
	return 0
}

// sweep drops buckets idle for longer than ttl and returns how many were removed.
func (u *userLimiters) sweep(ttl time.Duration) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	threshold := u.now().Add(-ttl)
	removed := 0
	for userID, bucket := range u.buckets {
		if bucket.seen.Before(threshold) {
			delete(u.buckets, userID)
			removed++
		}
	}
	return removed
}

func (u *userLimiters) len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.buckets)
}

func (u *userLimiters) sweepLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.sweep(ttl)
		}
	}
}

// retryAfterSeconds rounds a wait up to whole seconds for the Retry-After header.
func retryAfterSeconds(delay time.Duration) int {
	if delay == rate.InfDuration {
		return int(limiterIdleTTL.Seconds())
	}
	return int(math.Ceil(delay.Seconds()))
}

// RateLimitMiddleware limits how fast each caller may start sessions.
//
// MUST be used after IdentityMiddleware. Each user id gets an independent token
// bucket refilled at rps with capacity burst. Idle buckets are dropped by a sweep loop
// that stops when ctx is cancelled.
//
// Returns:
//   - 429 Too Many Requests with code RATE_LIMITED and a Retry-After header
func RateLimitMiddleware(ctx context.Context, rps float64, burst int, logger *slog.Logger) gin.HandlerFunc {
	limiters := newUserLimiters(rps, burst, nil)
	go limiters.sweepLoop(ctx, limiterSweepInterval, limiterIdleTTL)

	return rateLimitHandler(limiters, logger)
}

func rateLimitHandler(limiters *userLimiters, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c.Request.Context())
		if !ok {
			logger.Error("rate limit middleware: no caller identity in context")
			httputil.HandleErrorGin(c, authDomain.ErrUnauthenticated, logger)
			c.Abort()
			return
		}

		if delay := limiters.take(userID); delay > 0 {
			retryAfter := retryAfterSeconds(delay)
			logger.Debug("rate limit exceeded",
				slog.String("user_id", userID),
				slog.Int("retry_after", retryAfter))

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			httputil.HandleErrorGin(c, ErrRateLimited, logger)
			c.Abort()
			return
		}

		c.Next()
	}
}

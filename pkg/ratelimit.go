package pkg

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// DistributedLimiter caps calls to one chain node. A local token bucket guards this process and,
// when redis is present, a fixed-window counter shared by all replicas caps the fleet.
type DistributedLimiter struct {
	local  *rate.Limiter
	redis  *redis.Client
	key    string
	window time.Duration
	budget int64 // calls allowed per window across replicas
	logger *zap.Logger
	now    func() time.Time
}

// NewDistributedLimiter returns an unlimited limiter when ratePerSec is 0. burst defaults to
// ratePerSec and window to one second.
func NewDistributedLimiter(redisClient *redis.Client, key string, ratePerSec, burst int, window time.Duration, logger *zap.Logger) *DistributedLimiter {
	l := &DistributedLimiter{redis: redisClient, key: key, window: window, logger: logger, now: time.Now}
	if ratePerSec <= 0 {
		return l
	}
	if burst <= 0 {
		burst = ratePerSec
	}
	if l.window <= 0 {
		l.window = time.Second
	}
	l.local = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	l.budget = int64(float64(ratePerSec) * l.window.Seconds())
	if l.budget < 1 {
		l.budget = 1
	}
	return l
}

// Allow reports whether one more call may go out now. Redis errors fall back to the local bucket.
func (l *DistributedLimiter) Allow(ctx context.Context) bool {
	if l.local == nil {
		return true
	}
	if !l.local.Allow() {
		return false
	}
	if l.redis == nil {
		return true
	}

	bucket := l.key + ":" + strconv.FormatInt(l.now().UnixNano()/int64(l.window), 10)
	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, 2*l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rpc_limit_redis_unavailable", zap.String("key", l.key), zap.Error(err))
		return true
	}
	if count := incr.Val(); count > l.budget {
		l.logger.Debug("rpc_limit_fleet_budget_spent", zap.String("key", l.key), zap.Int64("count", count), zap.Int64("budget", l.budget))
		return false
	}
	return true
}

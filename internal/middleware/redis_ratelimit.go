package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/bryanwahyu/ppsec-gateway/internal/application"
)

// RedisRateLimiter shares the sliding window across gateway replicas using one
// sorted set per key, scored by request time in milliseconds. Redis errors
// fail open.
type RedisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	clock   application.Clock
	prefix  string
	limit   int
	window  time.Duration
	timeout time.Duration
}

// NewRedisRateLimiter connects to Redis and verifies the connection.
func NewRedisRateLimiter(addr, password string, db, limit int, logger *slog.Logger) (*RedisRateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return newRedisRateLimiter(client, limit, logger), nil
}

func newRedisRateLimiter(client *redis.Client, limit int, logger *slog.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:  client,
		logger:  logger,
		clock:   application.SystemClock{},
		prefix:  "ppsec:ratelimit:",
		limit:   limit,
		window:  RateWindow,
		timeout: 250 * time.Millisecond,
	}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) RateDecision {
	if rl.limit <= 0 {
		return RateDecision{Allowed: true}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rl.timeout)
	defer cancel()

	now := rl.clock.Now()
	redisKey := rl.prefix + key
	cutoff := strconv.FormatInt(now.Add(-rl.window).UnixMilli(), 10)

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := rl.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
		card = p.ZCard(ctx, redisKey)
		oldest = p.ZRangeWithScores(ctx, redisKey, 0, 0)
		return nil
	})
	if err != nil {
		rl.logRedisError("prune", err)
		return RateDecision{Allowed: true}
	}
	count := int(card.Val())
	if count >= rl.limit {
		retry := rl.window
		if z := oldest.Val(); len(z) > 0 {
			retry = time.UnixMilli(int64(z[0].Score)).Add(rl.window).Sub(now)
		}
		return RateDecision{Allowed: false, Count: count, RetryAfter: retry}
	}

	_, err = rl.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		p.PExpire(ctx, redisKey, rl.window)
		return nil
	})
	if err != nil {
		rl.logRedisError("add", err)
	}
	return RateDecision{Allowed: true, Count: count + 1}
}

func (rl *RedisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *RedisRateLimiter) logRedisError(op string, err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis rate limiter error", "op", op, "error", err)
}

// Package ratelimit 按 key 限流：Redis GCRA（多实例共享）与进程内令牌桶
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimiter 限流器
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 每 Period 允许 Rate 次，突发上限 Burst
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// PerSecond 每秒 rate 次
func PerSecond(rate, burst int) Limit {
	return Limit{Rate: rate, Period: time.Second, Burst: burst}
}

// Result 限流检查结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RedisRateLimiter 基于 redis_rate 的限流器
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(rdb)}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucketLimiter 进程内令牌桶，每个 key 独立计数
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	clock   func() time.Time
}

// NewTokenBucketLimiter clock 为 nil 时使用 time.Now
func NewTokenBucketLimiter(clock func() time.Time) *TokenBucketLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &TokenBucketLimiter{buckets: make(map[string]*bucket), clock: clock}
}

func (l *TokenBucketLimiter) Allow(_ context.Context, key string, limit Limit) (*Result, error) {
	if limit.Rate <= 0 || limit.Period <= 0 || limit.Burst <= 0 {
		return nil, fmt.Errorf("invalid limit: %+v", limit)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	capacity := float64(limit.Burst)
	refill := float64(limit.Rate) / limit.Period.Seconds()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, lastRefill: now}
		l.buckets[key] = b
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(capacity, b.tokens+elapsed*refill)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return &Result{
			Allowed:    true,
			Remaining:  int(b.tokens),
			ResetAfter: secs((capacity - b.tokens) / refill),
		}, nil
	}
	return &Result{
		Allowed:    false,
		RetryAfter: secs((1 - b.tokens) / refill),
		ResetAfter: secs((capacity - b.tokens) / refill),
	}, nil
}

func secs(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

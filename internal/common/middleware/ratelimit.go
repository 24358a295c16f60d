package middleware

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 限流器接口（供 RateLimit 中间件消费）。
type RateLimiter interface {
	Allow(ctx context.Context) bool
}

// TokenBucket 令牌桶限流器：按固定速率补充令牌，桶满即止。
// 补充是惰性的，在每次 Allow 时结算上次以来应得的令牌。
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // 每秒补充的令牌数
	lastRefill time.Time
}

// NewTokenBucket 创建令牌桶，初始为满桶。
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = capacity
	}
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow 取一个令牌；桶空时拒绝。
func (tb *TokenBucket) Allow(ctx context.Context) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

func (tb *TokenBucket) refillLocked(now time.Time) {
	earned := int64(now.Sub(tb.lastRefill).Seconds() * float64(tb.refillRate))
	if earned <= 0 {
		return
	}
	tb.tokens += earned
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

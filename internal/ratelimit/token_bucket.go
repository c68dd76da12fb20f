package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucket はキーごとにgolang.org/x/time/rateのリミッターを割り当てる。
// 定常レートとバーストで流量を制御する。
type TokenBucket struct {
	rate    rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	sweeper *sweeper
}

// NewTokenBucket はperMinute件/分の定常レートとburstのバーストを持つリミッターを生成する。
func NewTokenBucket(perMinute float64, burst int, opts ...Option) *TokenBucket {
	o := buildOptions(5*time.Minute, opts)
	idle := 2 * o.sweepInterval
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	tb := &TokenBucket{
		rate:    rate.Limit(perMinute / 60.0),
		burst:   burst,
		idleTTL: idle,
		now:     o.now,
		buckets: make(map[string]*bucket),
	}
	tb.sweeper = startSweeper(o.sweepInterval, tb.sweep)
	return tb
}

// Allow はキーのバケットからトークンを1つ消費できるかを返す。
func (tb *TokenBucket) Allow(key string) Decision {
	now := tb.now()

	tb.mu.Lock()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(tb.rate, tb.burst)}
		tb.buckets[key] = b
	}
	b.lastSeen = now
	tb.mu.Unlock()

	if b.limiter.AllowN(now, 1) {
		return Decision{Allowed: true, Remaining: int(math.Max(0, math.Floor(b.limiter.TokensAt(now))))}
	}

	// 不足分のトークンが補充されるまでの時間
	var retry time.Duration
	if tb.rate > 0 {
		missing := 1 - b.limiter.TokensAt(now)
		retry = time.Duration(missing / float64(tb.rate) * float64(time.Second))
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}
}

// Len は保持しているキー数を返す。
func (tb *TokenBucket) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}

// Stop はアイドルキー削除のバックグラウンド処理を停止する。
func (tb *TokenBucket) Stop() {
	tb.sweeper.stop()
}

func (tb *TokenBucket) sweep() {
	now := tb.now()
	tb.mu.Lock()
	defer tb.mu.Unlock()
	for key, b := range tb.buckets {
		if now.Sub(b.lastSeen) > tb.idleTTL {
			delete(tb.buckets, key)
		}
	}
}

package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow はキーごとに直近windowの間のリクエスト時刻を保持し、
// その件数がlimitに達したら拒否する。
type SlidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time

	sweeper *sweeper
}

// NewSlidingWindow はwindowあたりlimit件まで許可するリミッターを生成する。
// 停止にはStopを呼ぶこと。
func NewSlidingWindow(limit int, window time.Duration, opts ...Option) *SlidingWindow {
	o := buildOptions(window, opts)
	sw := &SlidingWindow{
		limit:  limit,
		window: window,
		now:    o.now,
		hits:   make(map[string][]time.Time),
	}
	sw.sweeper = startSweeper(o.sweepInterval, sw.sweep)
	return sw
}

// Allow はキーのリクエストを記録し、許可するかを返す。
// 拒否したリクエストは記録しない。
func (sw *SlidingWindow) Allow(key string) Decision {
	now := sw.now()

	sw.mu.Lock()
	defer sw.mu.Unlock()

	hits := sw.prune(sw.hits[key], now)

	if len(hits) >= sw.limit {
		sw.hits[key] = hits
		retry := time.Duration(0)
		if len(hits) > 0 {
			retry = hits[0].Add(sw.window).Sub(now)
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}
	}

	hits = append(hits, now)
	sw.hits[key] = hits
	return Decision{Allowed: true, Remaining: sw.limit - len(hits)}
}

// Reset はキーの記録を消去する。ログイン成功時などに使う。
func (sw *SlidingWindow) Reset(key string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	delete(sw.hits, key)
}

// Len は保持しているキー数を返す。
func (sw *SlidingWindow) Len() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.hits)
}

// Stop はアイドルキー削除のバックグラウンド処理を停止する。
func (sw *SlidingWindow) Stop() {
	sw.sweeper.stop()
}

// prune はwindowより古い時刻を取り除く。hitsは昇順。
func (sw *SlidingWindow) prune(hits []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-sw.window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (sw *SlidingWindow) sweep() {
	now := sw.now()
	sw.mu.Lock()
	defer sw.mu.Unlock()
	for key, hits := range sw.hits {
		if len(sw.prune(hits, now)) == 0 {
			delete(sw.hits, key)
		}
	}
}

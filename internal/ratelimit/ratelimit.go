// Package ratelimit はキー単位のレート制限アルゴリズムを提供する。
package ratelimit

import (
	"sync"
	"time"
)

// Decision はAllowの判定結果。
type Decision struct {
	Allowed    bool
	Remaining  int           // 現在のウィンドウで残っている許可数
	RetryAfter time.Duration // 拒否時に次の許可が見込めるまでの時間
}

// Limiter はキー（ユーザーIDやIPアドレス）単位でリクエストを許可するかを判定する。
type Limiter interface {
	Allow(key string) Decision
}

// Option はリミッターの生成オプション。
type Option func(*options)

type options struct {
	now           func() time.Time
	sweepInterval time.Duration
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSweepInterval はアイドルキーを削除する間隔を指定する。0以下で定期削除を無効にする。
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

func buildOptions(defaultSweep time.Duration, opts []Option) options {
	o := options{now: time.Now, sweepInterval: defaultSweep}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sweeper はアイドルキーを定期的に削除するバックグラウンドループ。
type sweeper struct {
	stopCh   chan struct{}
	stopOnce sync.Once
}

func startSweeper(interval time.Duration, sweep func()) *sweeper {
	s := &sweeper{stopCh: make(chan struct{})}
	if interval <= 0 {
		return s
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweep()
			case <-s.stopCh:
				return
			}
		}
	}()
	return s
}

func (s *sweeper) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

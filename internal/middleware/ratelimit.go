package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/ratelimit"
)

// KeyFunc はリクエストからレート制限のキーを取り出す。
type KeyFunc func(r *http.Request) string

// KeyByUserOrIP は認証済みならユーザーID、未認証ならクライアントIPをキーにする。
func KeyByUserOrIP(r *http.Request) string {
	if userID, err := UserIDFromContext(r.Context()); err == nil {
		return "user:" + userID
	}
	return "ip:" + ClientIP(r)
}

// KeyByIP はクライアントIPをキーにする。
func KeyByIP(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralPerMinute float64       // API全般の定常レート（req/min）
	GeneralBurst     int           // API全般のバーストサイズ
	LoginLimit       int           // ログイン・登録のウィンドウあたり上限（IP単位）
	LoginWindow      time.Duration // ログイン・登録のウィンドウ幅
	SweepInterval    time.Duration // アイドルキーの削除間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min、ログイン 5 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralPerMinute: 120,
		GeneralBurst:     120,
		LoginLimit:       5,
		LoginWindow:      time.Minute,
		SweepInterval:    5 * time.Minute,
	}
}

// RateLimiter はAPI全般とログイン系の2種類のリミッターを束ねる。
type RateLimiter struct {
	general *ratelimit.TokenBucket
	login   *ratelimit.SlidingWindow

	// OnReject は拒否時に制限種別を受け取る。nilでもよい。
	OnReject func(limitType string)
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドでアイドルキーの削除を開始するため、停止にはStopを呼ぶこと。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		general: ratelimit.NewTokenBucket(config.GeneralPerMinute, config.GeneralBurst,
			ratelimit.WithSweepInterval(config.SweepInterval)),
		login: ratelimit.NewSlidingWindow(config.LoginLimit, config.LoginWindow,
			ratelimit.WithSweepInterval(config.SweepInterval)),
	}
}

// Stop はバックグラウンド処理を停止する。
func (rl *RateLimiter) Stop() {
	rl.general.Stop()
	rl.login.Stop()
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// SessionMiddlewareの後に配置するとユーザー単位で制限する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.Middleware(rl.general, KeyByUserOrIP, "general")
}

// LoginMiddleware はログイン・登録用のIP単位のレート制限ミドルウェアを返す。
func (rl *RateLimiter) LoginMiddleware() func(next http.Handler) http.Handler {
	return rl.Middleware(rl.login, KeyByIP, "login")
}

// Middleware は任意のリミッターとキー関数でレート制限するミドルウェアを返す。
func (rl *RateLimiter) Middleware(limiter ratelimit.Limiter, keyFn KeyFunc, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			d := limiter.Allow(key)

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				slog.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.String("limit_type", limitType),
				)
				if rl.OnReject != nil {
					rl.OnReject(limitType)
				}
				writeRateLimitResponse(w, d.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterは切り上げた秒数で、最低1秒。
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSec := int(math.Ceil(retryAfter.Seconds()))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitError())
}

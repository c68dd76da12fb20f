// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/shipkit/internal/model"
)

// SessionCookieName はセッションIDを保持するHttpOnly Cookieの名前。
const SessionCookieName = "session_id"

// CurrentUserLoader はセッションIDからユーザーを解決するインターフェース。
// auth.Serviceが満たす。
type CurrentUserLoader interface {
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// SessionConfig はセッションミドルウェアの設定。
type SessionConfig struct {
	// SkipPaths は認証なしで通過させるパス。"/"で終わるものは前方一致、それ以外は完全一致。
	SkipPaths []string
	// LoginPath はHTML要求時のリダイレクト先。空の場合は/auth/login。
	LoginPath string
	// Optional がtrueの場合、有効なセッションがあればコンテキストに注入し、なくても拒否しない。
	Optional bool
}

// DefaultSkipPaths は認証不要なパスの既定値。
func DefaultSkipPaths() []string {
	return []string{"/auth/", "/health", "/metrics", "/static/", "/api/csrf-token"}
}

// NewSessionMiddleware はsession_id Cookieからユーザーを解決し、
// ユーザーIDとユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証の場合、HTMLを受け付けるリクエストはログインページへ303でリダイレクトし、
// それ以外には401 JSONを返す。
func NewSessionMiddleware(loader CurrentUserLoader, cfg SessionConfig) func(next http.Handler) http.Handler {
	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = "/auth/login"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := loadUser(r, loader)
			if user != nil {
				next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
				return
			}

			if cfg.Optional || isSkipped(r.URL.Path, cfg.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			rejectUnauthenticated(w, r, loginPath)
		})
	}
}

func loadUser(r *http.Request, loader CurrentUserLoader) *model.User {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	user, err := loader.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		slog.Debug("session rejected",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return user
}

func isSkipped(path string, skip []string) bool {
	for _, p := range skip {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
		} else if path == p {
			return true
		}
	}
	return false
}

// rejectUnauthenticated はHTML要求にはリダイレクト、それ以外には401を返す。
func rejectUnauthenticated(w http.ResponseWriter, r *http.Request, loginPath string) {
	if wantsHTML(r) {
		target := loginPath
		if r.Method == http.MethodGet {
			target += "?next=" + url.QueryEscape(r.URL.RequestURI())
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

// wantsHTML はブラウザからのページ遷移とみなせるリクエストかを判定する。
func wantsHTML(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

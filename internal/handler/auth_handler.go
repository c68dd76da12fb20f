package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/shipkit/internal/audit"
	"github.com/hitoshi/shipkit/internal/auth"
	"github.com/hitoshi/shipkit/internal/middleware"
	"github.com/hitoshi/shipkit/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	Login(ctx context.Context, login, password string) (*model.Session, *model.User, error)
	Logout(ctx context.Context, sessionID string) error
	VerifyEmail(ctx context.Context, token string) (*model.User, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) (*model.User, error)
}

// AuditRecorder はリクエスト単位の監査ログ記録インターフェース。audit.Serviceが満たす。
type AuditRecorder interface {
	Record(ctx context.Context, r *http.Request, action, resourceType, resourceID string, details any) error
}

// LoginRecorder はログイン試行の結果を記録する。
type LoginRecorder interface {
	RecordLoginAttempt(result string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はアカウント登録・ログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	audit   AuditRecorder
	metrics LoginRecorder
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。metricsはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, auditor AuditRecorder, metrics LoginRecorder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		audit:   auditor,
		metrics: metrics,
		config:  config,
	}
}

// userResponse はユーザー情報のJSON表現。パスワードハッシュは含めない。
type userResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username"`
	Role          model.Role `json:"role"`
	EmailVerified bool       `json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		LastLoginAt:   u.LastLoginAt,
	}
}

// Register はユーザーを登録し、そのままログイン状態にする。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:    in["email"],
		Username: in["username"],
		Password: in["password"],
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.record(middleware.ContextWithUserID(r.Context(), user.ID), r, audit.ActionSignup, user.ID, nil)

	session, _, err := h.service.Login(r.Context(), user.Email, in["password"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.setSessionCookie(w, session.ID)

	if !isJSONRequest(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Login はメールアドレスまたはユーザー名とパスワードで認証し、セッションCookieを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	login := firstNonEmpty(in["login"], in["email"], in["username"])
	session, user, err := h.service.Login(r.Context(), login, in["password"])
	if err != nil {
		// 認証情報の誤りだけをログイン失敗として数える。DB障害などは500のエラーログに任せる
		if isInvalidCredentials(err) {
			h.recordLoginAttempt("failure")
			h.record(r.Context(), r, audit.ActionLoginFailed, "", map[string]string{"login": login})
		}
		handleServiceError(w, err)
		return
	}
	h.recordLoginAttempt("success")
	h.record(middleware.ContextWithUserID(r.Context(), user.ID), r, audit.ActionLogin, user.ID, nil)

	h.setSessionCookie(w, session.ID)

	if !isJSONRequest(r) {
		next := safeRedirectTarget(firstNonEmpty(in["next"], r.URL.Query().Get("next")))
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
		h.record(r.Context(), r, audit.ActionLogout, "", nil)
	}

	h.clearSessionCookie(w)
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// VerifyEmail はメール確認トークンを検証する。
// POST /auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.service.VerifyEmail(r.Context(), in["token"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// RequestPasswordReset はパスワードリセットを受け付ける。
// アドレスの登録有無に関わらず常に202を返す。
// POST /auth/password-reset/request
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	email := strings.ToLower(strings.TrimSpace(in["email"]))
	if _, err := h.service.RequestPasswordReset(r.Context(), email); err != nil {
		slog.Error("failed to request password reset", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ConfirmPasswordReset はトークンを検証して新しいパスワードを設定する。
// POST /auth/password-reset/confirm
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	in, err := readInput(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	user, err := h.service.ResetPassword(r.Context(), in["token"], in["password"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.record(middleware.ContextWithUserID(r.Context(), user.ID), r, audit.ActionPasswordReset, user.ID, nil)

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) record(ctx context.Context, r *http.Request, action, userID string, details any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, r, action, "user", userID, details); err != nil {
		slog.Error("failed to record audit log",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

func (h *AuthHandler) recordLoginAttempt(result string) {
	if h.metrics != nil {
		h.metrics.RecordLoginAttempt(result)
	}
}

// safeRedirectTarget はサイト内の相対パスのみ許可する。それ以外は"/"を返す。
func safeRedirectTarget(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") {
		return "/"
	}
	// "//host" や "/\host" はブラウザが外部URLとして解釈する
	if strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isInvalidCredentials(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidCredentials
}

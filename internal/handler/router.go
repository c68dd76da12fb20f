package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shipkit/internal/export"
	"github.com/hitoshi/shipkit/internal/middleware"
	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/permission"
	"github.com/hitoshi/shipkit/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HSTS              bool
	CORSAllowedOrigin string
	TrustProxy        bool // X-Forwarded-Forをクライアントアドレスとして信頼する
	CSRF              middleware.CSRFConfig
	UserLoader        middleware.CurrentUserLoader
	Permissions       middleware.PermissionChecker
	RateLimiter       *middleware.RateLimiter
	StatusObserver    middleware.StatusObserver // nilでもよい

	// 運用
	DB             repository.HealthChecker
	MetricsHandler http.Handler // nilの場合 /metrics は公開しない

	// 認証
	AuthService   AuthServiceInterface
	AuthConfig    AuthHandlerConfig
	LoginRecorder LoginRecorder

	// 監査ログ
	Auditor      AuditRecorder
	AuditService AuditServiceInterface

	// 機能フラグ
	FlagService FlagServiceInterface

	// 管理画面とエクスポート
	AdminService   AdminServiceInterface
	ExportService  ExportServiceInterface
	ObjectStore    export.ObjectStore // nilの場合 delivery=s3 は使えない
	ExportRecorder ExportRecorder
	ExportConfig   ExportHandlerConfig
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	ClientIP → Recovery → SecurityHeaders → Logging → CORS → CSRF → Session → RateLimit / RequirePermission
//
// Sessionは全ルートに掛け、/auth/ や /health などはスキップリストで未認証のまま通す。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewClientIPMiddleware(deps.TrustProxy))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
	r.Use(middleware.NewSessionMiddleware(deps.UserLoader, middleware.SessionConfig{
		SkipPaths: middleware.DefaultSkipPaths(),
	}))

	authHandler := NewAuthHandler(deps.AuthService, deps.Auditor, deps.LoginRecorder, deps.AuthConfig)
	flagHandler := NewFlagHandler(deps.FlagService, deps.Auditor)
	auditHandler := NewAuditHandler(deps.AuditService)
	adminHandler := NewAdminHandler(deps.AdminService)
	exportHandler := NewExportHandler(deps.ExportService, deps.ObjectStore, deps.Auditor, deps.ExportRecorder, deps.ExportConfig)

	// --- 認証不要のルート ---
	r.Get("/health", HealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	r.Route("/auth", func(r chi.Router) {
		// 登録・ログイン系はIP単位のスライディングウィンドウで制限する
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/password-reset/request", authHandler.RequestPasswordReset)
			r.Post("/password-reset/confirm", authHandler.ConfirmPasswordReset)
		})

		r.Post("/logout", authHandler.Logout)
		r.Post("/verify-email", authHandler.VerifyEmail)
		r.With(middleware.RequireAuth()).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/flags", flagHandler.Evaluations)
		r.Get("/flags/{name}", flagHandler.Evaluate)

		r.Route("/admin/flags", func(r chi.Router) {
			r.Use(middleware.RequirePermission(deps.Permissions, permission.FlagsManage))
			r.Get("/", flagHandler.List)
			r.Get("/{name}", flagHandler.Get)
			r.Put("/{name}", flagHandler.Put)
			r.Delete("/{name}", flagHandler.Delete)
		})

		r.With(middleware.RequirePermission(deps.Permissions, permission.AuditRead)).
			Get("/admin/audit", auditHandler.List)

		r.With(middleware.RequirePermission(deps.Permissions, permission.DataExport)).
			Get("/data/{resource}", exportHandler.Export)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.RequirePermission(deps.Permissions, permission.AdminAccess))

		r.Get("/", adminHandler.Dashboard)
		r.Route("/{resource}", func(r chi.Router) {
			r.Use(requireUsersManage(deps.Permissions))
			r.Get("/", adminHandler.List)
			r.Post("/", adminHandler.Create)
			r.Post("/bulk-delete", adminHandler.BulkDelete)
			r.Get("/{id}", adminHandler.Get)
			r.Put("/{id}", adminHandler.Update)
			r.Delete("/{id}", adminHandler.Delete)
		})
	})

	return r
}

// requireUsersManage はusersリソースへの変更にusers:manage権限を追加で要求する。
func requireUsersManage(checker middleware.PermissionChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "resource") != "users" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			user := middleware.UserFromContext(r.Context())
			if !checker.HasPermission(user, permission.UsersManage) {
				middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(permission.UsersManage))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/permission"
)

// PermissionChecker はユーザーが権限を持つかを判定する。permission.Registryが満たす。
type PermissionChecker interface {
	HasPermission(user *model.User, perm string) bool
}

// RequireAuth は認証済みユーザーのみ通過させる。
func RequireAuth() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserFromContext(r.Context()) == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole は指定ロール以上のユーザーのみ通過させる。
func RequireRole(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !permission.CheckRoleHierarchy(user.Role, role) {
				slog.Warn("role check failed",
					slog.String("user_id", user.ID),
					slog.String("role", string(user.Role)),
					slog.String("required", string(role)),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(string(role)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission は指定権限を持つユーザーのみ通過させる。
func RequirePermission(checker PermissionChecker, perm string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !checker.HasPermission(user, perm) {
				slog.Warn("permission check failed",
					slog.String("user_id", user.ID),
					slog.String("permission", perm),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

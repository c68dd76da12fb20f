package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/permission"
)

func serveWithUser(h http.Handler, user *model.User) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if user != nil {
		req = req.WithContext(ContextWithUser(req.Context(), user))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireAuth(t *testing.T) {
	h := RequireAuth()(okHandler)

	if w := serveWithUser(h, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", w.Code)
	}
	if w := serveWithUser(h, &model.User{ID: "u", Role: model.RoleUser}); w.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(model.RoleModerator)(okHandler)

	tests := []struct {
		name string
		user *model.User
		want int
	}{
		{"未認証", nil, http.StatusUnauthorized},
		{"user", &model.User{ID: "u", Role: model.RoleUser}, http.StatusForbidden},
		{"moderator", &model.User{ID: "m", Role: model.RoleModerator}, http.StatusOK},
		{"admin", &model.User{ID: "a", Role: model.RoleAdmin}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveWithUser(h, tt.user)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusForbidden {
				if body := decodeErrorBody(t, w); body.Code != model.ErrCodeForbidden {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeForbidden)
				}
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	reg := permission.NewRegistry()
	h := RequirePermission(reg, permission.AuditRead)(okHandler)

	if w := serveWithUser(h, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", w.Code)
	}
	if w := serveWithUser(h, &model.User{ID: "u", Role: model.RoleUser}); w.Code != http.StatusForbidden {
		t.Errorf("user status = %d, want 403", w.Code)
	}
	if w := serveWithUser(h, &model.User{ID: "m", Role: model.RoleModerator}); w.Code != http.StatusOK {
		t.Errorf("moderator status = %d, want 200", w.Code)
	}
}

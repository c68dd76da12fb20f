package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/hitoshi/shipkit/internal/admin"
	"github.com/hitoshi/shipkit/internal/middleware"
	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/repository"
)

func TestAdminHandler_List_PassesParams(t *testing.T) {
	var gotName string
	var gotParams admin.ListParams
	svc := &mockAdminService{
		listFn: func(ctx context.Context, name string, p admin.ListParams) (*admin.Page, error) {
			gotName, gotParams = name, p
			return &admin.Page{Items: []repository.Record{{"id": "t1", "name": "core"}}, Total: 1, Page: 2, PerPage: 10, TotalPages: 1}, nil
		},
	}
	h := NewAdminHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/admin/teams?page=2&per_page=10&q=core&sort=-name", nil)
	req = withURLParams(req, map[string]string{"resource": "teams"})
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	want := admin.ListParams{Page: 2, PerPage: 10, Query: "core", Sort: "-name"}
	if gotName != "teams" || gotParams != want {
		t.Errorf("List(%q, %+v), want (teams, %+v)", gotName, gotParams, want)
	}
	if !strings.Contains(w.Body.String(), `"total_pages":1`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAdminHandler_List_UnknownResource(t *testing.T) {
	svc := &mockAdminService{
		listFn: func(ctx context.Context, name string, p admin.ListParams) (*admin.Page, error) {
			return nil, model.NewResourceNotFoundError(name)
		},
	}
	h := NewAdminHandler(svc)

	req := withURLParams(httptest.NewRequest(http.MethodGet, "/admin/nope", nil), map[string]string{"resource": "nope"})
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAdminHandler_Create_CarriesActorToService(t *testing.T) {
	user := testUser(model.RoleAdmin)
	var gotRaw map[string]string
	var gotActor string
	svc := &mockAdminService{
		createFn: func(ctx context.Context, name string, raw map[string]string) (repository.Record, error) {
			gotRaw = raw
			gotActor, _ = middleware.UserIDFromContext(ctx)
			return repository.Record{"id": "t1", "name": raw["name"]}, nil
		},
	}
	h := NewAdminHandler(svc)

	form := url.Values{"name": {"core"}, "csrf_token": {"tok"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/teams", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(middleware.ContextWithUser(req.Context(), user))
	req = withURLParams(req, map[string]string{"resource": "teams"})
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if !reflect.DeepEqual(gotRaw, map[string]string{"name": "core"}) {
		t.Errorf("raw = %v", gotRaw)
	}
	if gotActor != user.ID {
		t.Errorf("actor = %q, want %q", gotActor, user.ID)
	}
}

func TestAdminHandler_Create_ReadOnly(t *testing.T) {
	svc := &mockAdminService{
		createFn: func(ctx context.Context, name string, raw map[string]string) (repository.Record, error) {
			return nil, model.NewReadOnlyResourceError(name)
		},
	}
	h := NewAdminHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/admin/audit_log", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req = withURLParams(req, map[string]string{"resource": "audit_log"})
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestAdminHandler_Update_Validation(t *testing.T) {
	svc := &mockAdminService{
		updateFn: func(ctx context.Context, name, id string, raw map[string]string) (repository.Record, error) {
			return nil, model.NewValidationError([]model.FieldError{{Field: "email", Message: "メールアドレスの形式が正しくありません。"}})
		},
	}
	h := NewAdminHandler(svc)

	req := httptest.NewRequest(http.MethodPut, "/admin/users/x", strings.NewReader(`{"email":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withURLParams(req, map[string]string{"resource": "users", "id": "x"})
	w := httptest.NewRecorder()
	h.Update(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"field":"email"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAdminHandler_Delete(t *testing.T) {
	var gotID string
	svc := &mockAdminService{
		deleteFn: func(ctx context.Context, name, id string) error {
			gotID = id
			return nil
		},
	}
	h := NewAdminHandler(svc)

	req := withURLParams(httptest.NewRequest(http.MethodDelete, "/admin/teams/t1", nil), map[string]string{"resource": "teams", "id": "t1"})
	w := httptest.NewRecorder()
	h.Delete(w, req)

	if w.Code != http.StatusNoContent || gotID != "t1" {
		t.Errorf("status = %d, id = %q", w.Code, gotID)
	}
}

func TestAdminHandler_BulkDelete(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        []string
	}{
		{"JSON", "application/json", `{"ids":["a","b"]}`, []string{"a", "b"}},
		{"フォームの複数値", "application/x-www-form-urlencoded", "ids=a&ids=b", []string{"a", "b"}},
		{"カンマ区切り", "application/x-www-form-urlencoded", "ids=a%2Cb%2Cc", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotIDs []string
			svc := &mockAdminService{
				bulkDeleteFn: func(ctx context.Context, name string, ids []string) (int64, error) {
					gotIDs = ids
					return int64(len(ids)), nil
				},
			}
			h := NewAdminHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/admin/teams/bulk-delete", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			req = withURLParams(req, map[string]string{"resource": "teams"})
			w := httptest.NewRecorder()
			h.BulkDelete(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if !reflect.DeepEqual(gotIDs, tt.want) {
				t.Errorf("ids = %v, want %v", gotIDs, tt.want)
			}
		})
	}
}

func TestAdminHandler_Dashboard(t *testing.T) {
	svc := &mockAdminService{
		dashboardFn: func(ctx context.Context) (*admin.Dashboard, error) {
			return &admin.Dashboard{
				Counts:         []admin.ResourceCount{{Name: "users", Label: "ユーザー", Count: 3}},
				RecentActivity: []*model.AuditEntry{{ID: "e1", Action: "admin.update"}},
			}, nil
		},
	}
	h := NewAdminHandler(svc)

	w := httptest.NewRecorder()
	h.Dashboard(w, httptest.NewRequest(http.MethodGet, "/admin", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"count":3`) || !strings.Contains(body, `"action":"admin.update"`) {
		t.Errorf("body = %s", body)
	}
}

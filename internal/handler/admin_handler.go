package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shipkit/internal/admin"
	"github.com/hitoshi/shipkit/internal/audit"
	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/repository"
)

// AdminServiceInterface は管理画面ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	List(ctx context.Context, name string, p admin.ListParams) (*admin.Page, error)
	Get(ctx context.Context, name, id string) (repository.Record, error)
	Create(ctx context.Context, name string, raw map[string]string) (repository.Record, error)
	Update(ctx context.Context, name, id string, raw map[string]string) (repository.Record, error)
	Delete(ctx context.Context, name, id string) error
	BulkDelete(ctx context.Context, name string, ids []string) (int64, error)
	Dashboard(ctx context.Context) (*admin.Dashboard, error)
}

// AdminHandler は汎用管理画面のHTTPハンドラー。
// 変更系はaudit.ContextWithRequestでクライアント情報を載せたコンテキストでサービスを呼ぶ。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

type dashboardResponse struct {
	Counts         []admin.ResourceCount `json:"counts"`
	RecentActivity []auditEntryResponse  `json:"recent_activity"`
}

// Dashboard はリソースごとの件数と直近の操作履歴を返す。
// GET /admin
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := dashboardResponse{
		Counts:         d.Counts,
		RecentActivity: make([]auditEntryResponse, 0, len(d.RecentActivity)),
	}
	for _, e := range d.RecentActivity {
		resp.RecentActivity = append(resp.RecentActivity, auditEntryResponse{
			ID:           e.ID,
			UserID:       e.UserID,
			Action:       e.Action,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			CreatedAt:    e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// List はリソースの一覧をページ単位で返す。
// GET /admin/{resource}?page=&per_page=&q=&sort=
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.service.List(r.Context(), chi.URLParam(r, "resource"), admin.ListParams{
		Page:    atoiOrZero(q.Get("page")),
		PerPage: atoiOrZero(q.Get("per_page")),
		Query:   q.Get("q"),
		Sort:    q.Get("sort"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Get はレコードを1件返す。
// GET /admin/{resource}/{id}
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "resource"), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Create はレコードを作成する。
// POST /admin/{resource}
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	raw, err := readInput(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	rec, err := h.service.Create(audit.ContextWithRequest(r), chi.URLParam(r, "resource"), raw)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Update は送信されたフィールドのみ更新する。
// PUT /admin/{resource}/{id}
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	raw, err := readInput(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	rec, err := h.service.Update(audit.ContextWithRequest(r), chi.URLParam(r, "resource"), chi.URLParam(r, "id"), raw)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete はレコードを削除する。
// DELETE /admin/{resource}/{id}
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(audit.ContextWithRequest(r), chi.URLParam(r, "resource"), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BulkDelete は複数のレコードをまとめて削除する。
// JSONの {"ids": [...]} またはフォームの複数ids値を受け付ける。
// POST /admin/{resource}/bulk-delete
func (h *AdminHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	ids, err := readIDs(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	deleted, err := h.service.BulkDelete(audit.ContextWithRequest(r), chi.URLParam(r, "resource"), ids)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func readIDs(w http.ResponseWriter, r *http.Request) ([]string, error) {
	if isJSONRequest(r) {
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			return nil, err
		}
		return body.IDs, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		return nil, model.NewInvalidRequestError()
	}
	var ids []string
	for _, v := range r.PostForm["ids"] {
		// "a,b,c" 形式もまとめて受け付ける
		ids = append(ids, strings.Split(v, ",")...)
	}
	return ids, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shipkit/internal/audit"
	"github.com/hitoshi/shipkit/internal/middleware"
	"github.com/hitoshi/shipkit/internal/model"
)

// FlagServiceInterface はフラグハンドラーが必要とするサービスインターフェース。
type FlagServiceInterface interface {
	IsEnabled(ctx context.Context, name string, user *model.User) bool
	EnabledFor(ctx context.Context, user *model.User) (map[string]bool, error)
	List(ctx context.Context) ([]*model.FeatureFlag, error)
	Get(ctx context.Context, name string) (*model.FeatureFlag, error)
	Upsert(ctx context.Context, flag *model.FeatureFlag) error
	Delete(ctx context.Context, name string) error
}

// FlagHandler は機能フラグの評価と管理のHTTPハンドラー。
type FlagHandler struct {
	service FlagServiceInterface
	audit   AuditRecorder
}

// NewFlagHandler はFlagHandlerを生成する。
func NewFlagHandler(service FlagServiceInterface, auditor AuditRecorder) *FlagHandler {
	return &FlagHandler{service: service, audit: auditor}
}

type flagResponse struct {
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Enabled           bool      `json:"enabled"`
	RolloutPercentage int       `json:"rollout_percentage"`
	AllowedUsers      []string  `json:"allowed_users"`
	AllowedRoles      []string  `json:"allowed_roles"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toFlagResponse(f *model.FeatureFlag) flagResponse {
	resp := flagResponse{
		Name:              f.Name,
		Description:       f.Description,
		Enabled:           f.Enabled,
		RolloutPercentage: f.RolloutPercentage,
		AllowedUsers:      f.AllowedUsers,
		AllowedRoles:      f.AllowedRoles,
		UpdatedAt:         f.UpdatedAt,
	}
	if resp.AllowedUsers == nil {
		resp.AllowedUsers = []string{}
	}
	if resp.AllowedRoles == nil {
		resp.AllowedRoles = []string{}
	}
	return resp
}

// flagRequest はPUTボディ。nameはURLパスから取る。
type flagRequest struct {
	Description       string   `json:"description"`
	Enabled           bool     `json:"enabled"`
	RolloutPercentage int      `json:"rollout_percentage"`
	AllowedUsers      []string `json:"allowed_users"`
	AllowedRoles      []string `json:"allowed_roles"`
}

// Evaluations は現在のユーザーに対する全フラグの評価結果を返す。
// GET /api/flags
func (h *FlagHandler) Evaluations(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.EnabledFor(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Evaluate は現在のユーザーに対する単一フラグの評価結果を返す。
// 未定義のフラグは無効として扱う。
// GET /api/flags/{name}
func (h *FlagHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	enabled := h.service.IsEnabled(r.Context(), name, middleware.UserFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"enabled": enabled,
	})
}

// List は全フラグを返す。
// GET /api/admin/flags
func (h *FlagHandler) List(w http.ResponseWriter, r *http.Request) {
	flags, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]flagResponse, 0, len(flags))
	for _, f := range flags {
		resp = append(resp, toFlagResponse(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は指定フラグを返す。
// GET /api/admin/flags/{name}
func (h *FlagHandler) Get(w http.ResponseWriter, r *http.Request) {
	flag, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlagResponse(flag))
}

// Put はフラグを作成または更新する。
// PUT /api/admin/flags/{name}
func (h *FlagHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	flag := &model.FeatureFlag{
		Name:              chi.URLParam(r, "name"),
		Description:       req.Description,
		Enabled:           req.Enabled,
		RolloutPercentage: req.RolloutPercentage,
		AllowedUsers:      req.AllowedUsers,
		AllowedRoles:      req.AllowedRoles,
	}
	if err := h.service.Upsert(r.Context(), flag); err != nil {
		handleServiceError(w, err)
		return
	}
	h.record(r, audit.ActionFlagUpsert, flag.Name, map[string]any{
		"enabled":            flag.Enabled,
		"rollout_percentage": flag.RolloutPercentage,
	})

	saved, err := h.service.Get(r.Context(), flag.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlagResponse(saved))
}

// Delete はフラグを削除する。
// DELETE /api/admin/flags/{name}
func (h *FlagHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.service.Delete(r.Context(), name); err != nil {
		handleServiceError(w, err)
		return
	}
	h.record(r, audit.ActionFlagDelete, name, nil)

	w.WriteHeader(http.StatusNoContent)
}

func (h *FlagHandler) record(r *http.Request, action, name string, details any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(r.Context(), r, action, "feature_flag", name, details); err != nil {
		slog.Error("failed to record audit log",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

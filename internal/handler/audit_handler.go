package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/shipkit/internal/model"
)

// AuditServiceInterface は監査ログ閲覧ハンドラーが必要とするサービスインターフェース。
type AuditServiceInterface interface {
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
}

// AuditHandler は監査ログ閲覧のHTTPハンドラー。
type AuditHandler struct {
	service AuditServiceInterface
}

// NewAuditHandler はAuditHandlerを生成する。
func NewAuditHandler(service AuditServiceInterface) *AuditHandler {
	return &AuditHandler{service: service}
}

type auditEntryResponse struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	IPAddress    string          `json:"ip_address,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// List はクエリパラメータの条件で監査ログを新しい順に返す。
// GET /api/admin/audit?user_id=&action=&resource_type=&since=&until=&limit=&offset=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, fieldErrs := parseAuditFilter(r)
	if len(fieldErrs) > 0 {
		handleServiceError(w, model.NewValidationError(fieldErrs))
		return
	}

	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, auditEntryResponse{
			ID:           e.ID,
			UserID:       e.UserID,
			Action:       e.Action,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Details:      e.Details,
			IPAddress:    e.IPAddress,
			UserAgent:    e.UserAgent,
			CreatedAt:    e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseAuditFilter(r *http.Request) (model.AuditFilter, []model.FieldError) {
	q := r.URL.Query()
	filter := model.AuditFilter{
		UserID:       q.Get("user_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
	}

	var fieldErrs []model.FieldError
	parseTime := func(field string, dst *time.Time) {
		v := q.Get(field)
		if v == "" {
			return
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fieldErrs = append(fieldErrs, model.FieldError{Field: field, Message: "RFC3339形式で指定してください。"})
			return
		}
		*dst = t
	}
	parseInt := func(field string, dst *int) {
		v := q.Get(field)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fieldErrs = append(fieldErrs, model.FieldError{Field: field, Message: "0以上の整数で指定してください。"})
			return
		}
		*dst = n
	}

	parseTime("since", &filter.Since)
	parseTime("until", &filter.Until)
	parseInt("limit", &filter.Limit)
	parseInt("offset", &filter.Offset)
	return filter, fieldErrs
}

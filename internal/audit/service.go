// Package audit は操作の監査ログの記録と検索を提供する。
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/shipkit/internal/middleware"
	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/repository"
)

// 記録するアクション名。
const (
	ActionLogin           = "auth.login"
	ActionLoginFailed     = "auth.login_failed"
	ActionLogout          = "auth.logout"
	ActionSignup          = "auth.signup"
	ActionPasswordReset   = "auth.password_reset"
	ActionAdminCreate     = "admin.create"
	ActionAdminUpdate     = "admin.update"
	ActionAdminDelete     = "admin.delete"
	ActionAdminBulkDelete = "admin.bulk_delete"
	ActionFlagUpsert      = "flag.upsert"
	ActionFlagDelete      = "flag.delete"
	ActionDataExport      = "data.export"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxUserAgentLen  = 512
)

// Service は監査ログの記録と検索を提供する。
type Service struct {
	repo repository.AuditRepository
	now  func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Log はエントリを永続化する。IDと日時が未設定なら補完する。
// 失敗はログに残した上で返す。
func (s *Service) Log(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		slog.Error("failed to write audit log",
			slog.String("action", entry.Action),
			slog.String("resource_type", entry.ResourceType),
			slog.String("resource_id", entry.ResourceID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

type clientInfoKey struct{}

type clientInfo struct {
	ip        string
	userAgent string
}

// ContextWithRequest はリクエストのIPアドレスとUser-Agentをコンテキストに載せる。
// HTTPリクエストを受け取らないサービス層からRecordContextで記録するために使う。
func ContextWithRequest(r *http.Request) context.Context {
	return context.WithValue(r.Context(), clientInfoKey{}, clientInfo{
		ip:        middleware.ClientIP(r),
		userAgent: truncate(r.UserAgent(), maxUserAgentLen),
	})
}

// Record はリクエストからユーザーID、IPアドレス、User-Agentを補完して記録する。
// detailsはJSONに変換できる任意の値で、nilでもよい。
func (s *Service) Record(ctx context.Context, r *http.Request, action, resourceType, resourceID string, details any) error {
	if r != nil {
		ctx = context.WithValue(ctx, clientInfoKey{}, clientInfo{
			ip:        middleware.ClientIP(r),
			userAgent: truncate(r.UserAgent(), maxUserAgentLen),
		})
		if userID, err := middleware.UserIDFromContext(r.Context()); err == nil {
			ctx = middleware.ContextWithUserID(ctx, userID)
		}
	}
	return s.RecordContext(ctx, action, resourceType, resourceID, details)
}

// RecordContext はコンテキストのユーザーIDとクライアント情報を使って記録する。
func (s *Service) RecordContext(ctx context.Context, action, resourceType, resourceID string, details any) error {
	entry := &model.AuditEntry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}

	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		entry.Details = raw
	}

	if userID, err := middleware.UserIDFromContext(ctx); err == nil {
		entry.UserID = userID
	}
	if info, ok := ctx.Value(clientInfoKey{}).(clientInfo); ok {
		entry.IPAddress = info.ip
		entry.UserAgent = info.userAgent
	}

	return s.Log(ctx, entry)
}

// List はフィルタ条件に合致するエントリを新しい順に返す。
// Limitは未指定で50、上限500。
func (s *Service) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	return entries, nil
}

// Purge はolderThanより古いエントリを削除し、削除件数を返す。
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("retention must be positive: %v", olderThan)
	}

	deleted, err := s.repo.DeleteOlderThan(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit log: %w", err)
	}
	return deleted, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package handler

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/shipkit/internal/admin"
	"github.com/hitoshi/shipkit/internal/auth"
	"github.com/hitoshi/shipkit/internal/middleware"
	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/repository"
)

// --- 認証サービス ---

type mockAuthService struct {
	registerFn             func(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	loginFn                func(ctx context.Context, login, password string) (*model.Session, *model.User, error)
	logoutFn               func(ctx context.Context, sessionID string) error
	verifyEmailFn          func(ctx context.Context, token string) (*model.User, error)
	requestPasswordResetFn func(ctx context.Context, email string) (string, error)
	resetPasswordFn        func(ctx context.Context, token, newPassword string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*model.User, error) {
	return m.registerFn(ctx, in)
}

func (m *mockAuthService) Login(ctx context.Context, login, password string) (*model.Session, *model.User, error) {
	return m.loginFn(ctx, login, password)
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn == nil {
		return nil
	}
	return m.logoutFn(ctx, sessionID)
}

func (m *mockAuthService) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	return m.verifyEmailFn(ctx, token)
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	return m.requestPasswordResetFn(ctx, email)
}

func (m *mockAuthService) ResetPassword(ctx context.Context, token, newPassword string) (*model.User, error) {
	return m.resetPasswordFn(ctx, token, newPassword)
}

// --- 監査ログ ---

type recordedAudit struct {
	action       string
	resourceType string
	resourceID   string
	userID       string
	details      any
}

type mockAuditRecorder struct {
	mu      sync.Mutex
	entries []recordedAudit
}

func (m *mockAuditRecorder) Record(ctx context.Context, r *http.Request, action, resourceType, resourceID string, details any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, _ := middleware.UserIDFromContext(ctx)
	if userID == "" && r != nil {
		userID, _ = middleware.UserIDFromContext(r.Context())
	}
	m.entries = append(m.entries, recordedAudit{
		action:       action,
		resourceType: resourceType,
		resourceID:   resourceID,
		userID:       userID,
		details:      details,
	})
	return nil
}

func (m *mockAuditRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.action
	}
	return out
}

type mockAuditService struct {
	listFn func(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
}

func (m *mockAuditService) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	return m.listFn(ctx, filter)
}

// --- メトリクス ---

type mockMetrics struct {
	mu            sync.Mutex
	loginAttempts []string
	exports       []string
}

func (m *mockMetrics) RecordLoginAttempt(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginAttempts = append(m.loginAttempts, result)
}

func (m *mockMetrics) RecordExport(format, delivery string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports = append(m.exports, format+"/"+delivery)
}

// --- 機能フラグ ---

type mockFlagService struct {
	isEnabledFn  func(ctx context.Context, name string, user *model.User) bool
	enabledForFn func(ctx context.Context, user *model.User) (map[string]bool, error)
	listFn       func(ctx context.Context) ([]*model.FeatureFlag, error)
	getFn        func(ctx context.Context, name string) (*model.FeatureFlag, error)
	upsertFn     func(ctx context.Context, flag *model.FeatureFlag) error
	deleteFn     func(ctx context.Context, name string) error
}

func (m *mockFlagService) IsEnabled(ctx context.Context, name string, user *model.User) bool {
	return m.isEnabledFn(ctx, name, user)
}

func (m *mockFlagService) EnabledFor(ctx context.Context, user *model.User) (map[string]bool, error) {
	return m.enabledForFn(ctx, user)
}

func (m *mockFlagService) List(ctx context.Context) ([]*model.FeatureFlag, error) {
	return m.listFn(ctx)
}

func (m *mockFlagService) Get(ctx context.Context, name string) (*model.FeatureFlag, error) {
	return m.getFn(ctx, name)
}

func (m *mockFlagService) Upsert(ctx context.Context, flag *model.FeatureFlag) error {
	return m.upsertFn(ctx, flag)
}

func (m *mockFlagService) Delete(ctx context.Context, name string) error {
	return m.deleteFn(ctx, name)
}

// --- 管理画面 ---

type mockAdminService struct {
	listFn       func(ctx context.Context, name string, p admin.ListParams) (*admin.Page, error)
	getFn        func(ctx context.Context, name, id string) (repository.Record, error)
	createFn     func(ctx context.Context, name string, raw map[string]string) (repository.Record, error)
	updateFn     func(ctx context.Context, name, id string, raw map[string]string) (repository.Record, error)
	deleteFn     func(ctx context.Context, name, id string) error
	bulkDeleteFn func(ctx context.Context, name string, ids []string) (int64, error)
	dashboardFn  func(ctx context.Context) (*admin.Dashboard, error)
	rowsFn       func(ctx context.Context, name, query string) ([]string, []repository.Record, error)
}

func (m *mockAdminService) List(ctx context.Context, name string, p admin.ListParams) (*admin.Page, error) {
	return m.listFn(ctx, name, p)
}

func (m *mockAdminService) Get(ctx context.Context, name, id string) (repository.Record, error) {
	return m.getFn(ctx, name, id)
}

func (m *mockAdminService) Create(ctx context.Context, name string, raw map[string]string) (repository.Record, error) {
	return m.createFn(ctx, name, raw)
}

func (m *mockAdminService) Update(ctx context.Context, name, id string, raw map[string]string) (repository.Record, error) {
	return m.updateFn(ctx, name, id, raw)
}

func (m *mockAdminService) Delete(ctx context.Context, name, id string) error {
	return m.deleteFn(ctx, name, id)
}

func (m *mockAdminService) BulkDelete(ctx context.Context, name string, ids []string) (int64, error) {
	return m.bulkDeleteFn(ctx, name, ids)
}

func (m *mockAdminService) Dashboard(ctx context.Context) (*admin.Dashboard, error) {
	return m.dashboardFn(ctx)
}

func (m *mockAdminService) Rows(ctx context.Context, name, query string) ([]string, []repository.Record, error) {
	return m.rowsFn(ctx, name, query)
}

// --- オブジェクトストレージ ---

type mockObjectStore struct {
	putFn        func(ctx context.Context, key string, body io.Reader, contentType string) error
	presignGetFn func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func (m *mockObjectStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	return m.putFn(ctx, key, body, contentType)
}

func (m *mockObjectStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return m.presignGetFn(ctx, key, ttl)
}

// --- セッション・DB ---

type mockUserLoader struct {
	users map[string]*model.User // session_id -> user
}

func (m *mockUserLoader) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if u, ok := m.users[sessionID]; ok {
		return u, nil
	}
	return nil, model.NewUnauthorizedError()
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

func testUser(role model.Role) *model.User {
	return &model.User{
		ID:        "8c6f1a52-0d3b-4f3e-9a1c-7e2b5d4c3a10",
		Email:     "alice@example.com",
		Username:  "alice",
		Role:      role,
		IsActive:  true,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

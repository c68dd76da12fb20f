package admin

import (
	"fmt"
	"sync"
)

// Registry は管理対象リソースの一覧。登録順を保持する。
type Registry struct {
	mu        sync.RWMutex
	resources map[string]Resource
	order     []string
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{resources: make(map[string]Resource)}
}

// DefaultRegistry は既定のリソース（users, teams, subscriptions, audit_log）を登録したRegistryを返す。
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	for _, r := range defaultResources() {
		if err := reg.Register(r); err != nil {
			panic(err)
		}
	}
	return reg
}

// Register はリソースを登録する。同名のリソースがあればエラーを返す。
func (g *Registry) Register(r Resource) error {
	if err := r.validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.resources[r.Name]; ok {
		return fmt.Errorf("resource %s already registered", r.Name)
	}
	g.resources[r.Name] = r
	g.order = append(g.order, r.Name)
	return nil
}

// Get は名前に一致するリソースを返す。
func (g *Registry) Get(name string) (Resource, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.resources[name]
	return r, ok
}

// List は登録順にリソースを返す。
func (g *Registry) List() []Resource {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Resource, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.resources[name])
	}
	return out
}

func defaultResources() []Resource {
	return []Resource{
		{
			Name:  "users",
			Label: "ユーザー",
			Table: "users",
			Fields: []Field{
				{Name: "id", Label: "ID", Type: FieldString},
				{Name: "email", Label: "メールアドレス", Type: FieldEmail, Required: true, Editable: true},
				{Name: "username", Label: "ユーザー名", Type: FieldString, Required: true, Editable: true},
				{Name: "role", Label: "ロール", Type: FieldString, Required: true, Editable: true, Options: []string{"user", "moderator", "admin"}},
				{Name: "is_active", Label: "有効", Type: FieldBool, Editable: true},
				{Name: "email_verified", Label: "メール確認済み", Type: FieldBool, Editable: true},
				{Name: "created_at", Label: "登録日時", Type: FieldTime},
				{Name: "last_login_at", Label: "最終ログイン", Type: FieldTime, Hidden: true},
			},
			SearchFields: []string{"email", "username"},
			FilterFields: []string{"role", "is_active", "email_verified"},
			DefaultSort:  "-created_at",
			NoCreate:     true,
		},
		{
			Name:  "teams",
			Label: "チーム",
			Table: "teams",
			Fields: []Field{
				{Name: "id", Label: "ID", Type: FieldString},
				{Name: "name", Label: "チーム名", Type: FieldString, Required: true, Editable: true},
				{Name: "owner_id", Label: "オーナー", Type: FieldString, Editable: true},
				{Name: "created_at", Label: "作成日時", Type: FieldTime},
			},
			SearchFields: []string{"name"},
			FilterFields: []string{"owner_id"},
			DefaultSort:  "-created_at",
		},
		{
			Name:  "subscriptions",
			Label: "サブスクリプション",
			Table: "subscriptions",
			Fields: []Field{
				{Name: "id", Label: "ID", Type: FieldString},
				{Name: "user_id", Label: "ユーザー", Type: FieldString, Required: true, Editable: true},
				{Name: "plan", Label: "プラン", Type: FieldString, Required: true, Editable: true},
				{Name: "status", Label: "状態", Type: FieldString, Required: true, Editable: true, Options: []string{"active", "trialing", "past_due", "canceled"}},
				{Name: "current_period_end", Label: "期間終了", Type: FieldTime, Editable: true},
				{Name: "created_at", Label: "作成日時", Type: FieldTime},
			},
			SearchFields: []string{"plan", "status"},
			FilterFields: []string{"user_id", "plan", "status"},
			DefaultSort:  "-created_at",
		},
		{
			Name:  "audit_log",
			Label: "監査ログ",
			Table: "audit_log",
			Fields: []Field{
				{Name: "id", Label: "ID", Type: FieldString},
				{Name: "user_id", Label: "ユーザー", Type: FieldString},
				{Name: "action", Label: "操作", Type: FieldString},
				{Name: "resource_type", Label: "対象種別", Type: FieldString},
				{Name: "resource_id", Label: "対象ID", Type: FieldString},
				{Name: "details", Label: "詳細", Type: FieldText, Hidden: true},
				{Name: "ip_address", Label: "IPアドレス", Type: FieldString},
				{Name: "user_agent", Label: "User-Agent", Type: FieldString, Hidden: true},
				{Name: "created_at", Label: "日時", Type: FieldTime},
			},
			SearchFields: []string{"action", "resource_type", "resource_id"},
			FilterFields: []string{"user_id", "action", "resource_type"},
			DefaultSort:  "-created_at",
			ReadOnly:     true,
		},
	}
}

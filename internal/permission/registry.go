// Package permission はロール階層と権限名の対応を管理する。
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/hitoshi/shipkit/internal/model"
)

// 組み込みの権限名。
const (
	AdminAccess = "admin:access"
	UsersManage = "users:manage"
	FlagsManage = "flags:manage"
	AuditRead   = "audit:read"
	DataExport  = "data:export"
)

// ErrUnknownPermission は未登録の権限名を割り当てようとした場合のエラー。
var ErrUnknownPermission = errors.New("unknown permission")

// hierarchy は下位から上位の順に並べたロール。
var hierarchy = []model.Role{model.RoleUser, model.RoleModerator, model.RoleAdmin}

// Store はロールと権限の対応表を読み込むためのインターフェース。
type Store interface {
	ListAll(ctx context.Context) (map[model.Role][]string, error)
}

// Registry は権限名とロールごとの権限集合を保持する。
// 実効権限（下位ロールの権限を含む）はロール単位でキャッシュし、変更時に破棄する。
type Registry struct {
	mu          sync.RWMutex
	permissions map[string]string
	roles       map[model.Role]map[string]struct{}
	cache       map[model.Role][]string
}

// NewRegistry は組み込み権限とデフォルトの割り当てを持つRegistryを生成する。
func NewRegistry() *Registry {
	r := &Registry{
		permissions: map[string]string{
			AdminAccess: "管理画面へのアクセス",
			UsersManage: "ユーザーの管理",
			FlagsManage: "機能フラグの管理",
			AuditRead:   "監査ログの閲覧",
			DataExport:  "データのエクスポート",
		},
		roles: map[model.Role]map[string]struct{}{
			model.RoleUser:      {},
			model.RoleModerator: {AuditRead: {}, DataExport: {}},
			model.RoleAdmin:     {AdminAccess: {}, UsersManage: {}, FlagsManage: {}},
		},
		cache: make(map[model.Role][]string),
	}
	return r
}

// RegisterPermission は権限名を登録する。登録済みの場合は説明のみ更新する。
func (r *Registry) RegisterPermission(name, description string) error {
	if name == "" {
		return fmt.Errorf("permission name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permissions[name] = description
	return nil
}

// IsRegistered は権限名が登録済みかを返す。
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.permissions[name]
	return ok
}

// AddRolePermission はロールに権限を追加する。
func (r *Registry) AddRolePermission(role model.Role, perm string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role: %q", role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.permissions[perm]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, perm)
	}
	if r.roles[role] == nil {
		r.roles[role] = make(map[string]struct{})
	}
	r.roles[role][perm] = struct{}{}
	r.clearCacheLocked()
	return nil
}

// RemoveRolePermission はロールから権限を取り除く。
func (r *Registry) RemoveRolePermission(role model.Role, perm string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles[role], perm)
	r.clearCacheLocked()
}

// SetRolePermissions はロールの権限集合を置き換える。
func (r *Registry) SetRolePermissions(role model.Role, perms []string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role: %q", role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		if _, ok := r.permissions[p]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, p)
		}
		set[p] = struct{}{}
	}
	r.roles[role] = set
	r.clearCacheLocked()
	return nil
}

// PermissionsForRole はロールに直接割り当てられた権限を名前順で返す。
func (r *Registry) PermissionsForRole(role model.Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.roles[role])
}

// EffectivePermissions はロールとその下位ロールの権限の和集合を返す。
// 戻り値は呼び出し側で変更してよい。
func (r *Registry) EffectivePermissions(role model.Role) []string {
	return slices.Clone(r.effective(role))
}

// effective はキャッシュ済みのスライスをそのまま返す。呼び出し側は変更しないこと。
func (r *Registry) effective(role model.Role) []string {
	if !role.Valid() {
		return nil
	}

	r.mu.RLock()
	if perms, ok := r.cache[role]; ok {
		r.mu.RUnlock()
		return perms
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if perms, ok := r.cache[role]; ok {
		return perms
	}
	union := make(map[string]struct{})
	for _, lower := range hierarchy {
		if lower.Level() > role.Level() {
			break
		}
		for p := range r.roles[lower] {
			union[p] = struct{}{}
		}
	}
	perms := sortedKeys(union)
	r.cache[role] = perms
	return perms
}

// UserPermissions はユーザーの実効権限を返す。
func (r *Registry) UserPermissions(user *model.User) []string {
	if user == nil {
		return nil
	}
	return r.EffectivePermissions(user.Role)
}

// HasPermission はユーザーが権限を持つかを返す。
func (r *Registry) HasPermission(user *model.User, perm string) bool {
	if user == nil {
		return false
	}
	return slices.Contains(r.effective(user.Role), perm)
}

// CheckRoleHierarchy はuserRoleがrequired以上のロールかを返す。
func CheckRoleHierarchy(userRole, required model.Role) bool {
	if !userRole.Valid() || !required.Valid() {
		return false
	}
	return userRole.Level() >= required.Level()
}

// ClearCache は実効権限のキャッシュを破棄する。
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearCacheLocked()
}

// Load はストアからロールと権限の対応を読み込み、該当ロールの割り当てを置き換える。
// ストアに存在しない権限名は自動登録する。ストアが空の場合はデフォルトを維持する。
func (r *Registry) Load(ctx context.Context, store Store) error {
	rows, err := store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load role permissions: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for role, perms := range rows {
		if !role.Valid() {
			slog.Warn("ignoring permissions for unknown role", slog.String("role", string(role)))
			continue
		}
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			if _, ok := r.permissions[p]; !ok {
				r.permissions[p] = ""
			}
			set[p] = struct{}{}
		}
		r.roles[role] = set
	}
	r.clearCacheLocked()

	slog.Info("role permissions loaded", slog.Int("roles", len(rows)))
	return nil
}

func (r *Registry) clearCacheLocked() {
	r.cache = make(map[model.Role][]string)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/shipkit/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 検索系メソッドは見つからない場合にnilを返す。
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByEmail はメールアドレスを小文字化して検索する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// Update はemail、username、role、is_active、email_verifiedを更新する。
	Update(ctx context.Context, user *model.User) error

	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// TrackLogin は最終ログイン日時を記録する。
	TrackLogin(ctx context.Context, id string, at time.Time) error

	// DeleteByID は指定IDのユーザーを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// FlagRepository は機能フラグの永続化インターフェース。
type FlagRepository interface {
	// List は全フラグを名前順で返す。
	List(ctx context.Context) ([]*model.FeatureFlag, error)
	// FindByName は指定名のフラグを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.FeatureFlag, error)
	// Upsert はフラグを作成または更新する。
	Upsert(ctx context.Context, flag *model.FeatureFlag) error
	// Delete はフラグを削除する。削除対象が存在したかどうかを返す。
	Delete(ctx context.Context, name string) (bool, error)
}

// AuditRepository は監査ログの永続化インターフェース。
type AuditRepository interface {
	Create(ctx context.Context, entry *model.AuditEntry) error
	// List はフィルタ条件に合致するエントリをcreated_at降順で返す。
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
	// DeleteOlderThan は指定日時より古いエントリを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// RolePermissionRepository はロールと権限の対応表の永続化インターフェース。
type RolePermissionRepository interface {
	// ListAll はロールごとの権限一覧を返す。
	ListAll(ctx context.Context) (map[model.Role][]string, error)
}

// Record は管理画面で扱う汎用レコード。カラム名から値への対応。
type Record map[string]any

// TableQuery は汎用テーブル一覧取得の条件。
// Table、Columns、OrderByはレジストリ由来の値のみを受け付ける。
type TableQuery struct {
	Table   string
	Columns []string
	Where   string // "col ILIKE $1 AND ..." 形式。空なら条件なし
	Args    []any
	OrderBy string
	Limit   int
	Offset  int
}

// TableRepository は管理画面・エクスポート用の汎用テーブル操作インターフェース。
type TableRepository interface {
	Count(ctx context.Context, table, where string, args []any) (int, error)
	List(ctx context.Context, q TableQuery) ([]Record, error)
	// Get は主キーidでレコードを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, table string, columns []string, id string) (Record, error)
	// Insert はレコードを挿入し、挿入後のレコードを返す。
	Insert(ctx context.Context, table string, values Record, returning []string) (Record, error)
	// Update はレコードを更新し、更新後のレコードを返す。見つからない場合はnilを返す。
	Update(ctx context.Context, table, id string, values Record, returning []string) (Record, error)
	// Delete は削除対象が存在したかどうかを返す。
	Delete(ctx context.Context, table, id string) (bool, error)
	// DeleteMany は削除件数を返す。
	DeleteMany(ctx context.Context, table string, ids []string) (int64, error)
}

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

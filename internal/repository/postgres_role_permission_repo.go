package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/shipkit/internal/model"
)

// PostgresRolePermissionRepo はrole_permissionsテーブルを読み込むリポジトリ。
type PostgresRolePermissionRepo struct {
	db *sql.DB
}

// NewPostgresRolePermissionRepo はPostgresRolePermissionRepoを生成する。
func NewPostgresRolePermissionRepo(db *sql.DB) *PostgresRolePermissionRepo {
	return &PostgresRolePermissionRepo{db: db}
}

// ListAll はロールごとの権限一覧を返す。
func (r *PostgresRolePermissionRepo) ListAll(ctx context.Context) (map[model.Role][]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role, permission FROM role_permissions ORDER BY role, permission`)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	result := make(map[model.Role][]string)
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		result[model.Role(role)] = append(result[model.Role(role)], perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role permissions: %w", err)
	}
	return result, nil
}

// compile-time interface check
var _ RolePermissionRepository = (*PostgresRolePermissionRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/shipkit/internal/model"
	"github.com/lib/pq"
)

const flagColumns = `name, description, enabled, rollout_percentage, allowed_users, allowed_roles, updated_at`

// PostgresFlagRepo はPostgreSQLを使用した機能フラグリポジトリ。
// allowed_users、allowed_rolesはtext[]として保存する。
type PostgresFlagRepo struct {
	db *sql.DB
}

// NewPostgresFlagRepo はPostgresFlagRepoを生成する。
func NewPostgresFlagRepo(db *sql.DB) *PostgresFlagRepo {
	return &PostgresFlagRepo{db: db}
}

// List は全フラグを名前順で返す。
func (r *PostgresFlagRepo) List(ctx context.Context) ([]*model.FeatureFlag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+flagColumns+` FROM feature_flags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature flags: %w", err)
	}
	defer rows.Close()

	var flags []*model.FeatureFlag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feature flags: %w", err)
	}
	return flags, nil
}

// FindByName は指定名のフラグを取得する。見つからない場合はnilを返す。
func (r *PostgresFlagRepo) FindByName(ctx context.Context, name string) (*model.FeatureFlag, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+flagColumns+` FROM feature_flags WHERE name = $1`, name)
	f, err := scanFlag(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Upsert はフラグを作成または更新する。
func (r *PostgresFlagRepo) Upsert(ctx context.Context, flag *model.FeatureFlag) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feature_flags (name, description, enabled, rollout_percentage, allowed_users, allowed_roles, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (name) DO UPDATE
		 SET description = EXCLUDED.description,
		     enabled = EXCLUDED.enabled,
		     rollout_percentage = EXCLUDED.rollout_percentage,
		     allowed_users = EXCLUDED.allowed_users,
		     allowed_roles = EXCLUDED.allowed_roles,
		     updated_at = now()`,
		flag.Name, flag.Description, flag.Enabled, flag.RolloutPercentage,
		pq.Array(flag.AllowedUsers), pq.Array(flag.AllowedRoles),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert feature flag: %w", err)
	}
	return nil
}

// Delete はフラグを削除する。
func (r *PostgresFlagRepo) Delete(ctx context.Context, name string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM feature_flags WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete feature flag: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlag(s rowScanner) (*model.FeatureFlag, error) {
	f := &model.FeatureFlag{}
	var users, roles pq.StringArray
	err := s.Scan(&f.Name, &f.Description, &f.Enabled, &f.RolloutPercentage, &users, &roles, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan feature flag: %w", err)
	}
	f.AllowedUsers = []string(users)
	f.AllowedRoles = []string(roles)
	return f, nil
}

// compile-time interface check
var _ FlagRepository = (*PostgresFlagRepo)(nil)

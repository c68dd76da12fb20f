package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/shipkit/internal/auth"
	"github.com/hitoshi/shipkit/internal/model"
)

// adminPromoter はBOOTSTRAP_ADMIN_EMAILのユーザーを管理者に昇格するために必要な操作。
// auth.Serviceが満たす。
type adminPromoter interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (*model.User, error)
}

// bootstrapAdmin は指定メールアドレスのユーザーをadminロールに昇格する。
// 未登録の場合は何もしない（登録後の再起動で昇格される）。
func bootstrapAdmin(ctx context.Context, users adminPromoter, email string, logger *slog.Logger) error {
	if email == "" {
		return nil
	}

	user, err := users.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up bootstrap admin: %w", err)
	}
	if user == nil {
		logger.Warn("bootstrap admin is not registered yet", slog.String("email", email))
		return nil
	}
	if user.Role == model.RoleAdmin {
		return nil
	}

	role := model.RoleAdmin
	if _, err := users.UpdateUser(ctx, user.ID, auth.UserUpdate{Role: &role}); err != nil {
		return fmt.Errorf("failed to promote bootstrap admin: %w", err)
	}
	logger.Info("bootstrap admin promoted", slog.String("user_id", user.ID))
	return nil
}

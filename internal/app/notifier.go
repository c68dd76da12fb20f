package app

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/shipkit/internal/model"
)

// logNotifier はメール送信の代わりに確認用リンクをログへ出力する。
// メール配信基盤を持たない環境（開発・検証）向け。
type logNotifier struct {
	baseURL string
	logger  *slog.Logger
}

func newLogNotifier(baseURL string, logger *slog.Logger) *logNotifier {
	return &logNotifier{baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

func (n *logNotifier) SendEmailVerification(ctx context.Context, user *model.User, token string) error {
	n.logger.InfoContext(ctx, "email verification requested",
		slog.String("user_id", user.ID),
		slog.String("link", n.link("/auth/verify-email", token)),
	)
	return nil
}

func (n *logNotifier) SendPasswordReset(ctx context.Context, user *model.User, token string) error {
	n.logger.InfoContext(ctx, "password reset requested",
		slog.String("user_id", user.ID),
		slog.String("link", n.link("/auth/password-reset/confirm", token)),
	)
	return nil
}

func (n *logNotifier) link(path, token string) string {
	return n.baseURL + path + "?token=" + url.QueryEscape(token)
}

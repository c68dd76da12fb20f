package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/hitoshi/shipkit/internal/auth"
	"github.com/hitoshi/shipkit/internal/model"
)

var _ auth.Notifier = (*logNotifier)(nil)

func TestLogNotifier_Links(t *testing.T) {
	tests := []struct {
		name     string
		send     func(n *logNotifier) error
		wantLink string
	}{
		{
			name: "メール確認",
			send: func(n *logNotifier) error {
				return n.SendEmailVerification(context.Background(), &model.User{ID: "u1"}, "a+b")
			},
			wantLink: "https://app.example.com/auth/verify-email?token=a%2Bb",
		},
		{
			name: "パスワードリセット",
			send: func(n *logNotifier) error {
				return n.SendPasswordReset(context.Background(), &model.User{ID: "u1"}, "tok")
			},
			wantLink: "https://app.example.com/auth/password-reset/confirm?token=tok",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n := newLogNotifier("https://app.example.com/", slog.New(slog.NewJSONHandler(&buf, nil)))

			if err := tt.send(n); err != nil {
				t.Fatalf("send: %v", err)
			}

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("invalid log: %v", err)
			}
			if entry["link"] != tt.wantLink {
				t.Errorf("link = %v, want %s", entry["link"], tt.wantLink)
			}
			if entry["user_id"] != "u1" {
				t.Errorf("user_id = %v, want u1", entry["user_id"])
			}
		})
	}
}

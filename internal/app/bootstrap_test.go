package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/shipkit/internal/auth"
	"github.com/hitoshi/shipkit/internal/model"
)

type fakePromoter struct {
	user      *model.User
	lookupErr error
	updated   []string
	gotRole   model.Role
}

func (f *fakePromoter) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if f.user == nil || f.user.Email != email {
		return nil, nil
	}
	return f.user, nil
}

func (f *fakePromoter) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (*model.User, error) {
	f.updated = append(f.updated, id)
	if upd.Role != nil {
		f.gotRole = *upd.Role
	}
	return f.user, nil
}

func TestBootstrapAdmin_PromotesUser(t *testing.T) {
	p := &fakePromoter{user: &model.User{ID: "u1", Email: "root@example.com", Role: model.RoleUser}}

	if err := bootstrapAdmin(context.Background(), p, "root@example.com", slog.New(slog.NewJSONHandler(io.Discard, nil))); err != nil {
		t.Fatalf("bootstrapAdmin: %v", err)
	}
	if len(p.updated) != 1 || p.updated[0] != "u1" {
		t.Fatalf("updated = %v, want [u1]", p.updated)
	}
	if p.gotRole != model.RoleAdmin {
		t.Errorf("role = %q, want admin", p.gotRole)
	}
}

func TestBootstrapAdmin_AlreadyAdmin_NoUpdate(t *testing.T) {
	p := &fakePromoter{user: &model.User{ID: "u1", Email: "root@example.com", Role: model.RoleAdmin}}

	if err := bootstrapAdmin(context.Background(), p, "root@example.com", slog.New(slog.NewJSONHandler(io.Discard, nil))); err != nil {
		t.Fatalf("bootstrapAdmin: %v", err)
	}
	if len(p.updated) != 0 {
		t.Errorf("UpdateUser should not be called, got %v", p.updated)
	}
}

func TestBootstrapAdmin_UnknownUser_Warns(t *testing.T) {
	var buf bytes.Buffer
	p := &fakePromoter{}

	if err := bootstrapAdmin(context.Background(), p, "nobody@example.com", slog.New(slog.NewJSONHandler(&buf, nil))); err != nil {
		t.Fatalf("bootstrapAdmin: %v", err)
	}
	if !strings.Contains(buf.String(), "not registered") {
		t.Errorf("expected warning log, got %s", buf.String())
	}
}

func TestBootstrapAdmin_EmptyEmail_Skips(t *testing.T) {
	p := &fakePromoter{lookupErr: errors.New("should not be called")}

	if err := bootstrapAdmin(context.Background(), p, "", slog.New(slog.NewJSONHandler(io.Discard, nil))); err != nil {
		t.Fatalf("bootstrapAdmin: %v", err)
	}
}

func TestBootstrapAdmin_LookupError(t *testing.T) {
	p := &fakePromoter{lookupErr: errors.New("db down")}

	err := bootstrapAdmin(context.Background(), p, "root@example.com", slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error")
	}
}

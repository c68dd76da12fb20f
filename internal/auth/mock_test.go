package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/repository"
)

// --- モック定義 ---

// memUserRepo はメモリ上でユーザーを保持するUserRepositoryの実装。
type memUserRepo struct {
	mu          sync.Mutex
	users       map[string]*model.User
	trackedAt   map[string]time.Time
	findErr     error
	passwordSet map[string]string
}

func newMemUserRepo(users ...*model.User) *memUserRepo {
	r := &memUserRepo{
		users:       make(map[string]*model.User),
		trackedAt:   make(map[string]time.Time),
		passwordSet: make(map[string]string),
	}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, u := range r.users {
		if u.Email == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passwordSet[id] = passwordHash
	if u, ok := r.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (r *memUserRepo) TrackLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackedAt[id] = at
	return nil
}

func (r *memUserRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type recordingNotifier struct {
	verifyTokens []string
	resetTokens  []string
}

func (n *recordingNotifier) SendEmailVerification(_ context.Context, _ *model.User, token string) error {
	n.verifyTokens = append(n.verifyTokens, token)
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, _ *model.User, token string) error {
	n.resetTokens = append(n.resetTokens, token)
	return nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*memUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ Notifier = (*recordingNotifier)(nil)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// mustUser はパスワードハッシュ付きのテスト用ユーザーを生成する。
func mustUser(id, email, username, password string, role model.Role) *model.User {
	hash, err := HashPassword(password)
	if err != nil {
		panic(err)
	}
	return &model.User{
		ID:           id,
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
}

// Package auth はパスワード認証、セッション発行、アカウント管理、署名付きトークンを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/repository"
)

// RegisterInput はユーザー登録の入力値。
type RegisterInput struct {
	Email    string
	Username string
	Password string
}

// UserUpdate はユーザー更新の入力値。nilのフィールドは変更しない。
type UserUpdate struct {
	Email         *string
	Username      *string
	Role          *model.Role
	IsActive      *bool
	EmailVerified *bool
}

// Notifier はトークンをユーザーへ届ける手段を抽象化する。
type Notifier interface {
	SendEmailVerification(ctx context.Context, user *model.User, token string) error
	SendPasswordReset(ctx context.Context, user *model.User, token string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge  int // セッション有効期間（秒）
	VerifyTokenTTL time.Duration
	ResetTokenTTL  time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	notifier    Notifier
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。notifierはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenIssuer,
	notifier Notifier,
	config ServiceConfig,
) *Service {
	if config.VerifyTokenTTL <= 0 {
		config.VerifyTokenTTL = 48 * time.Hour
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = time.Hour
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		notifier:    notifier,
		config:      config,
		now:         time.Now,
	}
}

// Register は入力を検証し、ロールuserのユーザーを作成する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)

	if fieldErrs := ValidateUserData(in.Email, in.Username, in.Password); len(fieldErrs) > 0 {
		return nil, model.NewValidationError(fieldErrs)
	}

	if ok, err := s.IsEmailAvailable(ctx, in.Email); err != nil {
		return nil, err
	} else if !ok {
		return nil, model.NewEmailTakenError()
	}
	if ok, err := s.IsUsernameAvailable(ctx, in.Username); err != nil {
		return nil, err
	} else if !ok {
		return nil, model.NewUsernameTakenError()
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		Role:         model.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	if s.notifier != nil && s.tokens != nil {
		token, err := s.tokens.CreateAuthToken(user.ID, PurposeEmailVerification, s.config.VerifyTokenTTL)
		if err != nil {
			return nil, err
		}
		if err := s.notifier.SendEmailVerification(ctx, user, token); err != nil {
			// 登録自体は成功しているため、通知失敗はログのみ
			slog.Warn("failed to send verification email",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return user, nil
}

// Authenticate はメールアドレスまたはユーザー名とパスワードで認証する。
// ユーザー不在・無効化済み・パスワード不一致はすべて同じエラーを返す。
func (s *Service) Authenticate(ctx context.Context, login, password string) (*model.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	var (
		user *model.User
		err  error
	)
	if strings.Contains(login, "@") {
		user, err = s.userRepo.FindByEmail(ctx, login)
	} else {
		user, err = s.userRepo.FindByUsername(ctx, login)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil || !user.IsActive || !VerifyPassword(user.PasswordHash, password) {
		return nil, model.NewInvalidCredentialsError()
	}

	if err := s.userRepo.TrackLogin(ctx, user.ID, s.now()); err != nil {
		return nil, fmt.Errorf("failed to track login: %w", err)
	}

	return user, nil
}

// Login は認証に成功した場合にセッションを発行する。
func (s *Service) Login(ctx context.Context, login, password string) (*model.Session, *model.User, error) {
	user, err := s.Authenticate(ctx, login, password)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return session, user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
// 無効化されたユーザーのセッションは無効として扱う。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// GetUserByID はIDでユーザーを取得する。見つからない場合はnilを返す。
func (s *Service) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// GetUserByEmail はメールアドレスでユーザーを取得する。
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// GetUserByUsername はユーザー名でユーザーを取得する。
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

func (s *Service) IsEmailAvailable(ctx context.Context, email string) (bool, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	return user == nil, nil
}

func (s *Service) IsUsernameAvailable(ctx context.Context, username string) (bool, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	return user == nil, nil
}

// UpdateUser はユーザー情報を部分更新する。
// メールアドレス・ユーザー名を変更する場合は形式と重複を検証する。
func (s *Service) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*model.User, error) {
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	var fieldErrs []model.FieldError

	if upd.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*upd.Email))
		if email != user.Email {
			if !IsValidEmail(email) {
				fieldErrs = append(fieldErrs, model.FieldError{Field: "email", Message: "メールアドレスの形式が正しくありません。"})
			} else if ok, err := s.IsEmailAvailable(ctx, email); err != nil {
				return nil, err
			} else if !ok {
				return nil, model.NewEmailTakenError()
			}
			user.Email = email
		}
	}
	if upd.Username != nil {
		username := strings.TrimSpace(*upd.Username)
		if username != user.Username {
			if !usernamePattern.MatchString(username) {
				fieldErrs = append(fieldErrs, model.FieldError{Field: "username", Message: "ユーザー名は3〜30文字の英数字、_、-で入力してください。"})
			} else if ok, err := s.IsUsernameAvailable(ctx, username); err != nil {
				return nil, err
			} else if !ok {
				return nil, model.NewUsernameTakenError()
			}
			user.Username = username
		}
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			fieldErrs = append(fieldErrs, model.FieldError{Field: "role", Message: "ロールが正しくありません。"})
		}
		user.Role = *upd.Role
	}
	if len(fieldErrs) > 0 {
		return nil, model.NewValidationError(fieldErrs)
	}
	if upd.IsActive != nil {
		user.IsActive = *upd.IsActive
	}
	if upd.EmailVerified != nil {
		user.EmailVerified = *upd.EmailVerified
	}

	user.UpdatedAt = s.now()
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// DeleteUser はユーザーのセッションを削除した上でユーザーを削除する。
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.sessionRepo.DeleteByUserID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	if err := s.userRepo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	slog.Info("user deleted", slog.String("user_id", id))
	return nil
}

// CheckPermission はユーザーのロールが要求ロール以上かを返す。
func CheckPermission(user *model.User, required model.Role) bool {
	if user == nil || !required.Valid() {
		return false
	}
	return user.Role.Level() >= required.Level()
}

// VerifyEmail はメール確認トークンを検証し、email_verifiedを立てる。
func (s *Service) VerifyEmail(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.VerifyAuthToken(token, PurposeEmailVerification)
	if err != nil {
		return nil, model.NewInvalidTokenError()
	}

	verified := true
	user, err := s.UpdateUser(ctx, userID, UserUpdate{EmailVerified: &verified})
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound {
			return nil, model.NewInvalidTokenError()
		}
		return nil, err
	}
	return user, nil
}

// RequestPasswordReset はリセットトークンを発行する。
// 未登録のメールアドレスの場合は存在を明かさないよう空文字とnilを返す。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user == nil || !user.IsActive {
		return "", nil
	}

	token, err := s.tokens.CreateAuthToken(user.ID, PurposePasswordReset, s.config.ResetTokenTTL)
	if err != nil {
		return "", err
	}

	if s.notifier != nil {
		if err := s.notifier.SendPasswordReset(ctx, user, token); err != nil {
			return "", fmt.Errorf("failed to send password reset: %w", err)
		}
	}
	return token, nil
}

// ResetPassword はトークンを検証してパスワードを更新し、既存セッションを全て失効させる。
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (*model.User, error) {
	userID, err := s.tokens.VerifyAuthToken(token, PurposePasswordReset)
	if err != nil {
		return nil, model.NewInvalidTokenError()
	}

	if msg := validatePassword(newPassword); msg != "" {
		return nil, model.NewValidationError([]model.FieldError{{Field: "password", Message: msg}})
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewInvalidTokenError()
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	if err := s.userRepo.UpdatePassword(ctx, user.ID, hash); err != nil {
		return nil, fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.sessionRepo.DeleteByUserID(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	slog.Info("password reset", slog.String("user_id", user.ID))
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

package flags

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/repository"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// EvaluationRecorder はフラグ評価結果を記録する。metrics.Collectorが満たす。
type EvaluationRecorder interface {
	RecordFlagEvaluation(flag string, enabled bool)
}

// Service はフラグの評価とCRUDを提供する。
// フラグ一覧はTTL付きでメモリにキャッシュし、書き込み時に破棄する。
type Service struct {
	store    repository.FlagRepository
	ttl      time.Duration
	recorder EvaluationRecorder
	now      func() time.Time

	mu       sync.RWMutex
	cache    map[string]*model.FeatureFlag
	loadedAt time.Time
	// generation はInvalidateのたびに増える。読み込み中に書き込みがあれば結果を捨てる。
	generation uint64
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(store repository.FlagRepository, ttl time.Duration, recorder EvaluationRecorder) *Service {
	return &Service{
		store:    store,
		ttl:      ttl,
		recorder: recorder,
		now:      time.Now,
	}
}

// IsEnabled は指定フラグがユーザーに対して有効かを返す。
// 未定義のフラグや読み込み失敗時はfalse。
func (s *Service) IsEnabled(ctx context.Context, name string, user *model.User) bool {
	flags, err := s.snapshot(ctx)
	if err != nil {
		slog.Error("failed to load feature flags",
			slog.String("flag", name),
			slog.String("error", err.Error()),
		)
		return false
	}

	enabled := Evaluate(flags[name], user)
	if s.recorder != nil {
		s.recorder.RecordFlagEvaluation(name, enabled)
	}
	return enabled
}

// EnabledFor はユーザーに対して有効なフラグ名の集合を返す。
func (s *Service) EnabledFor(ctx context.Context, user *model.User) (map[string]bool, error) {
	flags, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(flags))
	for name, f := range flags {
		result[name] = Evaluate(f, user)
	}
	return result, nil
}

// List は全フラグを名前順で返す。キャッシュを経由しない。
func (s *Service) List(ctx context.Context) ([]*model.FeatureFlag, error) {
	flags, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}
	return flags, nil
}

// Get は指定フラグを返す。存在しない場合はFLAG_NOT_FOUND。
func (s *Service) Get(ctx context.Context, name string) (*model.FeatureFlag, error) {
	flag, err := s.store.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find flag: %w", err)
	}
	if flag == nil {
		return nil, model.NewFlagNotFoundError(name)
	}
	return flag, nil
}

// Upsert はフラグを検証して作成または更新する。
func (s *Service) Upsert(ctx context.Context, flag *model.FeatureFlag) error {
	flag.Name = strings.TrimSpace(flag.Name)
	if fieldErrs := validate(flag); len(fieldErrs) > 0 {
		return model.NewValidationError(fieldErrs)
	}
	flag.AllowedUsers = compact(flag.AllowedUsers)
	flag.AllowedRoles = compact(flag.AllowedRoles)

	if err := s.store.Upsert(ctx, flag); err != nil {
		return fmt.Errorf("failed to upsert flag: %w", err)
	}
	s.Invalidate()

	slog.Info("feature flag saved",
		slog.String("flag", flag.Name),
		slog.Bool("enabled", flag.Enabled),
		slog.Int("rollout_percentage", flag.RolloutPercentage),
	)
	return nil
}

// Delete はフラグを削除する。存在しない場合はFLAG_NOT_FOUND。
func (s *Service) Delete(ctx context.Context, name string) error {
	deleted, err := s.store.Delete(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to delete flag: %w", err)
	}
	if !deleted {
		return model.NewFlagNotFoundError(name)
	}
	s.Invalidate()

	slog.Info("feature flag deleted", slog.String("flag", name))
	return nil
}

// Invalidate はキャッシュを破棄し、次回評価時に再読み込みさせる。
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	s.generation++
}

// snapshot はキャッシュ済みのフラグ一覧を返す。TTL切れの場合は再読み込みする。
func (s *Service) snapshot(ctx context.Context) (map[string]*model.FeatureFlag, error) {
	now := s.now()

	s.mu.RLock()
	if s.cache != nil && now.Sub(s.loadedAt) < s.ttl {
		cache := s.cache
		s.mu.RUnlock()
		return cache, nil
	}
	gen := s.generation
	s.mu.RUnlock()

	list, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	cache := make(map[string]*model.FeatureFlag, len(list))
	for _, f := range list {
		cache[f.Name] = f
	}

	s.mu.Lock()
	if s.generation == gen {
		s.cache = cache
		s.loadedAt = now
	}
	s.mu.Unlock()

	return cache, nil
}

func validate(flag *model.FeatureFlag) []model.FieldError {
	var errs []model.FieldError
	if !namePattern.MatchString(flag.Name) {
		errs = append(errs, model.FieldError{Field: "name", Message: "フラグ名は英小文字・数字・_.-で64文字以内にしてください。"})
	}
	if flag.RolloutPercentage < 0 || flag.RolloutPercentage > 100 {
		errs = append(errs, model.FieldError{Field: "rollout_percentage", Message: "ロールアウト率は0〜100で指定してください。"})
	}
	for _, r := range flag.AllowedRoles {
		if r = strings.TrimSpace(r); r != "" && !model.Role(r).Valid() {
			errs = append(errs, model.FieldError{Field: "allowed_roles", Message: "未知のロールが含まれています: " + r})
			break
		}
	}
	return errs
}

// compact は空白を除去し、空要素と重複を取り除く。
func compact(list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, v := range list {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

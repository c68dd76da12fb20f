package flags

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/repository"
)

// --- モック定義 ---

type memFlagStore struct {
	flags     map[string]*model.FeatureFlag
	listCalls int
	listErr   error
}

func newMemFlagStore(flags ...*model.FeatureFlag) *memFlagStore {
	s := &memFlagStore{flags: make(map[string]*model.FeatureFlag)}
	for _, f := range flags {
		s.flags[f.Name] = f
	}
	return s
}

func (s *memFlagStore) List(_ context.Context) ([]*model.FeatureFlag, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]*model.FeatureFlag, 0, len(s.flags))
	for _, f := range s.flags {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memFlagStore) FindByName(_ context.Context, name string) (*model.FeatureFlag, error) {
	if f, ok := s.flags[name]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (s *memFlagStore) Upsert(_ context.Context, flag *model.FeatureFlag) error {
	cp := *flag
	s.flags[flag.Name] = &cp
	return nil
}

func (s *memFlagStore) Delete(_ context.Context, name string) (bool, error) {
	if _, ok := s.flags[name]; !ok {
		return false, nil
	}
	delete(s.flags, name)
	return true, nil
}

var _ repository.FlagRepository = (*memFlagStore)(nil)

type evalRecorder struct {
	results map[string][]bool
}

func (r *evalRecorder) RecordFlagEvaluation(flag string, enabled bool) {
	if r.results == nil {
		r.results = make(map[string][]bool)
	}
	r.results[flag] = append(r.results[flag], enabled)
}

func newTestService(store *memFlagStore, ttl time.Duration) (*Service, *time.Time) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(store, ttl, nil)
	svc.now = func() time.Time { return now }
	return svc, &now
}

// --- テスト ---

func TestIsEnabled_UnknownFlagIsFalse(t *testing.T) {
	svc, _ := newTestService(newMemFlagStore(), time.Minute)
	if svc.IsEnabled(context.Background(), "nope", &model.User{ID: "u"}) {
		t.Error("unknown flag should evaluate to false")
	}
}

func TestIsEnabled_RecordsMetric(t *testing.T) {
	store := newMemFlagStore(&model.FeatureFlag{Name: "on", Enabled: true, RolloutPercentage: 100})
	rec := &evalRecorder{}
	svc := NewService(store, time.Minute, rec)

	svc.IsEnabled(context.Background(), "on", nil)
	svc.IsEnabled(context.Background(), "off", nil)

	if got := rec.results["on"]; len(got) != 1 || !got[0] {
		t.Errorf("on results = %v, want [true]", got)
	}
	if got := rec.results["off"]; len(got) != 1 || got[0] {
		t.Errorf("off results = %v, want [false]", got)
	}
}

func TestIsEnabled_CachesWithinTTL(t *testing.T) {
	store := newMemFlagStore(&model.FeatureFlag{Name: "f", Enabled: true, RolloutPercentage: 100})
	svc, now := newTestService(store, 30*time.Second)
	ctx := context.Background()

	svc.IsEnabled(ctx, "f", nil)
	svc.IsEnabled(ctx, "f", nil)
	if store.listCalls != 1 {
		t.Errorf("store.List called %d times, want 1", store.listCalls)
	}

	// ストアを直接書き換えてもTTL内はキャッシュが使われる
	store.flags["f"].Enabled = false
	if !svc.IsEnabled(ctx, "f", nil) {
		t.Error("cached value expected within TTL")
	}

	*now = now.Add(31 * time.Second)
	if svc.IsEnabled(ctx, "f", nil) {
		t.Error("stale cache should be refreshed after TTL")
	}
	if store.listCalls != 2 {
		t.Errorf("store.List called %d times, want 2", store.listCalls)
	}
}

func TestUpsertAndDelete_InvalidateCache(t *testing.T) {
	store := newMemFlagStore()
	svc, _ := newTestService(store, time.Hour)
	ctx := context.Background()

	if svc.IsEnabled(ctx, "beta", nil) {
		t.Fatal("precondition: beta disabled")
	}

	if err := svc.Upsert(ctx, &model.FeatureFlag{Name: "beta", Enabled: true, RolloutPercentage: 100}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !svc.IsEnabled(ctx, "beta", nil) {
		t.Error("upsert should invalidate cache")
	}

	if err := svc.Delete(ctx, "beta"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if svc.IsEnabled(ctx, "beta", nil) {
		t.Error("delete should invalidate cache")
	}
}

// blockingFlagStore は最初のListで結果を確定させた後、releaseされるまで返らない。
type blockingFlagStore struct {
	*memFlagStore
	entered chan struct{}
	release chan struct{}
	blocked bool
}

func (s *blockingFlagStore) List(ctx context.Context) ([]*model.FeatureFlag, error) {
	list, err := s.memFlagStore.List(ctx)
	if !s.blocked {
		s.blocked = true
		close(s.entered)
		<-s.release
	}
	return list, err
}

// 書き込み前に始まった読み込みの結果で、書き込み後のキャッシュが上書きされないこと
func TestUpsert_DuringReload_DoesNotCacheStaleFlags(t *testing.T) {
	store := &blockingFlagStore{
		memFlagStore: newMemFlagStore(&model.FeatureFlag{Name: "beta", Enabled: false}),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	svc := NewService(store, time.Hour, nil)
	ctx := context.Background()

	done := make(chan bool)
	go func() {
		done <- svc.IsEnabled(ctx, "beta", nil)
	}()

	<-store.entered
	if err := svc.Upsert(ctx, &model.FeatureFlag{Name: "beta", Enabled: true, RolloutPercentage: 100}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	close(store.release)

	if <-done {
		t.Fatal("reader started before the write should see the old value")
	}
	if !svc.IsEnabled(ctx, "beta", nil) {
		t.Error("stale list loaded before the write must not be cached")
	}
	if store.listCalls != 2 {
		t.Errorf("store.List called %d times, want 2", store.listCalls)
	}
}

func TestUpsert_Validation(t *testing.T) {
	svc, _ := newTestService(newMemFlagStore(), time.Minute)

	tests := []struct {
		name  string
		flag  model.FeatureFlag
		field string
	}{
		{"名前が空", model.FeatureFlag{Name: ""}, "name"},
		{"大文字", model.FeatureFlag{Name: "NewUI"}, "name"},
		{"空白を含む", model.FeatureFlag{Name: "new ui"}, "name"},
		{"率が負", model.FeatureFlag{Name: "f", RolloutPercentage: -1}, "rollout_percentage"},
		{"率が100超", model.FeatureFlag{Name: "f", RolloutPercentage: 101}, "rollout_percentage"},
		{"未知のロール", model.FeatureFlag{Name: "f", AllowedRoles: []string{"root"}}, "allowed_roles"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := tt.flag
			err := svc.Upsert(context.Background(), &flag)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
				t.Fatalf("error = %v, want VALIDATION_FAILED", err)
			}
			if apiErr.Fields[0].Field != tt.field {
				t.Errorf("field = %q, want %q", apiErr.Fields[0].Field, tt.field)
			}
		})
	}
}

func TestUpsert_NormalizesLists(t *testing.T) {
	store := newMemFlagStore()
	svc, _ := newTestService(store, time.Minute)

	err := svc.Upsert(context.Background(), &model.FeatureFlag{
		Name:         "f",
		AllowedUsers: []string{" u1 ", "", "u1", "u2"},
		AllowedRoles: []string{"admin", "admin"},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	got := store.flags["f"]
	if len(got.AllowedUsers) != 2 || got.AllowedUsers[0] != "u1" || got.AllowedUsers[1] != "u2" {
		t.Errorf("AllowedUsers = %v", got.AllowedUsers)
	}
	if len(got.AllowedRoles) != 1 {
		t.Errorf("AllowedRoles = %v", got.AllowedRoles)
	}
}

func TestGetAndDelete_NotFound(t *testing.T) {
	svc, _ := newTestService(newMemFlagStore(), time.Minute)

	var apiErr *model.APIError
	if _, err := svc.Get(context.Background(), "missing"); !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeFlagNotFound {
		t.Errorf("Get() error = %v, want FLAG_NOT_FOUND", err)
	}
	if err := svc.Delete(context.Background(), "missing"); !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeFlagNotFound {
		t.Errorf("Delete() error = %v, want FLAG_NOT_FOUND", err)
	}
}

func TestIsEnabled_StoreErrorIsFalse(t *testing.T) {
	store := newMemFlagStore()
	store.listErr = errors.New("db down")
	svc, _ := newTestService(store, time.Minute)

	if svc.IsEnabled(context.Background(), "f", nil) {
		t.Error("store error should evaluate to false")
	}
}

func TestEnabledFor(t *testing.T) {
	store := newMemFlagStore(
		&model.FeatureFlag{Name: "on", Enabled: true, RolloutPercentage: 100},
		&model.FeatureFlag{Name: "admins", Enabled: true, AllowedRoles: []string{"admin"}},
	)
	svc, _ := newTestService(store, time.Minute)

	got, err := svc.EnabledFor(context.Background(), &model.User{ID: "u", Role: model.RoleUser})
	if err != nil {
		t.Fatalf("EnabledFor() error = %v", err)
	}
	if !got["on"] || got["admins"] {
		t.Errorf("EnabledFor() = %v", got)
	}
}

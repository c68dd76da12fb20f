package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/shipkit/internal/audit"
	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/repository"
	"github.com/hitoshi/shipkit/internal/search"
	"github.com/lib/pq"
)

const (
	defaultPerPage     = 20
	maxPerPage         = 100
	recentActivitySize = 10
	// MaxExportRows はエクスポート1回あたりの最大行数。
	MaxExportRows = 10000
)

// Auditor は管理操作を記録する監査ログの窓口。
type Auditor interface {
	RecordContext(ctx context.Context, action, resourceType, resourceID string, details any) error
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
}

// ListParams は一覧取得の条件。Sortは "name" または "-name"。
type ListParams struct {
	Page    int
	PerPage int
	Query   string
	Sort    string
}

// Page は一覧取得の結果。
type Page struct {
	Items      []repository.Record `json:"items"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
	TotalPages int                 `json:"total_pages"`
}

// ResourceCount はダッシュボードに表示するリソースごとの件数。
type ResourceCount struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Dashboard は管理画面トップの集計結果。
type Dashboard struct {
	Counts         []ResourceCount     `json:"counts"`
	RecentActivity []*model.AuditEntry `json:"recent_activity"`
}

// Service はレジストリのリソースに対するCRUDを提供する。
// 変更操作は全て監査ログに記録する。
type Service struct {
	registry *Registry
	tables   repository.TableRepository
	auditor  Auditor
}

// NewService はServiceを生成する。
func NewService(registry *Registry, tables repository.TableRepository, auditor Auditor) *Service {
	return &Service{registry: registry, tables: tables, auditor: auditor}
}

// Registry は登録済みリソースを返す。
func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) resource(name string) (Resource, error) {
	res, ok := s.registry.Get(name)
	if !ok {
		return Resource{}, model.NewResourceNotFoundError(name)
	}
	return res, nil
}

func (s *Service) writable(name string) (Resource, error) {
	res, err := s.resource(name)
	if err != nil {
		return Resource{}, err
	}
	if res.ReadOnly {
		return Resource{}, model.NewReadOnlyResourceError(name)
	}
	return res, nil
}

// List はページングと検索を適用した一覧を返す。
func (s *Service) List(ctx context.Context, name string, p ListParams) (*Page, error) {
	res, err := s.resource(name)
	if err != nil {
		return nil, err
	}

	page := p.Page
	if page < 1 {
		page = 1
	}
	perPage := p.PerPage
	switch {
	case perPage <= 0:
		perPage = defaultPerPage
	case perPage > maxPerPage:
		perPage = maxPerPage
	}

	where, args := search.ParseQuery(p.Query).SQL(res.SearchFields, res.FilterFields, 1)

	total, err := s.tables.Count(ctx, res.Table, where, args)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", name, err)
	}

	items, err := s.tables.List(ctx, repository.TableQuery{
		Table:   res.Table,
		Columns: res.ListColumns(),
		Where:   where,
		Args:    args,
		OrderBy: orderBy(res, p.Sort),
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", name, err)
	}
	if items == nil {
		items = []repository.Record{}
	}

	return &Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}

// Rows はエクスポート用に検索条件に合致する全カラムの行を返す（最大MaxExportRows行）。
func (s *Service) Rows(ctx context.Context, name, query string) ([]string, []repository.Record, error) {
	res, err := s.resource(name)
	if err != nil {
		return nil, nil, err
	}

	where, args := search.ParseQuery(query).SQL(res.SearchFields, res.FilterFields, 1)
	columns := res.Columns()
	rows, err := s.tables.List(ctx, repository.TableQuery{
		Table:   res.Table,
		Columns: columns,
		Where:   where,
		Args:    args,
		OrderBy: orderBy(res, ""),
		Limit:   MaxExportRows,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return columns, rows, nil
}

// Get は1件取得する。
func (s *Service) Get(ctx context.Context, name, id string) (repository.Record, error) {
	res, err := s.resource(name)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewRecordNotFoundError(name, id)
	}

	rec, err := s.tables.Get(ctx, res.Table, res.Columns(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	if rec == nil {
		return nil, model.NewRecordNotFoundError(name, id)
	}
	return rec, nil
}

// Create はフォーム入力からレコードを作成する。
func (s *Service) Create(ctx context.Context, name string, raw map[string]string) (repository.Record, error) {
	res, err := s.writable(name)
	if err != nil {
		return nil, err
	}
	if res.NoCreate {
		return nil, model.NewCreateNotAllowedError(name)
	}

	values, fieldErrs := CleanFormData(res, raw)
	if len(fieldErrs) > 0 {
		return nil, model.NewValidationError(fieldErrs)
	}
	values["id"] = uuid.New().String()

	rec, err := s.tables.Insert(ctx, res.Table, values, res.Columns())
	if err != nil {
		return nil, translateDBError(name, err)
	}

	id := values["id"].(string)
	s.record(ctx, audit.ActionAdminCreate, name, id, map[string]any{"fields": fieldNames(values, "id")})
	return rec, nil
}

// Update は送信されたフィールドのみを更新する。
func (s *Service) Update(ctx context.Context, name, id string, raw map[string]string) (repository.Record, error) {
	res, err := s.writable(name)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewRecordNotFoundError(name, id)
	}

	values, fieldErrs := cleanForm(res, raw, true)
	if len(fieldErrs) > 0 {
		return nil, model.NewValidationError(fieldErrs)
	}

	rec, err := s.tables.Update(ctx, res.Table, id, values, res.Columns())
	if err != nil {
		return nil, translateDBError(name, err)
	}
	if rec == nil {
		return nil, model.NewRecordNotFoundError(name, id)
	}

	if len(values) > 0 {
		s.record(ctx, audit.ActionAdminUpdate, name, id, map[string]any{"fields": fieldNames(values)})
	}
	return rec, nil
}

// Delete は1件削除する。
func (s *Service) Delete(ctx context.Context, name, id string) error {
	res, err := s.writable(name)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.NewRecordNotFoundError(name, id)
	}

	deleted, err := s.tables.Delete(ctx, res.Table, id)
	if err != nil {
		return translateDBError(name, err)
	}
	if !deleted {
		return model.NewRecordNotFoundError(name, id)
	}

	s.record(ctx, audit.ActionAdminDelete, name, id, nil)
	return nil
}

// BulkDelete は複数件を削除し、削除件数を返す。
// 空のIDと重複は除外し、UUIDとして不正なIDはエラーにする。
func (s *Service) BulkDelete(ctx context.Context, name string, ids []string) (int64, error) {
	res, err := s.writable(name)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(ids))
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return 0, model.NewValidationError([]model.FieldError{{Field: "ids", Message: "不正なIDが含まれています: " + id}})
		}
		seen[id] = true
		clean = append(clean, id)
	}
	if len(clean) == 0 {
		return 0, nil
	}

	n, err := s.tables.DeleteMany(ctx, res.Table, clean)
	if err != nil {
		return 0, translateDBError(name, err)
	}

	s.record(ctx, audit.ActionAdminBulkDelete, name, "", map[string]any{"ids": clean, "deleted": n})
	return n, nil
}

// Dashboard はリソースごとの件数と最近の操作を返す。
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	resources := s.registry.List()
	counts := make([]ResourceCount, 0, len(resources))
	for _, res := range resources {
		n, err := s.tables.Count(ctx, res.Table, "", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", res.Name, err)
		}
		counts = append(counts, ResourceCount{Name: res.Name, Label: res.Label, Count: n})
	}

	recent, err := s.auditor.List(ctx, model.AuditFilter{Limit: recentActivitySize})
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []*model.AuditEntry{}
	}

	return &Dashboard{Counts: counts, RecentActivity: recent}, nil
}

// record は監査ログに記録する。失敗はaudit側でログに残り、操作自体は成功として扱う。
func (s *Service) record(ctx context.Context, action, resource, id string, details any) {
	_ = s.auditor.RecordContext(ctx, action, resource, id, details)
}

// orderBy はソート指定をORDER BY句に変換する。
// 登録済みのフィールド以外はDefaultSortにフォールバックする。
func orderBy(res Resource, sortParam string) string {
	field, desc := parseSort(sortParam)
	if _, ok := res.Field(field); !ok {
		field, desc = parseSort(res.DefaultSort)
	}
	if field == "" {
		field = "id"
	}

	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	clause := pq.QuoteIdentifier(field) + " " + dir
	if field != "id" {
		clause += ", " + pq.QuoteIdentifier("id") + " " + dir
	}
	return clause
}

func parseSort(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return s[1:], true
	}
	return s, false
}

func fieldNames(values map[string]any, exclude ...string) []string {
	names := make([]string, 0, len(values))
	for k := range values {
		if !contains(exclude, k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// translateDBError は制約違反を入力エラーに変換する。
func translateDBError(resource string, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return fmt.Errorf("failed to write %s: %w", resource, err)
	}

	switch pqErr.Code {
	case "23505":
		return model.NewValidationError([]model.FieldError{{Field: constraintField(resource, pqErr.Constraint), Message: "既に使用されている値です。"}})
	case "23503":
		return model.NewValidationError([]model.FieldError{{Field: pqErr.Column, Message: "参照先のレコードが存在しないか、参照されているため変更できません。"}})
	case "22P02":
		return model.NewValidationError([]model.FieldError{{Field: pqErr.Column, Message: "値の形式が正しくありません。"}})
	default:
		return fmt.Errorf("failed to write %s: %w", resource, err)
	}
}

// constraintField は "users_email_key" のような制約名からカラム名を推定する。
func constraintField(table, constraint string) string {
	name := strings.TrimPrefix(constraint, table+"_")
	name = strings.TrimSuffix(name, "_key")
	return name
}

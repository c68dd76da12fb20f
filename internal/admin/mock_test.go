package admin

import (
	"context"

	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/repository"
)

// --- モック定義 ---

type mockTableRepo struct {
	countFn      func(ctx context.Context, table, where string, args []any) (int, error)
	listFn       func(ctx context.Context, q repository.TableQuery) ([]repository.Record, error)
	getFn        func(ctx context.Context, table string, columns []string, id string) (repository.Record, error)
	insertFn     func(ctx context.Context, table string, values repository.Record, returning []string) (repository.Record, error)
	updateFn     func(ctx context.Context, table, id string, values repository.Record, returning []string) (repository.Record, error)
	deleteFn     func(ctx context.Context, table, id string) (bool, error)
	deleteManyFn func(ctx context.Context, table string, ids []string) (int64, error)
}

func (m *mockTableRepo) Count(ctx context.Context, table, where string, args []any) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, table, where, args)
	}
	return 0, nil
}

func (m *mockTableRepo) List(ctx context.Context, q repository.TableQuery) ([]repository.Record, error) {
	if m.listFn != nil {
		return m.listFn(ctx, q)
	}
	return nil, nil
}

func (m *mockTableRepo) Get(ctx context.Context, table string, columns []string, id string) (repository.Record, error) {
	if m.getFn != nil {
		return m.getFn(ctx, table, columns, id)
	}
	return nil, nil
}

func (m *mockTableRepo) Insert(ctx context.Context, table string, values repository.Record, returning []string) (repository.Record, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, table, values, returning)
	}
	return repository.Record(values), nil
}

func (m *mockTableRepo) Update(ctx context.Context, table, id string, values repository.Record, returning []string) (repository.Record, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, table, id, values, returning)
	}
	return nil, nil
}

func (m *mockTableRepo) Delete(ctx context.Context, table, id string) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, table, id)
	}
	return false, nil
}

func (m *mockTableRepo) DeleteMany(ctx context.Context, table string, ids []string) (int64, error) {
	if m.deleteManyFn != nil {
		return m.deleteManyFn(ctx, table, ids)
	}
	return int64(len(ids)), nil
}

type recordedAction struct {
	action       string
	resourceType string
	resourceID   string
	details      any
}

type mockAuditor struct {
	recorded []recordedAction
	recent   []*model.AuditEntry
	filter   model.AuditFilter
}

func (m *mockAuditor) RecordContext(_ context.Context, action, resourceType, resourceID string, details any) error {
	m.recorded = append(m.recorded, recordedAction{action, resourceType, resourceID, details})
	return nil
}

func (m *mockAuditor) List(_ context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	m.filter = filter
	return m.recent, nil
}

const testID = "3f1c2b9e-8d4a-4e2b-9c1f-0a5b6c7d8e9f"

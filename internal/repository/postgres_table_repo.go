package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// PostgresTableRepo はレジストリに登録されたテーブルを汎用的に操作するリポジトリ。
// テーブル名とカラム名はpq.QuoteIdentifierでクォートし、値は全てプレースホルダで渡す。
// 主キーは常にidカラムとする。
type PostgresTableRepo struct {
	db *sql.DB
}

// NewPostgresTableRepo はPostgresTableRepoを生成する。
func NewPostgresTableRepo(db *sql.DB) *PostgresTableRepo {
	return &PostgresTableRepo{db: db}
}

// Count は条件に合致する行数を返す。
func (r *PostgresTableRepo) Count(ctx context.Context, table, where string, args []any) (int, error) {
	query := "SELECT count(*) FROM " + pq.QuoteIdentifier(table)
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// List は条件に合致する行を返す。
func (r *PostgresTableRepo) List(ctx context.Context, q TableQuery) ([]Record, error) {
	query := "SELECT " + quoteColumns(q.Columns) + " FROM " + pq.QuoteIdentifier(q.Table)
	if q.Where != "" {
		query += " WHERE " + q.Where
	}
	if q.OrderBy != "" {
		query += " ORDER BY " + q.OrderBy
	}
	args := append([]any{}, q.Args...)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", q.Table, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows, q.Columns)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", q.Table, err)
	}
	return records, nil
}

// Get は主キーidでレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresTableRepo) Get(ctx context.Context, table string, columns []string, id string) (Record, error) {
	query := "SELECT " + quoteColumns(columns) + " FROM " + pq.QuoteIdentifier(table) + " WHERE id = $1"
	return r.queryOne(ctx, table, columns, query, id)
}

// Insert はレコードを挿入し、挿入後のレコードを返す。
func (r *PostgresTableRepo) Insert(ctx context.Context, table string, values Record, returning []string) (Record, error) {
	keys := sortedKeys(values)
	if len(keys) == 0 {
		return nil, fmt.Errorf("no values to insert into %s", table)
	}

	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[k]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		pq.QuoteIdentifier(table), quoteColumns(keys), strings.Join(placeholders, ", "), quoteColumns(returning))
	rec, err := r.queryOne(ctx, table, returning, query, args...)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update はレコードを更新し、更新後のレコードを返す。見つからない場合はnilを返す。
func (r *PostgresTableRepo) Update(ctx context.Context, table, id string, values Record, returning []string) (Record, error) {
	keys := sortedKeys(values)
	if len(keys) == 0 {
		return r.Get(ctx, table, returning, id)
	}

	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	args = append(args, id)
	for i, k := range keys {
		args = append(args, values[k])
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(k), len(args))
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $1 RETURNING %s",
		pq.QuoteIdentifier(table), strings.Join(sets, ", "), quoteColumns(returning))
	return r.queryOne(ctx, table, returning, query, args...)
}

// Delete は主キーidのレコードを削除する。
func (r *PostgresTableRepo) Delete(ctx context.Context, table, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM "+pq.QuoteIdentifier(table)+" WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteMany は複数のidをまとめて削除する。
func (r *PostgresTableRepo) DeleteMany(ctx context.Context, table string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM "+pq.QuoteIdentifier(table)+" WHERE id::text = ANY($1)", pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to bulk delete from %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *PostgresTableRepo) queryOne(ctx context.Context, table string, columns []string, query string, args ...any) (Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows, columns)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", table, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// scanRecords は行をRecordに変換する。
// lib/pqはuuid等を[]byteで返すため文字列に正規化する。
// json/jsonb列はjson.RawMessageのままにし、JSON出力でネストしたオブジェクトになるようにする。
func scanRecords(rows *sql.Rows, columns []string) ([]Record, error) {
	jsonCols := make([]bool, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			if i >= len(jsonCols) {
				break
			}
			switch strings.ToUpper(ct.DatabaseTypeName()) {
			case "JSON", "JSONB":
				jsonCols[i] = true
			}
		}
	}

	var records []Record
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				if jsonCols[i] {
					rec[col] = json.RawMessage(b)
				} else {
					rec[col] = string(b)
				}
				continue
			}
			rec[col] = values[i]
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return records, nil
}

func quoteColumns(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func sortedKeys(values Record) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compile-time interface check
var _ TableRepository = (*PostgresTableRepo)(nil)

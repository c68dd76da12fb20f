// Package admin はレジストリに登録したテーブルの一覧・詳細・編集・削除を提供する。
package admin

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldType はフォーム入力値の変換方法を表す。
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldBool   FieldType = "bool"
	FieldTime   FieldType = "time"
	FieldEmail  FieldType = "email"
	FieldText   FieldType = "text"
)

// Field はリソースの1カラム。
// Hiddenのフィールドは一覧に含めず、詳細とエクスポートにのみ含める。
// Optionsが空でなければ値はそのいずれかでなければならない。
type Field struct {
	Name     string
	Label    string
	Type     FieldType
	Required bool
	Editable bool
	Hidden   bool
	Options  []string
}

// Resource は管理画面で扱うテーブルの定義。
// 主キーは常にidカラムで、作成時にUUIDを採番する。
// DefaultSortは "-created_at" のように先頭の - で降順を表す。
type Resource struct {
	Name         string
	Label        string
	Table        string
	Fields       []Field
	SearchFields []string
	FilterFields []string
	DefaultSort  string
	ReadOnly     bool
	// NoCreate はレコードの作成を別の経路（ユーザー登録など）に限る場合に指定する。
	NoCreate bool
}

// Field は名前に一致するフィールドを返す。
func (r Resource) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Columns は全フィールドのカラム名を定義順で返す。
func (r Resource) Columns() []string {
	cols := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		cols[i] = f.Name
	}
	return cols
}

// ListColumns は一覧表示用のカラム名を返す。
func (r Resource) ListColumns() []string {
	cols := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		if !f.Hidden {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func (r Resource) validate() error {
	if !identPattern.MatchString(r.Name) {
		return fmt.Errorf("invalid resource name %q", r.Name)
	}
	if !identPattern.MatchString(r.Table) {
		return fmt.Errorf("resource %s: invalid table %q", r.Name, r.Table)
	}

	seen := make(map[string]bool, len(r.Fields))
	for _, f := range r.Fields {
		if !identPattern.MatchString(f.Name) {
			return fmt.Errorf("resource %s: invalid field %q", r.Name, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("resource %s: duplicate field %q", r.Name, f.Name)
		}
		seen[f.Name] = true
	}
	if !seen["id"] {
		return fmt.Errorf("resource %s: id field is required", r.Name)
	}

	for _, name := range append(append([]string{}, r.SearchFields...), r.FilterFields...) {
		if !seen[name] {
			return fmt.Errorf("resource %s: unknown field %q", r.Name, name)
		}
	}
	if sort := strings.TrimPrefix(r.DefaultSort, "-"); sort != "" && !seen[sort] {
		return fmt.Errorf("resource %s: unknown sort field %q", r.Name, sort)
	}
	return nil
}

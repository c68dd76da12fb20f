// Package search は管理画面とエクスポートで使う簡易検索クエリを解析する。
//
// 構文:
//
//	alice bob           両方の語を含む（語ごとにいずれかの列に部分一致）
//	"alice smith"       フレーズとして一致
//	role:admin          列の値の完全一致（許可された列のみ）
//	status:"past due"   値にも引用符が使える
package search

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/lib/pq"
)

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Filter は field:value 形式の条件。
type Filter struct {
	Field string
	Value string
}

// Query は解析済みの検索クエリ。語とフィルタはすべて小文字。
type Query struct {
	Terms   []string
	Filters []Filter
}

// IsEmpty は条件が1つもないかを返す。
func (q Query) IsEmpty() bool {
	return len(q.Terms) == 0 && len(q.Filters) == 0
}

type token struct {
	text        string
	startsQuote bool
}

// ParseQuery は検索文字列を語とフィルタに分解する。
// 閉じられていない引用符は末尾まで続くものとして扱う。
func ParseQuery(raw string) Query {
	var q Query
	for _, tok := range tokenize(raw) {
		text := strings.ToLower(tok.text)
		if text == "" {
			continue
		}
		if !tok.startsQuote {
			if field, value, ok := strings.Cut(text, ":"); ok && value != "" && fieldPattern.MatchString(field) {
				q.Filters = append(q.Filters, Filter{Field: field, Value: value})
				continue
			}
		}
		q.Terms = append(q.Terms, text)
	}
	return q
}

func tokenize(raw string) []token {
	var (
		tokens  []token
		cur     strings.Builder
		inQuote bool
		started bool
		quoted  bool
	)
	flush := func() {
		if started {
			tokens = append(tokens, token{text: strings.TrimSpace(cur.String()), startsQuote: quoted})
		}
		cur.Reset()
		started, quoted = false, false
	}

	for _, r := range raw {
		switch {
		case r == '"':
			if !started {
				started, quoted = true, true
			}
			inQuote = !inQuote
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			started = true
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// SQL はクエリをWHERE句の断片とパラメータに変換する。
// 語ごとにsearch列のいずれかへのILIKE（OR）を作り、語同士はANDで結ぶ。
// フィルタはfilterable列に含まれるものだけを使い、それ以外は無視する。
// search列がないのに語がある場合はFALSEを返す（Matchと同じくどの行にも一致しない）。
// プレースホルダはstartArgから採番する。条件がない場合は空文字を返す。
func (q Query) SQL(search, filterable []string, startArg int) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", startArg+len(args)-1)
	}

	switch {
	case len(q.Terms) > 0 && len(search) == 0:
		// 検索対象の列がなければ語は何にも一致しない
		clauses = append(clauses, "FALSE")
	default:
		for _, term := range q.Terms {
			ph := next("%" + escapeLike(term) + "%")
			ors := make([]string, len(search))
			for i, col := range search {
				ors[i] = fmt.Sprintf("%s::text ILIKE %s", pq.QuoteIdentifier(col), ph)
			}
			clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
		}
	}

	for _, f := range q.Filters {
		if !containsString(filterable, f.Field) {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("lower(%s::text) = %s", pq.QuoteIdentifier(f.Field), next(f.Value)))
	}

	return strings.Join(clauses, " AND "), args
}

// Match はSQLと同じ意味でメモリ上のレコードを判定する。
func (q Query) Match(record map[string]any, search, filterable []string) bool {
	for _, term := range q.Terms {
		hit := false
		for _, col := range search {
			if v, ok := record[col]; ok && strings.Contains(strings.ToLower(stringify(v)), term) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, f := range q.Filters {
		if !containsString(filterable, f.Field) {
			continue
		}
		v, ok := record[f.Field]
		if !ok || strings.ToLower(stringify(v)) != f.Value {
			return false
		}
	}
	return true
}

// escapeLike はLIKEパターンの特殊文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.RawMessage:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

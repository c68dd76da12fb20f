// Package export は管理対象データをCSV/JSONとして書き出す。
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Format は出力形式。
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrUnsupportedFormat は未対応の形式が指定された場合のエラー。
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat は文字列を形式に変換する。空文字はCSVとして扱う。
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ContentType は形式に対応するContent-Typeを返す。
func ContentType(f Format) string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

// Filename はダウンロード用のファイル名を返す（例: users-20250601-120000.csv）。
func Filename(resource string, f Format, now time.Time) string {
	return fmt.Sprintf("%s-%s.%s", resource, now.UTC().Format("20060102-150405"), f)
}

// ObjectKey はオブジェクトストレージ上の保存先キーを返す。
func ObjectKey(resource string, f Format, now time.Time) string {
	d := now.UTC()
	return fmt.Sprintf("exports/%04d/%02d/%02d/%s-%s", d.Year(), d.Month(), d.Day(), uuid.NewString(), Filename(resource, f, now))
}

// Write はrowsをcolumnsの順で書き出す。
// CSVはヘッダー行付き、JSONはオブジェクトの配列（キーはcolumnsの順）になる。
func Write(w io.Writer, f Format, columns []string, rows []map[string]any) error {
	switch f {
	case FormatCSV:
		return writeCSV(w, columns, rows)
	case FormatJSON:
		return writeJSON(w, columns, rows)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
}

func writeCSV(w io.Writer, columns []string, rows []map[string]any) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			record[i] = csvValue(row[col])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// csvValue は値を文字列化する。
// 文字列が数式として解釈されうる文字で始まる場合は先頭に ' を付ける。
func csvValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return neutralizeFormula(t)
	case []byte:
		return neutralizeFormula(string(t))
	case json.RawMessage:
		return neutralizeFormula(string(t))
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return neutralizeFormula(fmt.Sprint(t))
	}
}

func neutralizeFormula(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@':
		return "'" + s
	}
	return s
}

func writeJSON(w io.Writer, columns []string, rows []map[string]any) error {
	keys := make([][]byte, len(columns))
	for i, col := range columns {
		k, err := json.Marshal(col)
		if err != nil {
			return fmt.Errorf("failed to encode column name: %w", err)
		}
		keys[i] = k
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for r, row := range rows {
		if r > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for i, col := range columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			v, err := json.Marshal(row[col])
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", col, err)
			}
			buf.Write(keys[i])
			buf.WriteByte(':')
			buf.Write(v)
		}
		buf.WriteByte('}')
	}
	buf.WriteString("]\n")

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write json: %w", err)
	}
	return nil
}

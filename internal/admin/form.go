package admin

import (
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/shipkit/internal/auth"
	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/security"
)

var sanitizer security.InputSanitizer = security.NewInputSanitizer()

// 受け付ける日時の書式。datetime-local入力と日付のみも許可する。
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02",
}

// CleanFormData は作成用のフォーム入力を検証・変換する。
// 未知のフィールドと編集不可のフィールドは捨て、必須フィールドの欠落はエラーにする。
func CleanFormData(res Resource, raw map[string]string) (map[string]any, []model.FieldError) {
	return cleanForm(res, raw, false)
}

// cleanForm はpartialの場合、送信されなかった必須フィールドを許容する（更新用）。
// 送信された空値は、必須フィールドならエラー、それ以外はNULLとして扱う。
func cleanForm(res Resource, raw map[string]string, partial bool) (map[string]any, []model.FieldError) {
	values := make(map[string]any)
	var errs []model.FieldError

	for _, f := range res.Fields {
		if !f.Editable {
			continue
		}

		rawValue, present := raw[f.Name]
		var value string
		if f.Type == FieldText {
			value = sanitizer.SanitizeRichText(rawValue)
		} else {
			value = sanitizer.SanitizeText(rawValue)
		}

		if value == "" {
			switch {
			case f.Required && (present || !partial):
				errs = append(errs, model.FieldError{Field: f.Name, Message: "必須項目です。"})
			case present:
				values[f.Name] = nil
			}
			continue
		}

		v, msg := coerce(f, value)
		if msg != "" {
			errs = append(errs, model.FieldError{Field: f.Name, Message: msg})
			continue
		}
		values[f.Name] = v
	}

	return values, errs
}

func coerce(f Field, value string) (any, string) {
	switch f.Type {
	case FieldInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, "整数で入力してください。"
		}
		return n, ""
	case FieldBool:
		b, ok := parseBool(value)
		if !ok {
			return nil, "true または false を指定してください。"
		}
		return b, ""
	case FieldTime:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t.UTC(), ""
			}
		}
		return nil, "日時の形式が正しくありません。"
	case FieldEmail:
		email := strings.ToLower(value)
		if !auth.IsValidEmail(email) {
			return nil, "メールアドレスの形式が正しくありません。"
		}
		return email, ""
	default:
		if len(f.Options) > 0 && !contains(f.Options, value) {
			return nil, "次のいずれかを指定してください: " + strings.Join(f.Options, ", ")
		}
		return value, ""
	}
}

// parseBool はチェックボックスの "on" なども真偽値として扱う。
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "yes":
		return true, true
	case "off", "no":
		return false, true
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return b, true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

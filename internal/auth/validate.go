package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/hitoshi/shipkit/internal/model"
)

const (
	minPasswordLength = 8
	// bcryptは72バイトを超える入力を拒否する
	maxPasswordBytes = 72
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)

// ValidateUserData は登録時の入力値を検証し、フィールド単位のエラーを返す。
// 問題がなければ空のスライスを返す。
func ValidateUserData(email, username, password string) []model.FieldError {
	var errs []model.FieldError

	if !IsValidEmail(email) {
		errs = append(errs, model.FieldError{Field: "email", Message: "メールアドレスの形式が正しくありません。"})
	}
	if !usernamePattern.MatchString(username) {
		errs = append(errs, model.FieldError{Field: "username", Message: "ユーザー名は3〜30文字の英数字、_、-で入力してください。"})
	}
	if msg := validatePassword(password); msg != "" {
		errs = append(errs, model.FieldError{Field: "password", Message: msg})
	}

	return errs
}

// IsValidEmail は表示名なしの単一アドレスのみを受け付ける。
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@"):], ".")
}

func validatePassword(password string) string {
	if len(password) < minPasswordLength {
		return "パスワードは8文字以上で入力してください。"
	}
	if len(password) > maxPasswordBytes {
		return "パスワードは72バイト以内で入力してください。"
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return "パスワードには英字と数字を両方含めてください。"
	}
	return ""
}

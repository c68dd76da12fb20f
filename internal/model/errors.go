package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string       // エラーコード
	Message  string       // エラーメッセージ
	Category string       // カテゴリ: auth, validation, permission, admin, system
	Action   string       // ユーザー向け対処方法
	Fields   []FieldError // バリデーションエラーの詳細（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// FieldError は入力フィールド単位のバリデーションエラー。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeUsernameTaken      = "USERNAME_TAKEN"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeCSRFFailed         = "CSRF_FAILED"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeFlagNotFound       = "FLAG_NOT_FOUND"
	ErrCodeResourceNotFound   = "RESOURCE_NOT_FOUND"
	ErrCodeRecordNotFound     = "RECORD_NOT_FOUND"
	ErrCodeReadOnlyResource   = "READ_ONLY_RESOURCE"
	ErrCodeCreateNotAllowed   = "CREATE_NOT_ALLOWED"
	ErrCodeInvalidFormat      = "INVALID_FORMAT"
	ErrCodeExportUnavailable  = "EXPORT_UNAVAILABLE"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthorizedError は認証が必要な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(required string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作を行う権限がありません: %s", required),
		Category: "permission",
		Action:   "管理者に権限の付与を依頼してください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// ユーザーの存在有無を推測されないよう、失敗理由は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレス（ユーザー名）またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewValidationError は入力値エラーを生成する。
func NewValidationError(fields []FieldError) *APIError {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Field
	}
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", strings.Join(names, ", ")),
		Category: "validation",
		Action:   "各項目のエラーを確認して修正してください。",
		Fields:   fields,
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewUsernameTakenError はユーザー名重複エラーを生成する。
func NewUsernameTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  "このユーザー名は既に使用されています。",
		Category: "validation",
		Action:   "別のユーザー名を入力してください。",
	}
}

// NewInvalidTokenError はトークン検証失敗エラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "トークンが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "もう一度手続きをやり直してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewCSRFFailedError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewFlagNotFoundError は機能フラグが見つからない場合のエラーを生成する。
func NewFlagNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeFlagNotFound,
		Message:  fmt.Sprintf("機能フラグが見つかりません: %s", name),
		Category: "validation",
		Action:   "フラグ名を確認してください。",
	}
}

// NewResourceNotFoundError は管理対象リソースが未登録の場合のエラーを生成する。
func NewResourceNotFoundError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeResourceNotFound,
		Message:  fmt.Sprintf("リソースが見つかりません: %s", resource),
		Category: "admin",
		Action:   "リソース名を確認してください。",
	}
}

// NewRecordNotFoundError はレコードが見つからない場合のエラーを生成する。
func NewRecordNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:     ErrCodeRecordNotFound,
		Message:  fmt.Sprintf("%s のレコードが見つかりません: %s", resource, id),
		Category: "admin",
		Action:   "IDを確認してください。",
	}
}

// NewReadOnlyResourceError は読み取り専用リソースへの書き込みエラーを生成する。
func NewReadOnlyResourceError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeReadOnlyResource,
		Message:  fmt.Sprintf("%s は読み取り専用です。", resource),
		Category: "admin",
		Action:   "このリソースは管理画面から変更できません。",
	}
}

// NewCreateNotAllowedError は管理画面からの新規作成を受け付けないリソースのエラーを生成する。
func NewCreateNotAllowedError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeCreateNotAllowed,
		Message:  fmt.Sprintf("%s は管理画面から作成できません。", resource),
		Category: "admin",
		Action:   "ユーザー登録などの専用の手段を使用してください。",
	}
}

// NewInvalidFormatError はエクスポート形式が不正な場合のエラーを生成する。
func NewInvalidFormatError(format string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFormat,
		Message:  fmt.Sprintf("無効なエクスポート形式です: %s", format),
		Category: "validation",
		Action:   "format には csv または json を指定してください。",
	}
}

// NewExportUnavailableError はオブジェクトストレージ未設定時のエラーを生成する。
func NewExportUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeExportUnavailable,
		Message:  "オブジェクトストレージへのエクスポートは設定されていません。",
		Category: "system",
		Action:   "delivery パラメータを外してダウンロードしてください。",
	}
}

// NewInvalidRequestError はリクエストボディを解釈できない場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストの形式が正しくありません。",
		Category: "validation",
		Action:   "送信内容を確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

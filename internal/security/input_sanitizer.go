// Package security は管理画面などから受け取る入力値の無害化を提供する。
//
// bluemondayの許可リストベースのポリシーで、保存前にマークアップを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizer はフォーム入力値のサニタイズ機能のインターフェースを定義する。
type InputSanitizer interface {
	// SanitizeText は全てのタグを除去したプレーンテキストを返す。
	// 前後の空白は取り除かれる。
	SanitizeText(raw string) string
	// SanitizeRichText は簡単な装飾タグ（p, br, strong, em, ul, ol, li, a）のみを残す。
	// aタグのhrefはhttps/mailtoのみ許可し、target="_blank"とrelを付与する。
	SanitizeRichText(raw string) string
}

// inputSanitizer はInputSanitizerの実装。
// bluemondayのポリシーは並行利用できる。
type inputSanitizer struct {
	strict *bluemonday.Policy
	rich   *bluemonday.Policy
}

// NewInputSanitizer はInputSanitizerの新しいインスタンスを生成する。
func NewInputSanitizer() *inputSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "strong", "em", "ul", "ol", "li")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("https", "mailto")
	rich.AllowRelativeURLs(false)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &inputSanitizer{
		strict: bluemonday.StrictPolicy(),
		rich:   rich,
	}
}

// SanitizeText はタグを除去する。
// StrictPolicyはエンティティをエスケープするため、保存値としては元の文字に戻す。
func (s *inputSanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

// SanitizeRichText は許可タグ以外を除去する。
func (s *inputSanitizer) SanitizeRichText(raw string) string {
	return strings.TrimSpace(s.rich.Sanitize(raw))
}

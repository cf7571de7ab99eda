// Package security はクローラーとAPIのセキュリティ機能を提供する。
//
// TextSanitizer は記事ページから抽出したテキストからマークアップを除去し、
// タイトルや要約にHTMLが混入しないことを保証する。
// SSRFGuard はクロール対象URLの検証と安全なHTTPクライアントの生成を行う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は抽出テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は入力から全てのタグを除去したプレーンテキストを返す。
	// HTMLエンティティはデコードされ、前後の空白は除去される。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーは構築後は並行利用に対して安全。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグを一切許可しないストリクトポリシーの
// TextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを除去し、エンティティをデコードしたテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyは残したテキストをエスケープするため、最後に戻す
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}

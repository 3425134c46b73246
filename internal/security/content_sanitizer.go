// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer は投稿本文からHTMLを除去し、一覧表示用の抜粋を生成する。
// 投稿本文は外部サービスから受け取ったユーザー入力のため、
// bluemondayのStrictPolicyで全てのタグを取り除いたプレーンテキストのみを返す。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// excerptSuffix は抜粋を切り詰めた場合に末尾へ付与する記号。
const excerptSuffix = "…"

// ContentSanitizer は投稿本文のサニタイズと抜粋生成を行う。
// bluemondayのポリシーはスレッドセーフなため、1インスタンスを共有してよい。
type ContentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
func NewContentSanitizer() *ContentSanitizer {
	return &ContentSanitizer{policy: bluemonday.StrictPolicy()}
}

// PlainText は全てのHTMLタグを除去し、文字参照を復元したうえで連続する空白を1つにまとめる。
func (s *ContentSanitizer) PlainText(content string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(content))
	return strings.Join(strings.Fields(stripped), " ")
}

// Excerpt はプレーンテキスト化した本文の先頭 maxRunes 文字を返す。
// 切り詰めた場合は末尾に「…」を付与する。maxRunes が0以下の場合は全文を返す。
func (s *ContentSanitizer) Excerpt(content string, maxRunes int) string {
	text := s.PlainText(content)
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimRight(string(runes[:maxRunes]), " ") + excerptSuffix
}

package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はフォーム入力をプレーンテキストに正規化する機能のインターフェースを定義する。
// 入力値は画像生成プロンプトに埋め込まれ、カバー履歴として再表示される。
type TextSanitizerService interface {
	// Sanitize はHTMLタグを除去し、前後の空白を取り除き、連続する空白を1つにまとめる。
	// maxRunes を超える場合は先頭maxRunes文字に切り詰める。maxRunesが0以下なら切り詰めない。
	Sanitize(raw string, maxRunes int) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyはすべてのタグと属性を除去する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はフォーム入力をプレーンテキストに正規化する。
func (s *textSanitizer) Sanitize(raw string, maxRunes int) string {
	// StrictPolicyは&等をエスケープして返すため、プレーンテキストに戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		text = strings.TrimSpace(string([]rune(text)[:maxRunes]))
	}
	return text
}

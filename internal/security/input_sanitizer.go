package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizer はフォームの自由入力（顧客名、説明、メール、電話番号など）から
// マークアップを取り除き、プレーンテキストに正規化する。
type InputSanitizer interface {
	Sanitize(input string) string
}

type inputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はタグを一切許可しないポリシーのサニタイザを生成する。
func NewInputSanitizer() *inputSanitizer {
	return &inputSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エスケープを戻して前後の空白を取り除く。
// アポストロフィ等はそのまま残る（O'Brien はクエリ側でエスケープする）。
func (s *inputSanitizer) Sanitize(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(input)))
}

var _ InputSanitizer = (*inputSanitizer)(nil)

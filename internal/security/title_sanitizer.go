// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TitleSanitizerService は外部プラットフォームから取得した課題タイトルから
// HTMLマークアップを除去する。タイトルはプレーンテキストとして保存・表示されるため、
// bluemondayのStrictPolicyで全タグを除去したうえでエンティティを復元する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizerService は課題タイトルのサニタイズ機能のインターフェースを定義する。
type TitleSanitizerService interface {
	// Sanitize はタイトルからタグを除去し、連続する空白を1つにまとめて返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawTitle string) string
}

// titleSanitizer はTitleSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type titleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerServiceの新しいインスタンスを生成する。
func NewTitleSanitizer() *titleSanitizer {
	return &titleSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタイトルをプレーンテキストに変換する。
// StrictPolicyは "&" などをエスケープするため、html.UnescapeStringで元の文字に戻す。
func (s *titleSanitizer) Sanitize(rawTitle string) string {
	if rawTitle == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(rawTitle))
	return strings.Join(strings.Fields(stripped), " ")
}

// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MetadataSanitizerService は通知に含まれる動画タイトルや投稿者名などの
// メタデータをサニタイズし、後段のAPI応答でのXSSリスクを除去する。
// bluemondayライブラリのStrictPolicyでタグを全て除去した上で、
// HTMLエンティティを元のテキストに戻す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MetadataSanitizerService はメタデータのサニタイズ機能のインターフェースを定義する。
// 通知の保存前に使用される。
type MetadataSanitizerService interface {
	// Sanitize はメタデータ文字列からHTMLタグを全て除去し、プレーンテキストを返す。
	// エンティティ化された文字（&amp;等）は元の文字に戻される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// metadataSanitizer はMetadataSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type metadataSanitizer struct {
	policy *bluemonday.Policy
}

// NewMetadataSanitizer はMetadataSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを一切持たないため、script等の危険なタグも
// 通常のマークアップも全てテキストから取り除かれる。
func NewMetadataSanitizer() *metadataSanitizer {
	return &metadataSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はメタデータ文字列からHTMLタグを除去してプレーンテキストを返す。
// StrictPolicyはタグ除去後にテキストをエンティティ化するため、
// タイトルとして保存する前にUnescapeStringで元の文字に戻す。
func (s *metadataSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// BackendUnavailableError はバックエンド（Valkey/PostgreSQL）への接続失敗を表す。
// キューやシンクは内部でリトライせず、このエラーを呼び出し側に伝播する。
// リトライポリシーは呼び出し側（プロセッサ）が持つ。
type BackendUnavailableError struct {
	Backend string // 対象バックエンド名（例: "valkey", "postgres"）
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("バックエンド %s が利用できません: %v", e.Backend, e.Err)
}

// Unwrap はラップされた原因エラーを返す。
func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// NewBackendUnavailableError はBackendUnavailableErrorを生成する。
func NewBackendUnavailableError(backend string, err error) *BackendUnavailableError {
	return &BackendUnavailableError{Backend: backend, Err: err}
}

// IsBackendUnavailable はエラーがバックエンド接続失敗かどうかを判定する。
func IsBackendUnavailable(err error) bool {
	var be *BackendUnavailableError
	return errors.As(err, &be)
}

// ErrConflict は重複キーなど、リトライしても結果が変わらない書き込み競合を表す。
// シンクの非リトライ対象セットの判定に使用される。
var ErrConflict = errors.New("書き込みが競合しました（リトライ不可）")

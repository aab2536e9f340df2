// Package indexer は通知のインデキシングパイプラインを構成するサービス群を提供する。
// 結果モデル、リトライ実行器、3つのシンク（ストレージ・検索インデックス・
// チャンネル統計）を含む。
package indexer

import (
	"context"
	"time"
)

// OperationStatus は1回のシンク操作または1件の処理全体の結果種別を表す。
type OperationStatus string

const (
	// StatusSuccess は操作の成功を示す。
	StatusSuccess OperationStatus = "success"
	// StatusFailure は操作の失敗を示す。
	StatusFailure OperationStatus = "failure"
	// StatusPartialSuccess はストレージ成功かつ副次シンク失敗の部分成功を示す。
	StatusPartialSuccess OperationStatus = "partial_success"
)

// OperationResult は1回のシンク操作の結果を表す。
// 構築後は変更しない。ファクトリ関数で生成することでステータスと内容の
// 整合を保つ。
type OperationResult struct {
	Status   OperationStatus
	Message  string
	Err      error
	Metadata map[string]any
}

// IsSuccess は操作が成功したかどうかを返す。
func (r OperationResult) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// IsFailure は操作が失敗したかどうかを返す。
func (r OperationResult) IsFailure() bool {
	return r.Status == StatusFailure
}

// Success は成功結果を生成する。
func Success(message string, metadata map[string]any) OperationResult {
	return OperationResult{Status: StatusSuccess, Message: message, Metadata: metadata}
}

// Failure は失敗結果を生成する。
func Failure(message string, err error) OperationResult {
	return OperationResult{Status: StatusFailure, Message: message, Err: err}
}

// PartialSuccess は部分成功結果を生成する。
func PartialSuccess(message string, metadata map[string]any) OperationResult {
	return OperationResult{Status: StatusPartialSuccess, Message: message, Metadata: metadata}
}

// ProcessingResult は1件のNotificationを3つのシンクすべてに通した結果を表す。
type ProcessingResult struct {
	VideoID  string
	Storage  OperationResult
	Indexing OperationResult
	Stats    OperationResult
}

// OverallStatus は集約ルールに従って全体ステータスを返す。
//
// 3つすべて成功ならSUCCESS。ストレージが失敗ならFAILURE。
// それ以外（ストレージ成功かつ検索/統計のいずれかが失敗）はPARTIAL_SUCCESS。
// ストレージだけが致命シンクであり、一次ストアにレコードが入っていれば
// 副次プロジェクションが遅れていてもアイテムは配信済みとみなす。
func (r ProcessingResult) OverallStatus() OperationStatus {
	if r.Storage.IsSuccess() && r.Indexing.IsSuccess() && r.Stats.IsSuccess() {
		return StatusSuccess
	}
	if r.Storage.IsSuccess() {
		return StatusPartialSuccess
	}
	return StatusFailure
}

// IsSuccess は3つのシンクすべてが成功したかどうかを返す。
func (r ProcessingResult) IsSuccess() bool {
	return r.OverallStatus() == StatusSuccess
}

// HealthStatus は1つのサービスのヘルスチェック結果を表す。
type HealthStatus struct {
	ServiceName  string
	IsHealthy    bool
	ResponseTime time.Duration
	Message      string
}

// HealthChecker はヘルスチェックをサポートするサービスのインターフェース。
// HealthCheckはエラーを返さず、失敗はIsHealthy=falseとメッセージで表現する。
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthStatus
}

// Package queue は通知ペイロードの永続キューを提供する。
// プロデューサ（Webhookレシーバ）とコンシューマ（ワーカー）の両者が
// 依存するキュー契約をここで定義する。
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Item はキューから取り出した1件のペイロードを表す。
// キュー自体はペイロードの内容に関知しない。
type Item struct {
	// Raw は取り出したペイロードのテキスト表現。常に設定される。
	Raw string
	// Data はペイロードがJSONとしてデコードできた場合の構造化表現。
	// デコードできない場合はnilで、Rawのみを使用する。
	Data any
}

// decodeItem はペイロードを機会的にJSONデコードしてItemを構築する。
// デコード失敗はエラーではなく、素のテキストとして扱う。
func decodeItem(raw string) Item {
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err == nil {
		switch data.(type) {
		case map[string]any, []any:
			return Item{Raw: raw, Data: data}
		}
	}
	return Item{Raw: raw}
}

// Queue は永続キューの契約を定義する。
// 配信はキューからの取り出しに関しては exactly-once（同一アイテムが
// 2つの取り出しに観測されることはない）、エンドツーエンドでは
// at-least-once となる。
type Queue interface {
	// Enqueue はアイテムをキューに追加する。
	// マップ・スライス・構造体はJSONにシリアライズされ、文字列はそのまま格納される。
	// バックエンドに到達できない場合はBackendUnavailableErrorを返す。
	// キュー内部ではリトライしない。
	Enqueue(ctx context.Context, item any) error

	// Dequeue はキューの先頭からアイテムを1件取り出す。
	// timeoutが経過してもアイテムがない場合は ok=false を返す（エラーではない）。
	Dequeue(ctx context.Context, timeout time.Duration) (item Item, ok bool, err error)

	// BatchDequeue は最大n件のアイテムをアトミックに取り出す。
	// n件未満しかない場合は存在する分だけを返す（ブロックしない、エラーでもない）。
	// 並行する呼び出しが同一アイテムを二重に受け取ることはない。
	BatchDequeue(ctx context.Context, n int) ([]Item, error)

	// Size は現在のキュー長の近似値を返す。
	// ポーリングのヒントとしてのみ使用し、正確性の根拠にしてはならない。
	Size(ctx context.Context) (int64, error)
}

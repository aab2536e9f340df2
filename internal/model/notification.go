// Package model はドメインモデルを定義する。
package model

import "time"

// SourcePubSubHubbub はPubSubHubbub経由で受信した通知を示すソースタグ。
const SourcePubSubHubbub = "pubsubhubbub"

// Notification はPubSubHubbub通知をパースした1件の取り込みイベントを表す。
// VideoIDのみが必須で、その他のメタデータは欠落を許容する。
// VideoIDを持たないNotificationは存在できない（パーサーがnilを返す）。
type Notification struct {
	VideoID     string     // 動画の一意キー（必須）
	ChannelID   string     // チャンネルID（欠落時は空文字）
	Title       string     // 動画タイトル（欠落時は空文字）
	Author      string     // 投稿者名（欠落時は空文字）
	Link        string     // 動画URL（欠落時は空文字）
	Published   *time.Time // 公開日時（パース不能な場合はnil）
	Updated     *time.Time // 更新日時（パース不能な場合はnil）
	ProcessedAt time.Time  // パース時刻（常に設定される）
	Source      string     // 取り込み元の固定タグ
}

// Video はストレージに永続化された動画レコードを表す。
type Video struct {
	ID          string
	VideoID     string
	ChannelID   string
	Title       string
	Author      string
	Link        string
	Published   *time.Time
	Updated     *time.Time
	Source      string
	ProcessedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChannelStats はチャンネルごとの集計統計を表す。
// VideoCountはインクリメントのみで、動画テーブルから再計算されることはない。
type ChannelStats struct {
	ChannelID    string
	VideoCount   int64
	FirstSeen    time.Time
	LastActivity time.Time
}

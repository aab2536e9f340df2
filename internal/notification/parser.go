// Package notification はPubSubHubbub通知ペイロードのパースを提供する。
package notification

import (
	"log/slog"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/ytindexer/internal/model"
)

// ytExtensionNamespace はYouTubeのAtom拡張のプレフィックス。
// 通知ペイロードでは xmlns:yt="http://www.youtube.com/xml/schemas/2015" として宣言される。
const ytExtensionNamespace = "yt"

// Parser はYouTube PubSubHubbub通知XMLをNotificationに変換する。
//
// パースは全域的であり、どんな入力に対してもエラーを返さない:
// 正常なペイロードはNotificationを、構造不正・エントリ欠落・videoId欠落の
// ペイロードはnilを返す。videoIdだけが必須の検証ゲートで、
// その他のフィールドは個別に欠落を許容する（タイトルのない通知も有効）。
type Parser struct {
	logger *slog.Logger
}

// NewParser はParserの新しいインスタンスを生成する。
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Parse は通知XMLをパースしてNotificationを返す。
// パースできない場合はnilを返す（エラーを返さず、呼び出し側に伝播しない）。
func (p *Parser) Parse(raw string) *model.Notification {
	// gofeed.Parserは内部状態を持つため呼び出しごとに生成する
	parser := gofeed.NewParser()
	feed, err := parser.ParseString(raw)
	if err != nil {
		p.logger.Warn("通知XMLのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil
	}

	if len(feed.Items) == 0 {
		p.logger.Warn("通知XMLにエントリが含まれていません")
		return nil
	}
	entry := feed.Items[0]

	videoID := ytExtensionValue(entry, "videoId")
	if videoID == "" {
		p.logger.Warn("通知から動画IDを抽出できませんでした")
		return nil
	}

	n := &model.Notification{
		VideoID:     videoID,
		ChannelID:   ytExtensionValue(entry, "channelId"),
		Title:       entry.Title,
		Link:        entry.Link,
		ProcessedAt: time.Now().UTC(),
		Source:      model.SourcePubSubHubbub,
	}

	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		n.Author = entry.Authors[0].Name
	}

	// gofeedはパース不能な日時をnilのまま残すため、欠落として扱える
	if entry.PublishedParsed != nil {
		t := entry.PublishedParsed.UTC()
		n.Published = &t
	}
	if entry.UpdatedParsed != nil {
		t := entry.UpdatedParsed.UTC()
		n.Updated = &t
	}

	return n
}

// ytExtensionValue はエントリのyt:名前空間拡張から値を取り出す。
// 存在しない場合は空文字を返す。
func ytExtensionValue(entry *gofeed.Item, name string) string {
	ns, ok := entry.Extensions[ytExtensionNamespace]
	if !ok {
		return ""
	}
	values, ok := ns[name]
	if !ok || len(values) == 0 {
		return ""
	}
	return values[0].Value
}

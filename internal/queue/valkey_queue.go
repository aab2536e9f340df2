package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/ytindexer/internal/model"
)

// Client はNotificationQueueが必要とするValkeyコマンドのサブセット。
// *redis.Clientがこれを満たす。テストではモックを渡す。
type Client interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// NotificationQueue はValkeyのリストを使用したQueue実装。
// LPUSHで末尾側に追加し、BRPOP/RPOPで先頭側から取り出すFIFO。
// RPOPのCOUNT指定は単一コマンドのため、並行するBatchDequeue同士が
// 同じ要素を観測することはない。
type NotificationQueue struct {
	client    Client
	queueName string
	logger    *slog.Logger
}

// NewNotificationQueue はNotificationQueueの新しいインスタンスを生成する。
func NewNotificationQueue(client Client, queueName string, logger *slog.Logger) *NotificationQueue {
	logger.Info("通知キューを初期化しました",
		slog.String("queue_name", queueName),
	)
	return &NotificationQueue{
		client:    client,
		queueName: queueName,
		logger:    logger,
	}
}

// Enqueue はアイテムをキューに追加する。
// 文字列・バイト列はそのまま、それ以外はJSONにシリアライズして格納する。
func (q *NotificationQueue) Enqueue(ctx context.Context, item any) error {
	payload, err := encodePayload(item)
	if err != nil {
		return fmt.Errorf("ペイロードのシリアライズに失敗: %w", err)
	}

	if err := q.client.LPush(ctx, q.queueName, payload).Err(); err != nil {
		return model.NewBackendUnavailableError("valkey", err)
	}

	q.logger.Debug("アイテムをエンキューしました",
		slog.String("queue_name", q.queueName),
	)
	return nil
}

// Dequeue はBRPOPでキューの先頭からアイテムを1件取り出す。
// timeout経過時は ok=false を返す。空はエラー条件ではない。
func (q *NotificationQueue) Dequeue(ctx context.Context, timeout time.Duration) (Item, bool, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Item{}, false, nil
		}
		return Item{}, false, model.NewBackendUnavailableError("valkey", err)
	}

	// BRPOPは [キー名, 値] の2要素を返す
	if len(result) < 2 {
		return Item{}, false, nil
	}
	return decodeItem(result[1]), true, nil
}

// BatchDequeue はRPOPのCOUNT指定で最大n件をアトミックに取り出す。
func (q *NotificationQueue) BatchDequeue(ctx context.Context, n int) ([]Item, error) {
	if n <= 0 {
		return nil, nil
	}

	values, err := q.client.RPopCount(ctx, q.queueName, n).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, model.NewBackendUnavailableError("valkey", err)
	}

	items := make([]Item, 0, len(values))
	for _, v := range values {
		items = append(items, decodeItem(v))
	}
	return items, nil
}

// Size はLLENでキュー長の近似値を返す。
func (q *NotificationQueue) Size(ctx context.Context) (int64, error) {
	size, err := q.client.LLen(ctx, q.queueName).Result()
	if err != nil {
		return 0, model.NewBackendUnavailableError("valkey", err)
	}
	return size, nil
}

// encodePayload はエンキュー時のシリアライズ境界を実装する。
// 文字列とバイト列は素通しし、それ以外はJSONの正規テキスト表現に変換する。
func encodePayload(item any) (string, error) {
	switch v := item.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

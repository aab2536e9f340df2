package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OpenValkey はValkey（Redis互換）への接続クライアントを生成する。
// 接続自体は遅延されるため、実際の疎通確認にはPingValkeyを使用すること。
func OpenValkey(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// PingValkey はValkeyへの疎通を確認する。
// 起動時の接続チェックに使用する。
func PingValkey(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to valkey: %w", err)
	}
	return nil
}

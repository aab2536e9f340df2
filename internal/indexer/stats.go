package indexer

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/ytindexer/internal/model"
)

// ChannelStatsService はチャンネル単位の集計（channelsテーブル）を扱う。
// video_countはSQL側でインクリメントし、アプリ側では再計算しない。
type ChannelStatsService struct {
	db     *sql.DB
	retry  *RetryableOperation
	logger *slog.Logger
}

// NewChannelStatsService はChannelStatsServiceの新しいインスタンスを生成する。
func NewChannelStatsService(db *sql.DB, retryConfig RetryConfig, logger *slog.Logger) *ChannelStatsService {
	return &ChannelStatsService{
		db: db,
		retry: NewRetryableOperation(retryConfig, logger,
			isUniqueViolation,
			MatchSubstring("duplicate key"),
		),
		logger: logger,
	}
}

// EnsureSchema はchannelsテーブルを冪等に作成する。
func (s *ChannelStatsService) EnsureSchema(ctx context.Context) OperationResult {
	stmt := `CREATE TABLE IF NOT EXISTS channels (
		channel_id TEXT PRIMARY KEY,
		video_count BIGINT NOT NULL DEFAULT 0,
		first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_activity TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		s.logger.Error("channelsスキーマの作成に失敗しました",
			slog.String("error", err.Error()),
		)
		return Failure("channelsスキーマの作成に失敗", err)
	}
	return Success("channelsスキーマを確認しました", nil)
}

// RecordActivity はチャンネルの動画カウントを1増やし、最終活動時刻を更新する。
// 初回はfirst_seenを設定して行を作成する。first_seenは以降更新しない。
func (s *ChannelStatsService) RecordActivity(ctx context.Context, n *model.Notification) OperationResult {
	if n == nil || n.ChannelID == "" {
		return Failure("通知にchannel_idがありません", nil)
	}

	op := func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO channels (channel_id, video_count, first_seen, last_activity)
			 VALUES ($1, 1, now(), now())
			 ON CONFLICT (channel_id) DO UPDATE SET
			     video_count   = channels.video_count + 1,
			     last_activity = now()`,
			n.ChannelID,
		)
		return err
	}

	err := s.retry.Execute(ctx, op, "record_activity_"+n.ChannelID)
	if err != nil {
		if errors.Is(err, ErrSkippedNonRetryable) {
			return Success("チャンネル集計をスキップしました: "+n.ChannelID,
				map[string]any{"channel_id": n.ChannelID, "action": "skipped"})
		}
		s.logger.Error("チャンネル集計の更新に失敗しました",
			slog.String("channel_id", n.ChannelID),
			slog.String("error", err.Error()),
		)
		return Failure("チャンネル集計の更新に失敗: "+n.ChannelID, err)
	}

	return Success("チャンネル集計を更新しました: "+n.ChannelID,
		map[string]any{"channel_id": n.ChannelID, "action": "incremented"})
}

// GetChannelStats はchannel_idで集計行を取得する。見つからない場合はnilを返す。
func (s *ChannelStatsService) GetChannelStats(ctx context.Context, channelID string) (*model.ChannelStats, error) {
	stats := &model.ChannelStats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id, video_count, first_seen, last_activity
		 FROM channels WHERE channel_id = $1`,
		channelID,
	).Scan(&stats.ChannelID, &stats.VideoCount, &stats.FirstSeen, &stats.LastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewBackendUnavailableError("postgres", err)
	}
	return stats, nil
}

// HealthCheck は集計テーブルへの疎通確認を行う。
func (s *ChannelStatsService) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM channels`).Scan(&count)
	elapsed := time.Since(start)

	if err != nil {
		return HealthStatus{
			ServiceName:  "channel_stats",
			IsHealthy:    false,
			ResponseTime: elapsed,
			Message:      "ヘルスチェックに失敗: " + err.Error(),
		}
	}
	return HealthStatus{
		ServiceName:  "channel_stats",
		IsHealthy:    true,
		ResponseTime: elapsed,
		Message:      "集計テーブルは正常です",
	}
}

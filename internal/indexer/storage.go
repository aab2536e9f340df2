package indexer

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/ytindexer/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のSQLSTATEコード。
const pgUniqueViolation = "23505"

// isUniqueViolation は重複キー競合のNonRetryRule。
// リトライしても結果が変わらないため、シンクの非リトライ対象セットに入れる。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return true
	}
	return errors.Is(err, model.ErrConflict)
}

// healthCheckTimeout はヘルスプローブの時間上限。
const healthCheckTimeout = 3 * time.Second

// VideoStorageService は動画メタデータの一次ストレージ（videosテーブル）を扱う。
// 書き込みはvideo_idをキーとするUPSERTで、同一通知の再処理は冪等になる。
type VideoStorageService struct {
	db     *sql.DB
	retry  *RetryableOperation
	logger *slog.Logger
}

// NewVideoStorageService はVideoStorageServiceの新しいインスタンスを生成する。
// dbは接続済みのハンドルを受け取る。接続のライフサイクルは呼び出し側が管理する。
func NewVideoStorageService(db *sql.DB, retryConfig RetryConfig, logger *slog.Logger) *VideoStorageService {
	return &VideoStorageService{
		db: db,
		retry: NewRetryableOperation(retryConfig, logger,
			isUniqueViolation,
			MatchSubstring("duplicate key"),
		),
		logger: logger,
	}
}

// EnsureSchema はvideosテーブルと必要なインデックスを冪等に作成する。
// 既に存在する場合は成功として扱う。
func (s *VideoStorageService) EnsureSchema(ctx context.Context) OperationResult {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS videos (
			id UUID PRIMARY KEY,
			video_id TEXT NOT NULL,
			channel_id TEXT,
			title TEXT,
			author TEXT,
			link TEXT,
			published TIMESTAMPTZ,
			updated TIMESTAMPTZ,
			source TEXT NOT NULL DEFAULT 'pubsubhubbub',
			processed_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS videos_video_id_idx ON videos (video_id)`,
		`CREATE INDEX IF NOT EXISTS videos_channel_id_idx ON videos (channel_id)`,
		`CREATE INDEX IF NOT EXISTS videos_published_idx ON videos (published)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("videosスキーマの作成に失敗しました",
				slog.String("error", err.Error()),
			)
			return Failure("videosスキーマの作成に失敗", err)
		}
	}
	return Success("videosスキーマを確認しました", nil)
}

// StoreVideo は通知メタデータをvideosテーブルにUPSERTする。
// リトライはRetryableOperationが行い、重複キー競合は非致命のスキップになる。
func (s *VideoStorageService) StoreVideo(ctx context.Context, n *model.Notification) OperationResult {
	if n == nil || n.VideoID == "" {
		return Failure("通知にvideo_idがありません", nil)
	}

	op := func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO videos (id, video_id, channel_id, title, author, link,
			                     published, updated, source, processed_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			 ON CONFLICT (video_id) DO UPDATE SET
			     channel_id   = EXCLUDED.channel_id,
			     title        = EXCLUDED.title,
			     author       = EXCLUDED.author,
			     link         = EXCLUDED.link,
			     published    = EXCLUDED.published,
			     updated      = EXCLUDED.updated,
			     processed_at = EXCLUDED.processed_at,
			     updated_at   = now()`,
			uuid.NewString(), n.VideoID,
			nullString(n.ChannelID), nullString(n.Title),
			nullString(n.Author), nullString(n.Link),
			nullTime(n.Published), nullTime(n.Updated),
			n.Source, n.ProcessedAt,
		)
		return err
	}

	err := s.retry.Execute(ctx, op, "store_video_"+n.VideoID)
	if err != nil {
		if errors.Is(err, ErrSkippedNonRetryable) {
			// 競合は再処理で解消しないため、スキップとして成功扱いにする
			return Success("動画の保存をスキップしました: "+n.VideoID,
				map[string]any{"video_id": n.VideoID, "action": "skipped"})
		}
		s.logger.Error("動画の保存に失敗しました",
			slog.String("video_id", n.VideoID),
			slog.String("error", err.Error()),
		)
		return Failure("動画の保存に失敗: "+n.VideoID, err)
	}

	s.logger.Debug("動画を保存しました",
		slog.String("video_id", n.VideoID),
	)
	return Success("動画を保存しました: "+n.VideoID,
		map[string]any{"video_id": n.VideoID, "action": "upserted"})
}

// FindVideo はvideo_idで動画レコードを取得する。見つからない場合はnilを返す。
func (s *VideoStorageService) FindVideo(ctx context.Context, videoID string) (*model.Video, error) {
	v := &model.Video{}
	var channelID, title, author, link sql.NullString
	var published, updated sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, video_id, channel_id, title, author, link,
		        published, updated, source, processed_at, created_at, updated_at
		 FROM videos WHERE video_id = $1`,
		videoID,
	).Scan(
		&v.ID, &v.VideoID, &channelID, &title, &author, &link,
		&published, &updated, &v.Source, &v.ProcessedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewBackendUnavailableError("postgres", err)
	}

	v.ChannelID = channelID.String
	v.Title = title.String
	v.Author = author.String
	v.Link = link.String
	if published.Valid {
		v.Published = &published.Time
	}
	if updated.Valid {
		v.Updated = &updated.Time
	}
	return v, nil
}

// HealthCheck はストレージバックエンドへの軽量な疎通確認を行う。
// 失敗はIsHealthy=falseとメッセージで表現し、エラーとしては返さない。
func (s *VideoStorageService) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := s.db.PingContext(ctx)
	elapsed := time.Since(start)

	if err != nil {
		return HealthStatus{
			ServiceName:  "video_storage",
			IsHealthy:    false,
			ResponseTime: elapsed,
			Message:      "ヘルスチェックに失敗: " + err.Error(),
		}
	}
	return HealthStatus{
		ServiceName:  "video_storage",
		IsHealthy:    true,
		ResponseTime: elapsed,
		Message:      "接続は正常です",
	}
}

// nullString は空文字をNULLとして格納するためのヘルパー。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime はnilをNULLとして格納するためのヘルパー。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

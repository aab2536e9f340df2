package indexer

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/ytindexer/internal/model"
)

// SearchResult は全文検索の1ヒットを表す。
type SearchResult struct {
	VideoID   string
	ChannelID string
	Title     string
	Author    string
	Link      string
	Published *time.Time
	Rank      float64
}

// SearchIndexingService は動画メタデータの検索インデックス（video_searchテーブル）を扱う。
// search_vectorは生成列のため、行をUPSERTするだけでインデックスが更新される。
type SearchIndexingService struct {
	db     *sql.DB
	retry  *RetryableOperation
	logger *slog.Logger
}

// NewSearchIndexingService はSearchIndexingServiceの新しいインスタンスを生成する。
func NewSearchIndexingService(db *sql.DB, retryConfig RetryConfig, logger *slog.Logger) *SearchIndexingService {
	return &SearchIndexingService{
		db: db,
		retry: NewRetryableOperation(retryConfig, logger,
			isUniqueViolation,
			MatchSubstring("duplicate key"),
		),
		logger: logger,
	}
}

// EnsureSchema はvideo_searchテーブルとGINインデックスを冪等に作成する。
func (s *SearchIndexingService) EnsureSchema(ctx context.Context) OperationResult {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS video_search (
			video_id TEXT PRIMARY KEY,
			channel_id TEXT,
			title TEXT,
			author TEXT,
			link TEXT,
			published TIMESTAMPTZ,
			description TEXT,
			tags TEXT[],
			duration_seconds BIGINT,
			view_count BIGINT,
			like_count BIGINT,
			comment_count BIGINT,
			indexed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			search_vector tsvector GENERATED ALWAYS AS (
				to_tsvector('simple',
					coalesce(title, '') || ' ' ||
					coalesce(author, '') || ' ' ||
					coalesce(description, ''))
			) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS video_search_vector_idx ON video_search USING GIN (search_vector)`,
		`CREATE INDEX IF NOT EXISTS video_search_channel_id_idx ON video_search (channel_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("video_searchスキーマの作成に失敗しました",
				slog.String("error", err.Error()),
			)
			return Failure("video_searchスキーマの作成に失敗", err)
		}
	}
	return Success("video_searchスキーマを確認しました", nil)
}

// IndexVideo は通知メタデータを検索インデックスにUPSERTする。
// video_idが主キーのため、同じ動画の再インデックスは上書きになる。
func (s *SearchIndexingService) IndexVideo(ctx context.Context, n *model.Notification) OperationResult {
	if n == nil || n.VideoID == "" {
		return Failure("通知にvideo_idがありません", nil)
	}

	op := func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO video_search (video_id, channel_id, title, author, link, published, indexed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())
			 ON CONFLICT (video_id) DO UPDATE SET
			     channel_id = EXCLUDED.channel_id,
			     title      = EXCLUDED.title,
			     author     = EXCLUDED.author,
			     link       = EXCLUDED.link,
			     published  = EXCLUDED.published,
			     indexed_at = now()`,
			n.VideoID,
			nullString(n.ChannelID), nullString(n.Title),
			nullString(n.Author), nullString(n.Link),
			nullTime(n.Published),
		)
		return err
	}

	err := s.retry.Execute(ctx, op, "index_video_"+n.VideoID)
	if err != nil {
		if errors.Is(err, ErrSkippedNonRetryable) {
			return Success("動画のインデックスをスキップしました: "+n.VideoID,
				map[string]any{"video_id": n.VideoID, "action": "skipped"})
		}
		s.logger.Error("動画のインデックスに失敗しました",
			slog.String("video_id", n.VideoID),
			slog.String("error", err.Error()),
		)
		return Failure("動画のインデックスに失敗: "+n.VideoID, err)
	}

	return Success("動画をインデックスしました: "+n.VideoID,
		map[string]any{"video_id": n.VideoID, "action": "indexed"})
}

// SearchVideos はクエリ文字列で全文検索を行い、関連度順に最大limit件返す。
func (s *SearchIndexingService) SearchVideos(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT video_id, channel_id, title, author, link, published,
		        ts_rank(search_vector, plainto_tsquery('simple', $1)) AS rank
		 FROM video_search
		 WHERE search_vector @@ plainto_tsquery('simple', $1)
		 ORDER BY rank DESC, published DESC NULLS LAST
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, model.NewBackendUnavailableError("postgres", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var channelID, title, author, link sql.NullString
		var published sql.NullTime
		if err := rows.Scan(&r.VideoID, &channelID, &title, &author, &link, &published, &r.Rank); err != nil {
			return nil, err
		}
		r.ChannelID = channelID.String
		r.Title = title.String
		r.Author = author.String
		r.Link = link.String
		if published.Valid {
			r.Published = &published.Time
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// HealthCheck は検索インデックスへの疎通確認を行う。
func (s *SearchIndexingService) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM video_search`).Scan(&count)
	elapsed := time.Since(start)

	if err != nil {
		return HealthStatus{
			ServiceName:  "search_indexing",
			IsHealthy:    false,
			ResponseTime: elapsed,
			Message:      "ヘルスチェックに失敗: " + err.Error(),
		}
	}
	return HealthStatus{
		ServiceName:  "search_indexing",
		IsHealthy:    true,
		ResponseTime: elapsed,
		Message:      "インデックスは正常です",
	}
}

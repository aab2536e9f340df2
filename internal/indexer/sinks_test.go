package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/ytindexer/internal/model"
)

// VideoStorageServiceはHealthCheckerインターフェースを満たすことを検証
func TestVideoStorageService_ImplementsHealthChecker(t *testing.T) {
	var _ HealthChecker = (*VideoStorageService)(nil)
}

// SearchIndexingServiceはHealthCheckerインターフェースを満たすことを検証
func TestSearchIndexingService_ImplementsHealthChecker(t *testing.T) {
	var _ HealthChecker = (*SearchIndexingService)(nil)
}

// ChannelStatsServiceはHealthCheckerインターフェースを満たすことを検証
func TestChannelStatsService_ImplementsHealthChecker(t *testing.T) {
	var _ HealthChecker = (*ChannelStatsService)(nil)
}

// 各シンクのコンストラクタが正しく初期化されることを検証
func TestSinkConstructors_Initialize(t *testing.T) {
	cfg := DefaultRetryConfig()
	logger := testLogger()

	if NewVideoStorageService(nil, cfg, logger) == nil {
		t.Fatal("expected non-nil VideoStorageService")
	}
	if NewSearchIndexingService(nil, cfg, logger) == nil {
		t.Fatal("expected non-nil SearchIndexingService")
	}
	if NewChannelStatsService(nil, cfg, logger) == nil {
		t.Fatal("expected non-nil ChannelStatsService")
	}
}

// video_idを欠く通知は保存前に失敗として弾かれることを検証
func TestStoreVideo_MissingVideoID_ReturnsFailure(t *testing.T) {
	svc := NewVideoStorageService(nil, DefaultRetryConfig(), testLogger())

	result := svc.StoreVideo(context.Background(), &model.Notification{ChannelID: "UC-test"})
	if result.Status != StatusFailure {
		t.Errorf("result.Status = %q, want %q", result.Status, StatusFailure)
	}

	result = svc.StoreVideo(context.Background(), nil)
	if result.Status != StatusFailure {
		t.Errorf("result.Status for nil = %q, want %q", result.Status, StatusFailure)
	}
}

// video_idを欠く通知はインデックス前に失敗として弾かれることを検証
func TestIndexVideo_MissingVideoID_ReturnsFailure(t *testing.T) {
	svc := NewSearchIndexingService(nil, DefaultRetryConfig(), testLogger())

	result := svc.IndexVideo(context.Background(), &model.Notification{Title: "タイトルのみ"})
	if result.Status != StatusFailure {
		t.Errorf("result.Status = %q, want %q", result.Status, StatusFailure)
	}
}

// channel_idを欠く通知は集計前に失敗として弾かれることを検証
func TestRecordActivity_MissingChannelID_ReturnsFailure(t *testing.T) {
	svc := NewChannelStatsService(nil, DefaultRetryConfig(), testLogger())

	result := svc.RecordActivity(context.Background(), &model.Notification{VideoID: "vid-1"})
	if result.Status != StatusFailure {
		t.Errorf("result.Status = %q, want %q", result.Status, StatusFailure)
	}
}

// 一意制約違反の判定が正しく動作することを検証
func TestIsUniqueViolation(t *testing.T) {
	pqErr := &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
	if !isUniqueViolation(pqErr) {
		t.Error("pq error 23505 should be a unique violation")
	}

	wrapped := errors.Join(errors.New("store failed"), pqErr)
	if !isUniqueViolation(wrapped) {
		t.Error("wrapped pq error 23505 should be a unique violation")
	}

	if !isUniqueViolation(model.ErrConflict) {
		t.Error("ErrConflict should be a unique violation")
	}

	other := &pq.Error{Code: "42P01", Message: "relation does not exist"}
	if isUniqueViolation(other) {
		t.Error("pq error 42P01 should not be a unique violation")
	}

	if isUniqueViolation(errors.New("connection refused")) {
		t.Error("plain error should not be a unique violation")
	}
}

// 空文字とnilがNULLに写像されることを検証
func TestNullHelpers(t *testing.T) {
	if nullString("").Valid {
		t.Error("empty string should map to NULL")
	}
	ns := nullString("value")
	if !ns.Valid || ns.String != "value" {
		t.Errorf("nullString(%q) = %+v", "value", ns)
	}

	if nullTime(nil).Valid {
		t.Error("nil time should map to NULL")
	}
	now := time.Now()
	nt := nullTime(&now)
	if !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTime = %+v, want %v", nt, now)
	}
}

// SearchResultモデルのフィールドが正しく構築されることを検証
func TestSearchResult_Fields(t *testing.T) {
	published := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := SearchResult{
		VideoID:   "dQw4w9WgXcQ",
		ChannelID: "UCuAXFkgsw1L7xaCfnd5JJOw",
		Title:     "テスト動画",
		Author:    "テストチャンネル",
		Published: &published,
		Rank:      0.42,
	}

	if r.VideoID != "dQw4w9WgXcQ" {
		t.Errorf("r.VideoID = %q, want %q", r.VideoID, "dQw4w9WgXcQ")
	}
	if r.Rank != 0.42 {
		t.Errorf("r.Rank = %v, want %v", r.Rank, 0.42)
	}
	if r.Published == nil || !r.Published.Equal(published) {
		t.Errorf("r.Published = %v, want %v", r.Published, published)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ytindexer/internal/indexer"
	"github.com/hitoshi/ytindexer/internal/model"
)

// VideoReadService は動画読み取りAPIが必要とするサービスインターフェース。
type VideoReadService interface {
	// FindVideo はvideo_idで動画を取得する。見つからない場合はnilを返す。
	FindVideo(ctx context.Context, videoID string) (*model.Video, error)
}

// VideoSearchService は全文検索APIが必要とするサービスインターフェース。
type VideoSearchService interface {
	// SearchVideos はクエリ文字列で全文検索を行う。
	SearchVideos(ctx context.Context, query string, limit int) ([]indexer.SearchResult, error)
}

// ChannelReadService はチャンネル統計APIが必要とするサービスインターフェース。
type ChannelReadService interface {
	// GetChannelStats はchannel_idで集計を取得する。見つからない場合はnilを返す。
	GetChannelStats(ctx context.Context, channelID string) (*model.ChannelStats, error)
}

// VideoHandler は動画・チャンネルの読み取りAPIのHTTPハンドラー。
type VideoHandler struct {
	videos   VideoReadService
	search   VideoSearchService
	channels ChannelReadService
}

// NewVideoHandler はVideoHandlerを生成する。
func NewVideoHandler(videos VideoReadService, search VideoSearchService, channels ChannelReadService) *VideoHandler {
	return &VideoHandler{
		videos:   videos,
		search:   search,
		channels: channels,
	}
}

// videoResponse は動画情報のAPIレスポンス。
type videoResponse struct {
	VideoID     string     `json:"video_id"`
	ChannelID   string     `json:"channel_id,omitempty"`
	Title       string     `json:"title,omitempty"`
	Author      string     `json:"author,omitempty"`
	Link        string     `json:"link,omitempty"`
	Published   *time.Time `json:"published,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`
	Source      string     `json:"source"`
	ProcessedAt time.Time  `json:"processed_at"`
}

// searchResultResponse は検索ヒットのAPIレスポンス。
type searchResultResponse struct {
	VideoID   string     `json:"video_id"`
	ChannelID string     `json:"channel_id,omitempty"`
	Title     string     `json:"title,omitempty"`
	Author    string     `json:"author,omitempty"`
	Link      string     `json:"link,omitempty"`
	Published *time.Time `json:"published,omitempty"`
	Rank      float64    `json:"rank"`
}

// channelStatsResponse はチャンネル統計のAPIレスポンス。
type channelStatsResponse struct {
	ChannelID    string    `json:"channel_id"`
	VideoCount   int64     `json:"video_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastActivity time.Time `json:"last_activity"`
}

// GetVideo は動画詳細を取得する。
// GET /api/videos/{videoID}
func (h *VideoHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")

	video, err := h.videos.FindVideo(r.Context(), videoID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "STORAGE_ERROR",
			"動画の取得に失敗しました。")
		return
	}
	if video == nil {
		writeErrorResponse(w, http.StatusNotFound, "VIDEO_NOT_FOUND",
			"指定された動画が見つかりません。")
		return
	}

	writeJSONResponse(w, http.StatusOK, videoResponse{
		VideoID:     video.VideoID,
		ChannelID:   video.ChannelID,
		Title:       video.Title,
		Author:      video.Author,
		Link:        video.Link,
		Published:   video.Published,
		Updated:     video.Updated,
		Source:      video.Source,
		ProcessedAt: video.ProcessedAt,
	})
}

// SearchVideos は全文検索を実行する。
// GET /api/videos/search?q=...&limit=...
func (h *VideoHandler) SearchVideos(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeErrorResponse(w, http.StatusBadRequest, "MISSING_QUERY",
			"検索クエリqを指定してください。")
		return
	}

	limit := 20
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeErrorResponse(w, http.StatusBadRequest, "INVALID_LIMIT",
				"limitは1から100の整数で指定してください。")
			return
		}
		limit = parsed
	}

	results, err := h.search.SearchVideos(r.Context(), query, limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "SEARCH_ERROR",
			"検索の実行に失敗しました。")
		return
	}

	resp := make([]searchResultResponse, 0, len(results))
	for _, res := range results {
		resp = append(resp, searchResultResponse{
			VideoID:   res.VideoID,
			ChannelID: res.ChannelID,
			Title:     res.Title,
			Author:    res.Author,
			Link:      res.Link,
			Published: res.Published,
			Rank:      res.Rank,
		})
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": resp,
	})
}

// GetChannelStats はチャンネル統計を取得する。
// GET /api/channels/{channelID}
func (h *VideoHandler) GetChannelStats(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	stats, err := h.channels.GetChannelStats(r.Context(), channelID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "STORAGE_ERROR",
			"チャンネル統計の取得に失敗しました。")
		return
	}
	if stats == nil {
		writeErrorResponse(w, http.StatusNotFound, "CHANNEL_NOT_FOUND",
			"指定されたチャンネルが見つかりません。")
		return
	}

	writeJSONResponse(w, http.StatusOK, channelStatsResponse{
		ChannelID:    stats.ChannelID,
		VideoCount:   stats.VideoCount,
		FirstSeen:    stats.FirstSeen,
		LastActivity: stats.LastActivity,
	})
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ytindexer/internal/indexer"
	"github.com/hitoshi/ytindexer/internal/middleware"
)

// HealthReporter は稼働状態と各シンクのヘルスを報告するインターフェース。
type HealthReporter interface {
	HealthCheck(ctx context.Context) (bool, []indexer.HealthStatus)
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// Webhook受信
	Queue       Enqueuer
	Metrics     NotificationMetrics
	MaxBodySize int64

	// 読み取りAPI
	Videos   VideoReadService
	Search   VideoSearchService
	Channels ChannelReadService

	// ヘルスチェック
	Health HealthReporter

	// Prometheusスクレイプエンドポイント（省略可）
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware
//
// Webhook受信ルートにはIP単位のレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	webhookHandler := NewWebhookHandler(deps.Queue, deps.Metrics, deps.Logger, deps.MaxBodySize)
	videoHandler := NewVideoHandler(deps.Videos, deps.Search, deps.Channels)

	// Webhook受信（検証GETと通知POST、レート制限付き）
	r.Route("/webhooks/youtube", func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware())
		r.Get("/", webhookHandler.Verify)
		r.Post("/", webhookHandler.Receive)
	})

	// 読み取りAPI
	r.Route("/api", func(r chi.Router) {
		r.Get("/videos/search", videoHandler.SearchVideos)
		r.Get("/videos/{videoID}", videoHandler.GetVideo)
		r.Get("/channels/{channelID}", videoHandler.GetChannelStats)
	})

	// ヘルスチェック
	r.Get("/healthz", healthzHandler(deps.Health))

	// Prometheusスクレイプ
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	return r
}

// healthResponse はヘルスチェックのAPIレスポンス。
type healthResponse struct {
	Healthy  bool                    `json:"healthy"`
	Services []healthServiceResponse `json:"services"`
}

// healthServiceResponse は個別サービスのヘルス状態。
type healthServiceResponse struct {
	Name           string `json:"name"`
	Healthy        bool   `json:"healthy"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Message        string `json:"message,omitempty"`
}

// healthzHandler は全シンクのヘルスを収集して200または503で返す。
func healthzHandler(reporter HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy, statuses := reporter.HealthCheck(r.Context())

		services := make([]healthServiceResponse, 0, len(statuses))
		for _, s := range statuses {
			services = append(services, healthServiceResponse{
				Name:           s.ServiceName,
				Healthy:        s.IsHealthy,
				ResponseTimeMs: s.ResponseTime.Milliseconds(),
				Message:        s.Message,
			})
		}

		statusCode := http.StatusOK
		if !healthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(healthResponse{
			Healthy:  healthy,
			Services: services,
		})
	}
}

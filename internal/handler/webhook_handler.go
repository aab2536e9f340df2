// Package handler はWebSub通知の受信と読み取りAPIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// Enqueuer は受信した生ペイロードをキューへ投入するインターフェース。
type Enqueuer interface {
	Enqueue(ctx context.Context, item any) error
}

// NotificationMetrics はWebhook受信時に記録するメトリクスのインターフェース。
type NotificationMetrics interface {
	RecordEnqueued()
}

// WebhookHandler はPubSubHubbubハブからの検証リクエストと通知配信を処理する。
type WebhookHandler struct {
	queue       Enqueuer
	metrics     NotificationMetrics
	logger      *slog.Logger
	maxBodySize int64
}

// NewWebhookHandler はWebhookHandlerを生成する。
// maxBodySizeが0以下の場合は1MiBを使用する。
func NewWebhookHandler(queue Enqueuer, metrics NotificationMetrics, logger *slog.Logger, maxBodySize int64) *WebhookHandler {
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &WebhookHandler{
		queue:       queue,
		metrics:     metrics,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeErrorResponse はJSON形式のエラーレスポンスを書き込む。
func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{Code: code, Message: message})
}

// Verify はハブからの購読検証リクエストを処理する。
// GET /webhooks/youtube
//
// hub.modeがsubscribeまたはunsubscribeで、hub.challengeが非空の場合に
// チャレンジ文字列をそのまま返す。それ以外は400を返す。
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	challenge := r.URL.Query().Get("hub.challenge")

	if (mode != "subscribe" && mode != "unsubscribe") || challenge == "" {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_VERIFICATION",
			"hub.modeまたはhub.challengeが不正です。")
		return
	}

	h.logger.Info("購読検証リクエストを受信しました",
		slog.String("mode", mode),
		slog.String("topic", r.URL.Query().Get("hub.topic")),
	)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// Receive はハブからの通知配信を処理する。
// POST /webhooks/youtube
//
// ボディを検査せずそのままキューへ投入する。パースとシンク書き込みは
// ワーカー側で非同期に行い、ハブには即座に応答を返す。
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_BODY",
			"リクエストボディの読み取りに失敗しました。")
		return
	}

	if err := h.queue.Enqueue(r.Context(), string(body)); err != nil {
		h.logger.Error("通知のキュー投入に失敗しました",
			slog.Int("payload_bytes", len(body)),
			slog.String("error", err.Error()),
		)
		writeErrorResponse(w, http.StatusInternalServerError, "ENQUEUE_FAILED",
			"通知の受け付けに失敗しました。")
		return
	}

	h.metrics.RecordEnqueued()
	h.logger.Info("通知をキューへ投入しました",
		slog.Int("payload_bytes", len(body)),
	)

	w.WriteHeader(http.StatusNoContent)
}

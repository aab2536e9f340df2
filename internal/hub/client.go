// Package hub はPubSubHubbubハブへの購読・購読解除リクエストを提供する。
package hub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// topicURLBase はYouTubeのチャンネルフィードのトピックURLのベース。
const topicURLBase = "https://www.youtube.com/xml/feeds/videos.xml?channel_id="

// TopicURL はチャンネルIDからトピックURLを組み立てる。
func TopicURL(channelID string) string {
	return topicURLBase + url.QueryEscape(channelID)
}

// URLValidator はリクエスト送信前のURL検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// SubscriptionClient はハブへの購読管理クライアント。
// verify=asyncで申請するため、ハブからの検証リクエストは
// コールバックURLへ非同期に届く。
type SubscriptionClient struct {
	hubURL      string
	callbackURL string
	httpClient  *http.Client
	validator   URLValidator
	logger      *slog.Logger
}

// NewSubscriptionClient はSubscriptionClientを生成する。
// httpClientにはSSRF防止機能付きのクライアントを渡すこと。
func NewSubscriptionClient(hubURL, callbackURL string, httpClient *http.Client, validator URLValidator, logger *slog.Logger) *SubscriptionClient {
	return &SubscriptionClient{
		hubURL:      hubURL,
		callbackURL: callbackURL,
		httpClient:  httpClient,
		validator:   validator,
		logger:      logger,
	}
}

// Subscribe はチャンネルの購読をハブに申請する。
func (c *SubscriptionClient) Subscribe(ctx context.Context, channelID string) error {
	return c.request(ctx, "subscribe", channelID)
}

// Unsubscribe はチャンネルの購読解除をハブに申請する。
func (c *SubscriptionClient) Unsubscribe(ctx context.Context, channelID string) error {
	return c.request(ctx, "unsubscribe", channelID)
}

// request はhub.modeを指定してフォームPOSTを送信する。
// ハブは非同期検証の申請受理を202で応答する。
func (c *SubscriptionClient) request(ctx context.Context, mode, channelID string) error {
	if channelID == "" {
		return fmt.Errorf("channel ID is empty")
	}

	topic := TopicURL(channelID)
	for _, u := range []string{c.hubURL, c.callbackURL} {
		if err := c.validator.ValidateURL(u); err != nil {
			return fmt.Errorf("URL validation failed: %w", err)
		}
	}

	form := url.Values{}
	form.Set("hub.mode", mode)
	form.Set("hub.topic", topic)
	form.Set("hub.callback", c.callbackURL)
	form.Set("hub.verify", "async")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.hubURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build hub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hub request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("hub returned unexpected status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Info("ハブへの申請を受理されました",
		slog.String("mode", mode),
		slog.String("channel_id", channelID),
		slog.String("topic", topic),
	)
	return nil
}

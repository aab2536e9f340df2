package hub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// allowAllValidator は全URLを許可するテスト用バリデーター。
type allowAllValidator struct{}

func (allowAllValidator) ValidateURL(rawURL string) error { return nil }

// rejectAllValidator は全URLを拒否するテスト用バリデーター。
type rejectAllValidator struct{}

func (rejectAllValidator) ValidateURL(rawURL string) error {
	return errors.New("blocked URL")
}

// TopicURLがチャンネルIDからトピックURLを組み立てることを検証
func TestTopicURL(t *testing.T) {
	got := TopicURL("UCuAXFkgsw1L7xaCfnd5JJOw")
	want := "https://www.youtube.com/xml/feeds/videos.xml?channel_id=UCuAXFkgsw1L7xaCfnd5JJOw"
	if got != want {
		t.Errorf("TopicURL = %q, want %q", got, want)
	}
}

// 購読申請が正しいフォームフィールドをPOSTすることを検証
func TestSubscribe_SendsFormFields(t *testing.T) {
	var gotForm url.Values
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		gotForm = r.PostForm
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := NewSubscriptionClient(server.URL, "https://example.com/webhooks/youtube",
		server.Client(), allowAllValidator{}, testLogger())

	if err := c.Subscribe(context.Background(), "UCtest123"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if gotContentType != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q, want form-urlencoded", gotContentType)
	}
	if got := gotForm.Get("hub.mode"); got != "subscribe" {
		t.Errorf("hub.mode = %q, want subscribe", got)
	}
	if got := gotForm.Get("hub.topic"); got != TopicURL("UCtest123") {
		t.Errorf("hub.topic = %q, want %q", got, TopicURL("UCtest123"))
	}
	if got := gotForm.Get("hub.callback"); got != "https://example.com/webhooks/youtube" {
		t.Errorf("hub.callback = %q", got)
	}
	if got := gotForm.Get("hub.verify"); got != "async" {
		t.Errorf("hub.verify = %q, want async", got)
	}
}

// 購読解除申請がhub.mode=unsubscribeを送信することを検証
func TestUnsubscribe_SendsUnsubscribeMode(t *testing.T) {
	var gotMode string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotMode = r.PostForm.Get("hub.mode")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := NewSubscriptionClient(server.URL, "https://example.com/webhooks/youtube",
		server.Client(), allowAllValidator{}, testLogger())

	if err := c.Unsubscribe(context.Background(), "UCtest123"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if gotMode != "unsubscribe" {
		t.Errorf("hub.mode = %q, want unsubscribe", gotMode)
	}
}

// 202以外の応答がエラーになることを検証
func TestSubscribe_NonAcceptedStatus_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad topic", http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewSubscriptionClient(server.URL, "https://example.com/webhooks/youtube",
		server.Client(), allowAllValidator{}, testLogger())

	if err := c.Subscribe(context.Background(), "UCtest123"); err == nil {
		t.Error("expected error for non-202 response")
	}
}

// 空のチャンネルIDが拒否されることを検証
func TestSubscribe_EmptyChannelID_ReturnsError(t *testing.T) {
	c := NewSubscriptionClient("https://hub.example.com", "https://example.com/cb",
		http.DefaultClient, allowAllValidator{}, testLogger())

	if err := c.Subscribe(context.Background(), ""); err == nil {
		t.Error("expected error for empty channel ID")
	}
}

// URL検証に失敗した場合にリクエストを送信しないことを検証
func TestSubscribe_ValidationFailure_SkipsRequest(t *testing.T) {
	requested := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := NewSubscriptionClient(server.URL, "https://example.com/cb",
		server.Client(), rejectAllValidator{}, testLogger())

	if err := c.Subscribe(context.Background(), "UCtest123"); err == nil {
		t.Fatal("expected validation error")
	}
	if requested {
		t.Error("request should not be sent when validation fails")
	}
}

package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/transport"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

func newClient() *transport.Client {
	return transport.NewClient(transport.Options{
		Policy:  transport.DefaultPolicy(),
		Dedup:   transport.NewDeduplicator(transport.NewMemoryStore(), time.Minute),
		Sleeper: func(context.Context, time.Duration) error { return nil },
	})
}

func TestSendMessageViaWebhook(t *testing.T) {
	var got postMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	adapter := NewAdapter(config.SlackConfig{WebhookURL: server.URL + "/hook"}, newClient())
	resp, err := adapter.SendMessage(context.Background(), domain.Message{
		Subject:  "Critical finding on api-gateway",
		Body:     "*CVE-2026-1234* affects `openssl`",
		Format:   domain.FormatMarkdown,
		Priority: domain.MessagePriorityUrgent,
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !resp.Success || resp.MessageID == "" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(got.Blocks) != 3 || got.Blocks[0].Type != "header" || got.Blocks[1].Text.Type != "mrkdwn" {
		t.Fatalf("blocks = %+v", got.Blocks)
	}
	if !strings.Contains(got.Text, "Critical") {
		t.Errorf("fallback text = %q", got.Text)
	}
}

func TestSendMessageViaBotToken(t *testing.T) {
	var auth string
	var got postMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat.postMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C123", "ts": "1700000000.000100"})
	}))
	defer server.Close()

	adapter := NewAdapter(config.SlackConfig{BotToken: "xoxb-1", APIBaseURL: server.URL + "/api", DefaultChannel: "#sec"}, newClient())
	resp, err := adapter.SendMessage(context.Background(), domain.Message{Body: "plain body", Format: domain.FormatPlain})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.MessageID != "C123:1700000000.000100" {
		t.Errorf("MessageID = %q", resp.MessageID)
	}
	if auth != "Bearer xoxb-1" || got.Channel != "#sec" {
		t.Errorf("auth=%q channel=%q", auth, got.Channel)
	}
	if got.Blocks[0].Type != "section" || got.Blocks[0].Text.Type != "plain_text" {
		t.Errorf("blocks = %+v", got.Blocks)
	}
}

func TestSendMessageSlackErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer server.Close()

	adapter := NewAdapter(config.SlackConfig{BotToken: "xoxb-1", APIBaseURL: server.URL}, newClient())
	_, err := adapter.SendMessage(context.Background(), domain.Message{Target: "#missing", Body: "x", Format: domain.FormatPlain})
	if !apperrors.IsKind(err, domain.ErrorKindPermanentRejection) {
		t.Fatalf("expected permanent rejection, got %v", err)
	}
}

func TestSendMessageRetriesTransientSlackError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "internal_error"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": "C1", "ts": "1.2"})
	}))
	defer server.Close()

	adapter := NewAdapter(config.SlackConfig{BotToken: "xoxb-1", APIBaseURL: server.URL}, newClient())
	resp, err := adapter.SendMessage(context.Background(), domain.Message{Target: "#sec", Body: "x", Format: domain.FormatPlain})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.MessageID != "C1:1.2" {
		t.Errorf("MessageID = %q", resp.MessageID)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestSendMessageRejectsAdaptiveCardWithoutCalling(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	adapter := NewAdapter(config.SlackConfig{WebhookURL: server.URL}, newClient())
	_, err := adapter.SendMessage(context.Background(), domain.Message{
		Body:     `{"type":"AdaptiveCard"}`,
		Format:   domain.FormatAdaptiveCard,
		Priority: domain.MessagePriorityUrgent,
	})
	if !apperrors.IsKind(err, domain.ErrorKindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("webhook called %d times", calls)
	}
}

func TestSendMessageDedupesRetriedCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	adapter := NewAdapter(config.SlackConfig{WebhookURL: server.URL}, newClient())
	ctx := transport.WithIdempotencyKey(context.Background(), "k1")
	msg := domain.Message{Body: "x", Format: domain.FormatPlain}
	for i := 0; i < 2; i++ {
		if _, err := adapter.SendMessage(ctx, msg); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("webhook called %d times, want 1", calls)
	}
}

func TestChunksSplitsLongBodies(t *testing.T) {
	body := strings.Repeat("a", maxSectionText*2+10)
	parts := chunks(body, maxSectionText)
	if len(parts) != 3 || len(parts[2]) != 10 {
		t.Errorf("got %d chunks", len(parts))
	}
}

package teams

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/mapper"
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

type capture struct {
	calls   int32
	path    string
	payload webhookPayload
}

func (c *capture) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&c.calls, 1)
		c.path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &c.payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte("1"))
	})
}

func TestSendMessageBuildsCard(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(c.handler(t))
	defer server.Close()

	adapter := NewAdapter(config.TeamsConfig{WebhookURL: server.URL + "/default"}, newClient())
	resp, err := adapter.SendMessage(context.Background(), domain.Message{
		Subject:  "Critical finding",
		Body:     "**openssl** needs patching",
		Format:   domain.FormatMarkdown,
		Priority: domain.MessagePriorityUrgent,
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !resp.Success || resp.MessageID == "" {
		t.Errorf("unexpected response %+v", resp)
	}
	if c.path != "/default" || len(c.payload.Attachments) != 1 || c.payload.Attachments[0].ContentType != cardContentType {
		t.Fatalf("payload = %+v", c.payload)
	}

	var card adaptiveCard
	if err := json.Unmarshal(c.payload.Attachments[0].Content, &card); err != nil {
		t.Fatalf("decode card: %v", err)
	}
	if card.Body[0].Color != "Attention" {
		t.Errorf("heading = %+v", card.Body[0])
	}
	facts := card.Body[len(card.Body)-1].Facts
	found := false
	for _, f := range facts {
		if f.Title == mapper.OriginalPriorityField && f.Value == string(domain.PriorityCritical) {
			found = true
		}
	}
	if !found {
		t.Errorf("collapsed priority not recorded: %+v", facts)
	}
}

func TestSendMessagePassesAdaptiveCardThrough(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(c.handler(t))
	defer server.Close()

	adapter := NewAdapter(config.TeamsConfig{Channels: map[string]string{"secops": server.URL + "/secops"}}, newClient())
	body := `{"type":"AdaptiveCard","version":"1.4","body":[{"type":"TextBlock","text":"hi"}]}`
	if _, err := adapter.SendMessage(context.Background(), domain.Message{Target: "secops", Body: body, Format: domain.FormatAdaptiveCard}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if c.path != "/secops" {
		t.Errorf("path = %s", c.path)
	}
	var got map[string]any
	_ = json.Unmarshal(c.payload.Attachments[0].Content, &got)
	if got["version"] != "1.4" {
		t.Errorf("card = %v", got)
	}
}

func TestSendMessageValidationFailsBeforeNetwork(t *testing.T) {
	c := &capture{}
	server := httptest.NewServer(c.handler(t))
	defer server.Close()
	adapter := NewAdapter(config.TeamsConfig{WebhookURL: server.URL}, newClient())

	cases := []domain.Message{
		{Body: "not json", Format: domain.FormatAdaptiveCard},
		{Body: `{"type":"MessageCard"}`, Format: domain.FormatAdaptiveCard},
		{Body: "x", Format: domain.FormatHTML},
		{Target: "unknown", Body: "x", Format: domain.FormatPlain},
		{Body: "x", Format: domain.FormatPlain, Attachments: []domain.Attachment{{FileName: "a"}}},
	}
	for _, msg := range cases {
		_, err := adapter.SendMessage(context.Background(), msg)
		if !apperrors.IsKind(err, domain.ErrorKindValidation) {
			t.Errorf("%+v: expected validation error, got %v", msg, err)
		}
	}
	if atomic.LoadInt32(&c.calls) != 0 {
		t.Errorf("webhook called %d times", c.calls)
	}
}

func TestSendMessageThrottledBodyIsTransient(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte("Microsoft Teams endpoint returned HTTP error 429 with ContextId ..."))
	}))
	defer server.Close()

	adapter := NewAdapter(config.TeamsConfig{WebhookURL: server.URL}, newClient())
	_, err := adapter.SendMessage(context.Background(), domain.Message{Body: "x", Format: domain.FormatPlain})
	if !apperrors.IsKind(err, domain.ErrorKindTransientNetwork) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != int32(transport.DefaultPolicy().MaxAttempts) {
		t.Errorf("calls = %d, want %d", got, transport.DefaultPolicy().MaxAttempts)
	}
}

func TestSendMessageRetriesThrottledBody(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = w.Write([]byte("Microsoft Teams endpoint returned HTTP error 429 with ContextId ..."))
			return
		}
		_, _ = w.Write([]byte("1"))
	}))
	defer server.Close()

	adapter := NewAdapter(config.TeamsConfig{WebhookURL: server.URL}, newClient())
	resp, err := adapter.SendMessage(context.Background(), domain.Message{Body: "x", Format: domain.FormatPlain})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !resp.Success {
		t.Errorf("unexpected response %+v", resp)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

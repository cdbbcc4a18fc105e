// Package slack implements the message sink for Slack, posting Block Kit
// payloads through an incoming webhook or chat.postMessage.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/mapper"
	"github.com/spec-kit/integration-service/internal/transport"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// transientErrors are chat.postMessage error codes worth surfacing as transient.
var transientErrors = map[string]struct{}{
	"internal_error":      {},
	"fatal_error":         {},
	"service_unavailable": {},
	"request_timeout":     {},
	"ratelimited":         {},
}

// Adapter implements integration.MessageSink for Slack.
type Adapter struct {
	client         *transport.Client
	webhookURL     string
	botToken       string
	apiBaseURL     string
	defaultChannel string
	formats        domain.FormatSet
}

// NewAdapter builds a Slack adapter. A bot token takes precedence over the
// webhook because it can address arbitrary channels.
func NewAdapter(cfg config.SlackConfig, client *transport.Client) *Adapter {
	apiBase := strings.TrimRight(cfg.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = "https://slack.com/api"
	}
	return &Adapter{
		client:         client,
		webhookURL:     cfg.WebhookURL,
		botToken:       cfg.BotToken,
		apiBaseURL:     apiBase,
		defaultChannel: cfg.DefaultChannel,
		formats:        domain.NewFormatSet(domain.FormatPlain, domain.FormatMarkdown),
	}
}

// Platform returns domain.PlatformSlack.
func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformSlack
}

// SupportedFormats returns PLAIN and MARKDOWN.
func (a *Adapter) SupportedFormats() domain.FormatSet {
	return a.formats
}

// SendMessage posts msg. The message ID is "channel:ts" for bot posts and a
// generated UUID for webhooks, which return no identifier.
func (a *Adapter) SendMessage(ctx context.Context, msg domain.Message) (*domain.MessageResponse, error) {
	if !a.formats.Supports(msg.Format) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("slack does not support %s messages", msg.Format), nil)
	}
	if len(msg.Attachments) > 0 {
		return nil, apperrors.NewValidationError("slack messages cannot carry attachments", nil)
	}

	label, err := mapper.SlackPriorities.Native(mapper.FromMessagePriority(msg.Priority))
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	payload := postMessage{
		Text:   fallbackText(label, msg),
		Blocks: buildBlocks(label, msg.Subject, msg.Body, msg.Format == domain.FormatMarkdown),
	}

	if a.botToken != "" {
		payload.Channel = msg.Target
		if payload.Channel == "" {
			payload.Channel = a.defaultChannel
		}
		if payload.Channel == "" {
			return nil, apperrors.NewValidationError("slack message has no target channel", nil)
		}
		return a.postMessage(ctx, payload)
	}
	return a.postWebhook(ctx, payload)
}

func (a *Adapter) postMessage(ctx context.Context, payload postMessage) (*domain.MessageResponse, error) {
	resp, err := a.post(ctx, a.apiBaseURL+"/chat.postMessage", payload, http.Header{
		"Authorization": {"Bearer " + a.botToken},
	}, checkPostMessage)
	if err != nil {
		return nil, fmt.Errorf("posting to slack channel %s: %w", payload.Channel, err)
	}
	var decoded postMessageResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, apperrors.NewPermanentRejection(fmt.Sprintf("unmarshaling slack response: %v", err), resp.StatusCode)
	}
	return &domain.MessageResponse{
		Success:   true,
		MessageID: decoded.Channel + ":" + decoded.TS,
	}, nil
}

// checkPostMessage rejects 200 responses that carry "ok": false. Transient
// codes are retried, honoring Retry-After on rate limits.
func checkPostMessage(resp *transport.Response) error {
	var decoded postMessageResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return apperrors.NewPermanentRejection(fmt.Sprintf("unmarshaling slack response: %v", err), resp.StatusCode)
	}
	if decoded.OK {
		return nil
	}
	if _, ok := transientErrors[decoded.Error]; ok {
		retryAfter := transport.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return transport.Retryable(fmt.Errorf("slack error %s", decoded.Error), retryAfter)
	}
	return apperrors.NewPermanentRejection("slack error "+decoded.Error, resp.StatusCode)
}

func (a *Adapter) postWebhook(ctx context.Context, payload postMessage) (*domain.MessageResponse, error) {
	if _, err := a.post(ctx, a.webhookURL, payload, http.Header{}, nil); err != nil {
		return nil, fmt.Errorf("posting to slack webhook: %w", err)
	}
	return &domain.MessageResponse{
		Success:   true,
		MessageID: uuid.NewString(),
	}, nil
}

func (a *Adapter) post(ctx context.Context, url string, payload postMessage, header http.Header, check func(*transport.Response) error) (*transport.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling slack payload: %w", err)
	}
	header.Set("Content-Type", "application/json; charset=utf-8")
	return a.client.Do(ctx, transport.Request{
		Method:         http.MethodPost,
		URL:            url,
		Header:         header,
		Body:           data,
		IdempotencyKey: transport.IdempotencyKeyFrom(ctx),
		Check:          check,
	})
}

// fallbackText is shown in notifications and by clients without Block Kit.
func fallbackText(label string, msg domain.Message) string {
	if msg.Subject != "" {
		return fmt.Sprintf("[%s] %s", label, msg.Subject)
	}
	return fmt.Sprintf("[%s] %s", label, truncate(msg.Body, maxHeaderText))
}

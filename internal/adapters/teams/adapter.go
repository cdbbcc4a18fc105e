// Package teams implements the message sink for Microsoft Teams incoming
// webhooks. Every message is delivered as an Adaptive Card.
package teams

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/mapper"
	"github.com/spec-kit/integration-service/internal/transport"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// Adapter implements integration.MessageSink for Teams.
type Adapter struct {
	client     *transport.Client
	webhookURL string
	channels   map[string]string
	formats    domain.FormatSet
}

// NewAdapter builds a Teams adapter.
func NewAdapter(cfg config.TeamsConfig, client *transport.Client) *Adapter {
	return &Adapter{
		client:     client,
		webhookURL: cfg.WebhookURL,
		channels:   cfg.Channels,
		formats:    domain.NewFormatSet(domain.FormatPlain, domain.FormatMarkdown, domain.FormatAdaptiveCard),
	}
}

// Platform returns domain.PlatformTeams.
func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformTeams
}

// SupportedFormats returns PLAIN, MARKDOWN and ADAPTIVE_CARD.
func (a *Adapter) SupportedFormats() domain.FormatSet {
	return a.formats
}

// SendMessage posts msg to the webhook named by Target, or the default
// webhook when Target is empty. ADAPTIVE_CARD bodies must be card JSON.
func (a *Adapter) SendMessage(ctx context.Context, msg domain.Message) (*domain.MessageResponse, error) {
	if !a.formats.Supports(msg.Format) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("teams does not support %s messages", msg.Format), nil)
	}
	if len(msg.Attachments) > 0 {
		return nil, apperrors.NewValidationError("teams webhook messages cannot carry attachments", nil)
	}
	url, err := a.resolveTarget(msg.Target)
	if err != nil {
		return nil, err
	}

	var content json.RawMessage
	if msg.Format == domain.FormatAdaptiveCard {
		content, err = validateCard(msg.Body)
	} else {
		content, err = json.Marshal(buildCard(msg))
	}
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(wrapCard(content))
	if err != nil {
		return nil, fmt.Errorf("marshaling teams payload: %w", err)
	}

	_, err = a.client.Do(ctx, transport.Request{
		Method:         http.MethodPost,
		URL:            url,
		Header:         http.Header{"Content-Type": {"application/json"}},
		Body:           data,
		IdempotencyKey: transport.IdempotencyKeyFrom(ctx),
		Check:          checkThrottled,
	})
	if err != nil {
		return nil, fmt.Errorf("posting to teams webhook: %w", err)
	}
	return &domain.MessageResponse{
		Success:   true,
		MessageID: uuid.NewString(),
	}, nil
}

// checkThrottled retries legacy connectors, which answer 200 with the
// upstream throttling failure in the body.
func checkThrottled(resp *transport.Response) error {
	if body := string(resp.Body); strings.Contains(body, "HTTP error 429") {
		return transport.Retryable(fmt.Errorf("teams webhook throttled: %s", body), 0)
	}
	return nil
}

func (a *Adapter) resolveTarget(target string) (string, error) {
	if target == "" {
		if a.webhookURL == "" {
			return "", apperrors.NewValidationError("teams message has no target and no default webhook", nil)
		}
		return a.webhookURL, nil
	}
	if url, ok := a.channels[target]; ok {
		return url, nil
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("teams target %q is not configured", target), nil)
}

func buildCard(msg domain.Message) adaptiveCard {
	priority := mapper.FromMessagePriority(msg.Priority)
	importance, _ := mapper.TeamsPriorities.Native(priority)

	card := adaptiveCard{Type: "AdaptiveCard", Schema: cardSchema, Version: cardVersion}
	if msg.Subject != "" {
		heading := cardElement{Type: "TextBlock", Text: msg.Subject, Weight: "Bolder", Size: "Medium", Wrap: true}
		if importance == "high" {
			heading.Color = "Attention"
		}
		card.Body = append(card.Body, heading)
	}
	// TextBlock renders a markdown subset natively.
	card.Body = append(card.Body, cardElement{Type: "TextBlock", Text: msg.Body, Wrap: true})

	facts := []fact{{Title: "Importance", Value: importance}}
	for k, v := range mapper.AnnotateCollapsed(mapper.TeamsPriorities, priority, nil) {
		facts = append(facts, fact{Title: k, Value: fmt.Sprint(v)})
	}
	card.Body = append(card.Body, cardElement{Type: "FactSet", Facts: facts})
	return card
}

func validateCard(body string) (json.RawMessage, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(body), &head); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("adaptive card body is not JSON: %v", err), nil)
	}
	if head.Type != "AdaptiveCard" {
		return nil, apperrors.NewValidationError(fmt.Sprintf("adaptive card type is %q", head.Type), nil)
	}
	return json.RawMessage(body), nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/integration-service/internal/async"
	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/events"
	"github.com/spec-kit/integration-service/internal/mapper"
)

// JobSubmitter queues background work. worker.Pool satisfies it.
type JobSubmitter interface {
	Submit(ctx context.Context, job func(ctx context.Context)) error
}

// RouteResult summarizes how one finding was routed.
type RouteResult struct {
	Ticket        *domain.TicketResponse
	Notifications map[domain.Platform]*domain.MessageResponse
}

// NotificationService routes reported findings: it opens a ticket on the
// configured tracker and, above a priority threshold, notifies every
// configured messaging platform.
type NotificationService struct {
	dispatcher   events.Dispatcher
	integrations *IntegrationService
	jobs         JobSubmitter
	logger       *zap.Logger
	cfg          config.RoutingConfig

	ticketPlatform domain.Platform
	notify         []domain.Platform
	minPriority    domain.Priority
}

// NewNotificationService creates the service. A nil jobs submitter routes
// findings inline on the publishing goroutine.
func NewNotificationService(dispatcher events.Dispatcher, integrations *IntegrationService, jobs JobSubmitter, logger *zap.Logger, cfg config.RoutingConfig) (*NotificationService, error) {
	ticketPlatform, err := domain.ParsePlatform(cfg.TicketPlatform)
	if err != nil || !ticketPlatform.IsTicketing() {
		return nil, fmt.Errorf("routing ticket platform %q is not a ticketing platform", cfg.TicketPlatform)
	}
	var notify []domain.Platform
	for _, raw := range cfg.NotifyPlatforms {
		p, err := domain.ParsePlatform(raw)
		if err != nil || !p.IsMessaging() {
			return nil, fmt.Errorf("routing notify platform %q is not a messaging platform", raw)
		}
		notify = append(notify, p)
	}
	minPriority := domain.Priority(strings.ToUpper(cfg.NotifyMinPriority))
	if !minPriority.Valid() {
		minPriority = domain.PriorityHigh
	}
	return &NotificationService{
		dispatcher:     dispatcher,
		integrations:   integrations,
		jobs:           jobs,
		logger:         logger,
		cfg:            cfg,
		ticketPlatform: ticketPlatform,
		notify:         notify,
		minPriority:    minPriority,
	}, nil
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventFindingReported, n.handleFindingReported)
}

func (n *NotificationService) handleFindingReported(ctx context.Context, event events.Event) error {
	finding, ok := event.Payload.(events.FindingReportedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.logger.Info("FindingReported", zap.String("finding_id", finding.FindingID), zap.Float64("severity", finding.SeverityScore))

	if n.jobs == nil {
		n.RouteFinding(ctx, finding)
		return nil
	}
	return n.jobs.Submit(ctx, func(jobCtx context.Context) {
		n.RouteFinding(jobCtx, finding)
	})
}

// RouteFinding opens the ticket and sends notifications. Messages go out
// concurrently once the ticket exists, so they can link to it.
func (n *NotificationService) RouteFinding(ctx context.Context, finding events.FindingReportedPayload) RouteResult {
	fields := domain.CloneFields(finding.CustomFields)
	if finding.Asset != "" {
		if fields == nil {
			fields = map[string]any{}
		}
		fields["asset"] = finding.Asset
	}
	ticketResp := n.integrations.CreateTicket(ctx, domain.Ticket{
		FindingID:     finding.FindingID,
		Title:         finding.Title,
		Description:   finding.Description,
		SeverityScore: finding.SeverityScore,
		Platform:      n.ticketPlatform,
		CustomFields:  fields,
		Attachments:   finding.Attachments,
	})
	result := RouteResult{Ticket: ticketResp, Notifications: map[domain.Platform]*domain.MessageResponse{}}

	if !ticketResp.Success {
		n.logger.Warn("ticket creation failed",
			zap.String("finding_id", finding.FindingID),
			zap.String("error_kind", string(ticketResp.ErrorKind)),
			zap.String("error", ticketResp.ErrorDetail))
	} else {
		n.publish(ctx, events.Event{
			Type:      events.EventTicketOpened,
			FindingID: finding.FindingID,
			Payload: events.TicketOpenedPayload{
				Platform:    n.ticketPlatform,
				ExternalID:  ticketResp.ExternalID,
				ExternalURL: ticketResp.ExternalURL,
				Priority:    ticketResp.Priority,
				Warning:     ticketResp.Warning,
			},
		})
	}

	priority := ticketResp.Priority
	if priority == "" {
		// The ticket failed; notify based on the score alone.
		p, err := mapper.ToInternalPriority(finding.SeverityScore)
		if err != nil {
			return result
		}
		priority = p
	}
	if priority.Rank() < n.minPriority.Rank() || len(n.notify) == 0 {
		return result
	}

	futures := make([]*async.Future[*domain.MessageResponse], len(n.notify))
	for i, platform := range n.notify {
		futures[i] = n.integrations.SendMessageAsync(ctx, n.buildMessage(platform, finding, priority, ticketResp))
	}
	responses, _ := async.AwaitAll(ctx, futures...)
	for i, platform := range n.notify {
		resp := responses[i]
		if resp == nil {
			resp = &domain.MessageResponse{ErrorKind: domain.ErrorKindTimeout, ErrorDetail: "routing context ended"}
		}
		result.Notifications[platform] = resp
		n.publish(ctx, events.Event{
			Type:      events.EventNotificationSent,
			FindingID: finding.FindingID,
			Payload: events.NotificationSentPayload{
				Platform:  platform,
				MessageID: resp.MessageID,
				Success:   resp.Success,
				ErrorKind: resp.ErrorKind,
			},
		})
	}
	return result
}

func (n *NotificationService) buildMessage(platform domain.Platform, finding events.FindingReportedPayload, priority domain.Priority, ticket *domain.TicketResponse) domain.Message {
	msg := domain.Message{
		Platform: platform,
		Subject:  fmt.Sprintf("[%s] %s", priority, finding.Title),
		Priority: mapper.ToMessagePriority(priority),
	}

	var ticketLine string
	if ticket.Success {
		ticketLine = fmt.Sprintf("Ticket: %s %s", ticket.ExternalID, ticket.ExternalURL)
	} else {
		ticketLine = "Ticket: not created (" + string(ticket.ErrorKind) + ")"
	}
	lines := []string{
		fmt.Sprintf("Finding %s scored %.1f.", finding.FindingID, finding.SeverityScore),
	}
	if finding.Asset != "" {
		lines = append(lines, "Asset: "+finding.Asset)
	}
	lines = append(lines, ticketLine)

	switch platform {
	case domain.PlatformSlack:
		msg.Target = n.cfg.SlackChannel
		msg.Format = domain.FormatMarkdown
		lines[0] = fmt.Sprintf("*%s* scored *%.1f*.", finding.FindingID, finding.SeverityScore)
	case domain.PlatformTeams:
		msg.Target = n.cfg.TeamsTarget
		msg.Format = domain.FormatMarkdown
	case domain.PlatformEmail:
		msg.Target = n.cfg.EmailRecipients
		msg.Format = domain.FormatPlain
		if finding.Description != "" {
			lines = append(lines, "", finding.Description)
		}
	}
	msg.Body = strings.Join(lines, "\n")
	return msg
}

func (n *NotificationService) publish(ctx context.Context, event events.Event) {
	if n.dispatcher == nil {
		return
	}
	if err := n.dispatcher.Publish(ctx, event); err != nil {
		n.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

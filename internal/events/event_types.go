package events

import (
	"time"

	"github.com/spec-kit/integration-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventFindingReported  EventType = "finding.reported"
	EventTicketOpened     EventType = "ticket.opened"
	EventNotificationSent EventType = "notification.sent"
)

// Event represents a domain event flowing between services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	FindingID string      `json:"finding_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// FindingReportedPayload is a security finding handed over by the scanner.
type FindingReportedPayload struct {
	FindingID     string              `json:"finding_id"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	SeverityScore float64             `json:"severity_score"`
	Asset         string              `json:"asset,omitempty"`
	CustomFields  map[string]any      `json:"custom_fields,omitempty"`
	Attachments   []domain.Attachment `json:"-"`
}

// TicketOpenedPayload payload.
type TicketOpenedPayload struct {
	Platform    domain.Platform `json:"platform"`
	ExternalID  string          `json:"external_id"`
	ExternalURL string          `json:"external_url"`
	Priority    domain.Priority `json:"priority"`
	Warning     string          `json:"warning,omitempty"`
}

// NotificationSentPayload payload.
type NotificationSentPayload struct {
	Platform  domain.Platform  `json:"platform"`
	MessageID string           `json:"message_id,omitempty"`
	Success   bool             `json:"success"`
	ErrorKind domain.ErrorKind `json:"error_kind,omitempty"`
}

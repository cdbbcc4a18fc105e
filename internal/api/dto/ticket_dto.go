package dto

import (
	"time"

	"github.com/spec-kit/integration-service/internal/domain"
)

// AttachmentPayload carries a file inline. Content is base64 in JSON.
type AttachmentPayload struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Content  []byte `json:"content"`
}

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Platform      domain.Platform     `json:"platform"`
	FindingID     string              `json:"finding_id"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	SeverityScore *float64            `json:"severity_score"`
	CustomFields  map[string]any      `json:"custom_fields"`
	Attachments   []AttachmentPayload `json:"attachments"`
}

// UpdateStatusRequest payload. CurrentStatus is the caller's view of the
// ticket and is checked against the workflow before anything is sent.
type UpdateStatusRequest struct {
	Platform      domain.Platform `json:"platform"`
	CurrentStatus domain.Status   `json:"current_status"`
	Status        domain.Status   `json:"status"`
	Fields        map[string]any  `json:"fields"`
}

// CommentRequest payload.
type CommentRequest struct {
	Platform domain.Platform `json:"platform"`
	Text     string          `json:"text"`
}

// AttachFileRequest payload.
type AttachFileRequest struct {
	Platform domain.Platform `json:"platform"`
	AttachmentPayload
}

// TicketResult mirrors domain.TicketResponse without the raw platform body.
type TicketResult struct {
	Success     bool             `json:"success"`
	ExternalID  string           `json:"external_id,omitempty"`
	ExternalURL string           `json:"external_url,omitempty"`
	Priority    domain.Priority  `json:"priority,omitempty"`
	Status      domain.Status    `json:"status,omitempty"`
	ErrorKind   domain.ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string           `json:"error_detail,omitempty"`
	Warning     string           `json:"warning,omitempty"`
}

// TicketView is a normalized external ticket.
type TicketView struct {
	Platform     domain.Platform `json:"platform"`
	ExternalID   string          `json:"external_id"`
	FindingID    string          `json:"finding_id,omitempty"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Priority     domain.Priority `json:"priority"`
	Status       domain.Status   `json:"status"`
	CustomFields map[string]any  `json:"custom_fields,omitempty"`
	CreatedAt    *time.Time      `json:"created_at,omitempty"`
	UpdatedAt    *time.Time      `json:"updated_at,omitempty"`
}

// AuditEntry is one persisted facade call.
type AuditEntry struct {
	ID             string            `json:"id"`
	Platform       domain.Platform   `json:"platform"`
	Operation      domain.Operation  `json:"operation"`
	ExternalID     *string           `json:"external_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	Success        bool              `json:"success"`
	LatencyMS      int64             `json:"latency_ms"`
	ErrorKind      *domain.ErrorKind `json:"error_kind,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// ToAttachments converts payloads to domain attachments.
func ToAttachments(in []AttachmentPayload) []domain.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Attachment, len(in))
	for i, a := range in {
		out[i] = domain.Attachment{FileName: a.FileName, MimeType: a.MimeType, Content: a.Content}
	}
	return out
}

// FromTicketResponse builds the API view of a facade response.
func FromTicketResponse(resp *domain.TicketResponse) TicketResult {
	return TicketResult{
		Success:     resp.Success,
		ExternalID:  resp.ExternalID,
		ExternalURL: resp.ExternalURL,
		Priority:    resp.Priority,
		Status:      resp.Status,
		ErrorKind:   resp.ErrorKind,
		ErrorDetail: resp.ErrorDetail,
		Warning:     resp.Warning,
	}
}

// FromTicket builds the API view of a normalized ticket.
func FromTicket(t *domain.Ticket) TicketView {
	view := TicketView{
		Platform:     t.Platform,
		ExternalID:   t.ExternalID,
		FindingID:    t.FindingID,
		Title:        t.Title,
		Description:  t.Description,
		Priority:     t.Priority,
		Status:       t.Status,
		CustomFields: t.CustomFields,
	}
	if !t.CreatedAt.IsZero() {
		created := t.CreatedAt
		view.CreatedAt = &created
	}
	if !t.UpdatedAt.IsZero() {
		updated := t.UpdatedAt
		view.UpdatedAt = &updated
	}
	return view
}

// FromAuditRecord builds the API view of an audit record.
func FromAuditRecord(rec domain.AuditRecord) AuditEntry {
	return AuditEntry{
		ID:             rec.ID,
		Platform:       rec.Platform,
		Operation:      rec.Operation,
		ExternalID:     rec.ExternalID,
		IdempotencyKey: rec.IdempotencyKey,
		Success:        rec.Success,
		LatencyMS:      rec.LatencyMS,
		ErrorKind:      rec.ErrorKind,
		Timestamp:      rec.Timestamp,
	}
}

package dto

import "github.com/spec-kit/integration-service/internal/domain"

// SendMessageRequest payload.
type SendMessageRequest struct {
	Platform    domain.Platform        `json:"platform"`
	Target      string                 `json:"target"`
	Subject     string                 `json:"subject"`
	Body        string                 `json:"body"`
	Format      domain.MessageFormat   `json:"format"`
	Priority    domain.MessagePriority `json:"priority"`
	Attachments []AttachmentPayload    `json:"attachments"`
}

// MessageResult mirrors domain.MessageResponse.
type MessageResult struct {
	Success     bool             `json:"success"`
	MessageID   string           `json:"message_id,omitempty"`
	ErrorKind   domain.ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string           `json:"error_detail,omitempty"`
	Warning     string           `json:"warning,omitempty"`
}

// ReportFindingRequest payload.
type ReportFindingRequest struct {
	FindingID     string         `json:"finding_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	SeverityScore *float64       `json:"severity_score"`
	Asset         string         `json:"asset"`
	CustomFields  map[string]any `json:"custom_fields"`
}

// FromMessageResponse builds the API view of a facade response.
func FromMessageResponse(resp *domain.MessageResponse) MessageResult {
	return MessageResult{
		Success:     resp.Success,
		MessageID:   resp.MessageID,
		ErrorKind:   resp.ErrorKind,
		ErrorDetail: resp.ErrorDetail,
		Warning:     resp.Warning,
	}
}

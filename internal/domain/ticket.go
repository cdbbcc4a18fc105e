package domain

import (
	"fmt"
	"time"
)

// MinSeverityScore and MaxSeverityScore bound the CVSS-style score of a finding.
const (
	MinSeverityScore = 0.0
	MaxSeverityScore = 10.0
)

// Attachment is a binary blob submitted alongside a ticket or message.
type Attachment struct {
	FileName string
	MimeType string
	Content  []byte
}

// Ticket is a security finding submitted to an external tracker.
type Ticket struct {
	// FindingID is the scanner's identity for the finding; it keys idempotency.
	FindingID     string
	ExternalID    string
	Title         string
	Description   string
	SeverityScore float64
	Priority      Priority
	Status        Status
	Platform      Platform
	CustomFields  map[string]any
	Attachments   []Attachment
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TicketRef identifies an existing external ticket together with the status
// the caller last observed for it.
type TicketRef struct {
	ExternalID string
	Status     Status
}

// Ref returns the reference used for follow-up operations.
func (t Ticket) Ref() TicketRef {
	return TicketRef{ExternalID: t.ExternalID, Status: t.Status}
}

// ValidateSeverity reports whether score lies within [0.0, 10.0].
func ValidateSeverity(score float64) error {
	if score != score || score < MinSeverityScore || score > MaxSeverityScore {
		return fmt.Errorf("severity score %v outside [%.1f, %.1f]", score, MinSeverityScore, MaxSeverityScore)
	}
	return nil
}

// CloneFields returns a shallow copy of custom fields so callers keep ownership
// of the map they passed in.
func CloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

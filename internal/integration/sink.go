// Package integration defines the capabilities the facade consumes and the
// factory that builds a platform adapter for each of them.
package integration

import (
	"context"

	"github.com/spec-kit/integration-service/internal/domain"
)

// TicketSink accepts tickets on an external tracker. Implementations must be
// safe for concurrent use and must not retain the values passed to them.
type TicketSink interface {
	Platform() domain.Platform
	CreateTicket(ctx context.Context, ticket domain.Ticket) (*domain.TicketResponse, error)
	UpdateTicket(ctx context.Context, externalID string, status domain.Status, fields map[string]any) (*domain.TicketResponse, error)
	AddComment(ctx context.Context, externalID, text string) (*domain.TicketResponse, error)
	AttachFile(ctx context.Context, externalID string, blob domain.Attachment) (*domain.TicketResponse, error)
	GetTicket(ctx context.Context, externalID string) (*domain.Ticket, error)
}

// MessageSink delivers notifications to a chat or mail platform.
type MessageSink interface {
	Platform() domain.Platform
	SupportedFormats() domain.FormatSet
	SendMessage(ctx context.Context, msg domain.Message) (*domain.MessageResponse, error)
}

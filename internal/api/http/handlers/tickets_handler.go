package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/integration-service/internal/api/dto"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/service"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// TicketsHandler exposes the ticketing half of the integration facade.
type TicketsHandler struct {
	service *service.IntegrationService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(integrations *service.IntegrationService) *TicketsHandler {
	return &TicketsHandler{service: integrations}
}

// CreateTicket POST /v1/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	platform, err := parsePlatform(string(req.Platform))
	if err != nil {
		return err
	}
	if req.SeverityScore == nil {
		return apperrors.NewValidationError("severity_score required", nil)
	}

	resp := h.service.CreateTicket(c.UserContext(), domain.Ticket{
		Platform:      platform,
		FindingID:     req.FindingID,
		Title:         req.Title,
		Description:   req.Description,
		SeverityScore: *req.SeverityScore,
		CustomFields:  req.CustomFields,
		Attachments:   dto.ToAttachments(req.Attachments),
	})
	return writeTicketResponse(c, resp, http.StatusCreated)
}

// GetTicket GET /v1/tickets/:id?platform=.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	platform, err := parsePlatform(c.Query("platform"))
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.UserContext(), platform, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// UpdateStatus POST /v1/tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	platform, err := parsePlatform(string(req.Platform))
	if err != nil {
		return err
	}
	ref := domain.TicketRef{ExternalID: c.Params("id"), Status: req.CurrentStatus}
	resp := h.service.UpdateTicket(c.UserContext(), platform, ref, req.Status, req.Fields)
	return writeTicketResponse(c, resp, http.StatusOK)
}

// AddComment POST /v1/tickets/:id/comments.
func (h *TicketsHandler) AddComment(c *fiber.Ctx) error {
	var req dto.CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	platform, err := parsePlatform(string(req.Platform))
	if err != nil {
		return err
	}
	resp := h.service.AddComment(c.UserContext(), platform, c.Params("id"), req.Text)
	return writeTicketResponse(c, resp, http.StatusCreated)
}

// AttachFile POST /v1/tickets/:id/attachments.
func (h *TicketsHandler) AttachFile(c *fiber.Ctx) error {
	var req dto.AttachFileRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	platform, err := parsePlatform(string(req.Platform))
	if err != nil {
		return err
	}
	blob := domain.Attachment{FileName: req.FileName, MimeType: req.MimeType, Content: req.Content}
	resp := h.service.AttachFile(c.UserContext(), platform, c.Params("id"), blob)
	return writeTicketResponse(c, resp, http.StatusCreated)
}

func parsePlatform(raw string) (domain.Platform, error) {
	if raw == "" {
		return "", apperrors.NewValidationError("platform required", nil)
	}
	platform, err := domain.ParsePlatform(raw)
	if err != nil {
		return "", apperrors.NewValidationError(err.Error(), nil)
	}
	return platform, nil
}

// writeTicketResponse always returns the facade response as data; failed
// calls carry the status of their error kind.
func writeTicketResponse(c *fiber.Ctx, resp *domain.TicketResponse, okStatus int) error {
	status := okStatus
	if !resp.Success {
		status = apperrors.HTTPStatusForKind(resp.ErrorKind)
	}
	return c.Status(status).JSON(fiber.Map{"data": dto.FromTicketResponse(resp)})
}

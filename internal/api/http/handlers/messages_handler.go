package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/integration-service/internal/api/dto"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/service"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// MessagesHandler exposes notification delivery.
type MessagesHandler struct {
	service *service.IntegrationService
}

// NewMessagesHandler constructs handler.
func NewMessagesHandler(integrations *service.IntegrationService) *MessagesHandler {
	return &MessagesHandler{service: integrations}
}

// SendMessage POST /v1/messages.
func (h *MessagesHandler) SendMessage(c *fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	platform, err := parsePlatform(string(req.Platform))
	if err != nil {
		return err
	}

	resp := h.service.SendMessage(c.UserContext(), domain.Message{
		Platform:    platform,
		Target:      req.Target,
		Subject:     req.Subject,
		Body:        req.Body,
		Format:      req.Format,
		Priority:    req.Priority,
		Attachments: dto.ToAttachments(req.Attachments),
	})
	status := http.StatusAccepted
	if !resp.Success {
		status = apperrors.HTTPStatusForKind(resp.ErrorKind)
	}
	return c.Status(status).JSON(fiber.Map{"data": dto.FromMessageResponse(resp)})
}

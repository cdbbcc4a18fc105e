package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/integration-service/internal/api/dto"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/events"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

// FindingsHandler accepts scanner findings for asynchronous routing.
type FindingsHandler struct {
	dispatcher events.Dispatcher
}

// NewFindingsHandler constructs handler.
func NewFindingsHandler(dispatcher events.Dispatcher) *FindingsHandler {
	return &FindingsHandler{dispatcher: dispatcher}
}

// ReportFinding POST /v1/findings. Routing happens in the background; the
// response only confirms the finding was queued.
func (h *FindingsHandler) ReportFinding(c *fiber.Ctx) error {
	var req dto.ReportFindingRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Title == "" {
		return apperrors.NewValidationError("title required", nil)
	}
	if req.SeverityScore == nil {
		return apperrors.NewValidationError("severity_score required", nil)
	}
	if err := domain.ValidateSeverity(*req.SeverityScore); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}

	event := events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventFindingReported,
		FindingID: req.FindingID,
		Timestamp: time.Now().UTC(),
		Payload: events.FindingReportedPayload{
			FindingID:     req.FindingID,
			Title:         req.Title,
			Description:   req.Description,
			SeverityScore: *req.SeverityScore,
			Asset:         req.Asset,
			CustomFields:  req.CustomFields,
		},
	}
	if err := h.dispatcher.Publish(c.UserContext(), event); err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": fiber.Map{"event_id": event.ID}})
}

package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/integration-service/internal/api/dto"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/observability"
	"github.com/spec-kit/integration-service/internal/repository"
	apperrors "github.com/spec-kit/integration-service/pkg/util"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditHandler serves the persisted call audit and in-process counters.
type AuditHandler struct {
	audit   repository.AuditRepository
	metrics *observability.Metrics
}

// NewAuditHandler constructs handler. audit may be nil when no database is
// configured.
func NewAuditHandler(audit repository.AuditRepository, metrics *observability.Metrics) *AuditHandler {
	return &AuditHandler{audit: audit, metrics: metrics}
}

// ListAudit GET /v1/audit?platform=&external_id=&limit=.
func (h *AuditHandler) ListAudit(c *fiber.Ctx) error {
	if h.audit == nil {
		return apperrors.NewDomainError(string(domain.ErrorKindConfiguration), "audit store not configured", http.StatusServiceUnavailable, nil)
	}

	var (
		records []domain.AuditRecord
		err     error
	)
	if externalID := c.Query("external_id"); externalID != "" {
		platform, perr := parsePlatform(c.Query("platform"))
		if perr != nil {
			return perr
		}
		records, err = h.audit.ListByExternalID(c.UserContext(), platform, externalID)
	} else {
		limit := c.QueryInt("limit", defaultAuditLimit)
		if limit <= 0 || limit > maxAuditLimit {
			return apperrors.NewValidationError("limit out of range", map[string]any{"max": maxAuditLimit})
		}
		records, err = h.audit.ListRecent(c.UserContext(), limit)
	}
	if err != nil {
		return err
	}

	out := make([]dto.AuditEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, dto.FromAuditRecord(rec))
	}
	return c.JSON(fiber.Map{"data": out})
}

// Metrics GET /metrics.
func (h *AuditHandler) Metrics(c *fiber.Ctx) error {
	if h.metrics == nil {
		return c.JSON(fiber.Map{"data": observability.Snapshot{}})
	}
	return c.JSON(fiber.Map{"data": h.metrics.Snapshot()})
}

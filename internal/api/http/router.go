package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/integration-service/internal/api/http/handlers"
	"github.com/spec-kit/integration-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Messages       *handlers.MessagesHandler
	Findings       *handlers.FindingsHandler
	Audit          *handlers.AuditHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes. Findings and Audit are optional.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle)

	tickets := v1.Group("/tickets")
	tickets.Post("/", auth.RequireScope(auth.ScopeTicketsWrite), cfg.Tickets.CreateTicket)
	tickets.Get("/:id", auth.RequireScope(auth.ScopeTicketsRead), cfg.Tickets.GetTicket)
	tickets.Post("/:id/status", auth.RequireScope(auth.ScopeTicketsWrite), cfg.Tickets.UpdateStatus)
	tickets.Post("/:id/comments", auth.RequireScope(auth.ScopeTicketsWrite), cfg.Tickets.AddComment)
	tickets.Post("/:id/attachments", auth.RequireScope(auth.ScopeTicketsWrite), cfg.Tickets.AttachFile)

	v1.Post("/messages", auth.RequireScope(auth.ScopeMessagesWrite), cfg.Messages.SendMessage)

	if cfg.Findings != nil {
		v1.Post("/findings", auth.RequireScope(auth.ScopeFindingsWrite), cfg.Findings.ReportFinding)
	}
	if cfg.Audit != nil {
		v1.Get("/audit", auth.RequireScope(auth.ScopeTicketsRead), cfg.Audit.ListAudit)
		app.Get("/metrics", cfg.Audit.Metrics)
	}
}

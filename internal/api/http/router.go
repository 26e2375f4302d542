package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sla-service/internal/api/http/handlers"
	"github.com/spec-kit/sla-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	SLA            *handlers.SLAHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes. Reads need any valid token; mutations
// need the operator role.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authenticated := []fiber.Handler{cfg.AuthMiddleware.Handle, auth.RequireRole()}
	operator := auth.RequireOperator()

	tickets := app.Group("/tickets", authenticated...)
	tickets.Post("/", operator, cfg.Tickets.CreateTicket)
	tickets.Post("/batch", operator, cfg.Tickets.CreateBatch)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/alerts", cfg.Tickets.ListAlerts)
	tickets.Patch("/:id/status", operator, cfg.Tickets.UpdateStatus)
	tickets.Patch("/:id/priority", operator, cfg.Tickets.UpdatePriority)

	slaGroup := app.Group("/sla", authenticated...)
	slaGroup.Get("/metrics", cfg.SLA.Metrics)
	slaGroup.Post("/evaluate", operator, cfg.SLA.Evaluate)
	slaGroup.Get("/policy", cfg.SLA.Policy)
	slaGroup.Get("/policy/versions", cfg.SLA.PolicyVersions)
	slaGroup.Post("/policy/reload", operator, cfg.SLA.ReloadPolicy)
}

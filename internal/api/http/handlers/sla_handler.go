package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sla-service/internal/api/dto"
	"github.com/spec-kit/sla-service/internal/auth"
	"github.com/spec-kit/sla-service/internal/service"
)

// CycleTrigger runs an evaluation cycle on demand, sharing the scheduler's guard.
type CycleTrigger interface {
	RunNow(ctx context.Context) (service.CycleResult, error)
}

// SLAHandler exposes engine metrics, on-demand cycles and the policy.
type SLAHandler struct {
	engine   *service.SLAEngine
	trigger  CycleTrigger
	policies *service.PolicyService
}

// NewSLAHandler constructs handler.
func NewSLAHandler(engine *service.SLAEngine, trigger CycleTrigger, policies *service.PolicyService) *SLAHandler {
	return &SLAHandler{engine: engine, trigger: trigger, policies: policies}
}

// Metrics GET /sla/metrics.
func (h *SLAHandler) Metrics(c *fiber.Ctx) error {
	metrics, err := h.engine.GetMetrics(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": metrics})
}

// Evaluate POST /sla/evaluate. Responds 409 while a cycle is running.
func (h *SLAHandler) Evaluate(c *fiber.Ctx) error {
	result, err := h.trigger.RunNow(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// Policy GET /sla/policy.
func (h *SLAHandler) Policy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.policies.Current().View()})
}

// ReloadPolicy POST /sla/policy/reload. A rejected document keeps the
// active policy and answers 422.
func (h *SLAHandler) ReloadPolicy(c *fiber.Ctx) error {
	snap, err := h.policies.Reload(c.UserContext(), auth.SubjectFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": snap.View()})
}

// PolicyVersions GET /sla/policy/versions.
func (h *SLAHandler) PolicyVersions(c *fiber.Ctx) error {
	versions, err := h.policies.Versions(c.UserContext(), parseInt(c.Query("limit"), 20))
	if err != nil {
		return err
	}
	items := make([]dto.PolicyVersionResponse, 0, len(versions))
	for _, v := range versions {
		items = append(items, dto.PolicyVersionResponse{
			Version:   v.Version,
			Source:    v.Source,
			Checksum:  v.Checksum,
			CreatedAt: v.CreatedAt,
			CreatedBy: v.CreatedBy,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

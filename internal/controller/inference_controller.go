package controller

import (
	"abilico-inference/internal/dto"
	"abilico-inference/internal/pkg/serverutils"
	"abilico-inference/internal/service"
	"abilico-inference/pkg/feed"

	"github.com/gofiber/fiber/v2"
)

type IInferenceController interface {
	RegisterRoutes(r fiber.Router)
	Enrich(ctx *fiber.Ctx) error
	Warmup(ctx *fiber.Ctx) error
	SetEnabled(ctx *fiber.Ctx) error
	Ready(ctx *fiber.Ctx) error
	Models(ctx *fiber.Ctx) error
	CacheStats(ctx *fiber.Ctx) error
	ClearPredictions(ctx *fiber.Ctx) error
	ClearModels(ctx *fiber.Ctx) error
	Viewport(ctx *fiber.Ctx) error
}

type inferenceController struct {
	orchestrator service.IOrchestratorService
	viewport     service.IViewportService
}

func NewInferenceController(orchestrator service.IOrchestratorService, viewport service.IViewportService) IInferenceController {
	return &inferenceController{
		orchestrator: orchestrator,
		viewport:     viewport,
	}
}

func (c *inferenceController) RegisterRoutes(r fiber.Router) {
	r.Post("enrich", c.Enrich)
	r.Post("warmup", c.Warmup)
	r.Put("enabled", c.SetEnabled)
	r.Get("ready", c.Ready)
	r.Get("models", c.Models)
	r.Get("cache/stats", c.CacheStats)
	r.Delete("cache/predictions", c.ClearPredictions)
	r.Delete("cache/models", c.ClearModels)
	r.Get("viewport", c.Viewport)
}

func (c *inferenceController) Enrich(ctx *fiber.Ctx) error {
	var req dto.EnrichRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.orchestrator.Enrich(ctx.Context(), req.Entities)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success enrich entities", res))
}

func (c *inferenceController) Warmup(ctx *fiber.Ctx) error {
	res, err := c.orchestrator.Warmup(ctx.Context())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success warmup", res))
}

func (c *inferenceController) SetEnabled(ctx *fiber.Ctx) error {
	var req dto.SetEnabledRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	enabled := c.orchestrator.SetEnabled(*req.Enabled)
	return ctx.JSON(serverutils.SuccessResponse("Success update enabled flag", dto.SetEnabledResponse{Enabled: enabled}))
}

func (c *inferenceController) Ready(ctx *fiber.Ctx) error {
	res, err := c.orchestrator.IsReady(ctx.Context())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success check readiness", res))
}

func (c *inferenceController) Models(ctx *fiber.Ctx) error {
	res, err := c.orchestrator.AvailableModels(ctx.Context())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success list models", res))
}

func (c *inferenceController) CacheStats(ctx *fiber.Ctx) error {
	res, err := c.orchestrator.CacheStats(ctx.Context())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success fetch cache stats", res))
}

func (c *inferenceController) ClearPredictions(ctx *fiber.Ctx) error {
	if err := c.orchestrator.ClearPredictions(ctx.Context()); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success clear prediction cache", nil))
}

func (c *inferenceController) ClearModels(ctx *fiber.Ctx) error {
	if err := c.orchestrator.ClearModels(ctx.Context()); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success clear model cache", nil))
}

func (c *inferenceController) Viewport(ctx *fiber.Ctx) error {
	bbox, err := feed.ParseBbox(ctx.Query("bbox"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	res, err := c.viewport.Snapshot(ctx.Context(), bbox)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success fetch viewport", res))
}

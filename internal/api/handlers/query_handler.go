package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/querypilot/backend/internal/query"
	"github.com/querypilot/backend/pkg/logger"
)

type QueryHandler struct {
	engine *query.Engine
}

func NewQueryHandler(engine *query.Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

func (h *QueryHandler) HandleDbQuery(c *fiber.Ctx) error {
	var req query.DbQueryRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	response, err := h.engine.ProcessQuery(c.Context(), req)
	if err != nil {
		return writePipelineError(c, err)
	}

	return c.JSON(response)
}

func (h *QueryHandler) HandleDbQueryWithTemplate(c *fiber.Ctx) error {
	var req query.DbQueryWithTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	response, err := h.engine.ProcessWithTemplate(c.Context(), req)
	if err != nil {
		return writePipelineError(c, err)
	}

	return c.JSON(response)
}

// writePipelineError maps the pipeline error taxonomy to HTTP statuses.
// Validation errors surface verbatim; rate-limit errors carry retry hints.
func writePipelineError(c *fiber.Ctx, err error) error {
	var validationErr *query.ValidationError
	if errors.As(err, &validationErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation failed",
			"reasons": validationErr.Reasons,
		})
	}

	var rateErr *query.RateLimitedError
	if errors.As(err, &rateErr) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":               "rate limit exceeded",
			"retry_after_seconds": rateErr.RetryAfterSeconds,
		})
	}

	var cooldownErr *query.CooldownActiveError
	if errors.As(err, &cooldownErr) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":               "cooldown active",
			"retry_after_seconds": cooldownErr.RetryAfterSeconds,
		})
	}

	logger.Error("Failed to process query", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to process query",
	})
}

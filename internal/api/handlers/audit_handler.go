package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/querypilot/backend/internal/audit"
	"github.com/querypilot/backend/pkg/logger"
)

type AuditHandler struct {
	service *audit.Service
}

func NewAuditHandler(service *audit.Service) *AuditHandler {
	return &AuditHandler{service: service}
}

func (h *AuditHandler) GetStats(c *fiber.Ctx) error {
	collectionID, err := strconv.ParseInt(c.Query("collection_id"), 10, 64)
	if err != nil || collectionID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "collection_id is required",
		})
	}

	stats, err := h.service.Stats(c.Context(), collectionID)
	if err != nil {
		logger.Error("Failed to load audit stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load audit stats",
		})
	}

	return c.JSON(fiber.Map{
		"total_queries":  stats.TotalQueries,
		"avg_latency_ms": stats.AvgLatencyMS,
		"avg_row_count":  stats.AvgRowCount,
		"route_counts":   stats.RouteCounts,
		"intent_counts":  stats.IntentCounts,
		"last_query_at":  stats.LastQueryAt,
	})
}

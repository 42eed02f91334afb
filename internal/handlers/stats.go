package handlers

import (
	"github.com/gofiber/fiber/v2"

	"smartshot/internal/services"
)

// StatsHandler serves aggregate statistics
type StatsHandler struct {
	stats *services.StatsService
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(stats *services.StatsService) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// Overview returns the current snapshot
// GET /api/stats/overview
func (h *StatsHandler) Overview(c *fiber.Ctx) error {
	snap, err := h.stats.ComputeSnapshot(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(snap)
}

// Detailed returns the overview, breakdowns and trends for a window
// GET /api/stats/detailed?days=30
func (h *StatsHandler) Detailed(c *fiber.Ctx) error {
	days := c.QueryInt("days", 30)
	if days <= 0 {
		return badRequest(c, "days must be a positive integer")
	}

	detailed, err := h.stats.ComputeDetailed(c.UserContext(), days)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(detailed)
}

package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"smartshot/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	broadcaster  *services.Broadcaster
	watcherState func() string
}

// NewHealthHandler creates a new health handler. watcherState may be nil
// when live detection is disabled.
func NewHealthHandler(broadcaster *services.Broadcaster, watcherState func() string) *HealthHandler {
	return &HealthHandler{broadcaster: broadcaster, watcherState: watcherState}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	watcher := "disabled"
	if h.watcherState != nil {
		watcher = h.watcherState()
	}

	return c.JSON(fiber.Map{
		"status":      "healthy",
		"connections": h.broadcaster.Count(),
		"watcher":     watcher,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

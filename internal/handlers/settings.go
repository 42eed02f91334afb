package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"smartshot/internal/services"
)

// SettingsHandler serves viewer preferences
type SettingsHandler struct {
	settings *services.SettingsService
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings *services.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// Get returns every stored setting
// GET /api/settings
func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	all, err := h.settings.GetAll(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(all)
}

// Update stores a batch of settings atomically
// POST /api/settings
func (h *SettingsHandler) Update(c *fiber.Ctx) error {
	var batch map[string]interface{}
	if err := json.Unmarshal(c.Body(), &batch); err != nil || batch == nil {
		return badRequest(c, "body must be a JSON object")
	}

	if err := h.settings.SetBatch(c.UserContext(), batch); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

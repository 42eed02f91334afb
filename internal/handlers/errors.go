package handlers

import (
	"errors"
	"io/fs"
	"log"

	"github.com/gofiber/fiber/v2"

	"smartshot/internal/models"
)

// respondError maps service errors onto HTTP responses: malformed input is
// a 400, a missing file a 404, and everything else a 500.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrConstraint):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, fs.ErrNotExist):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	log.Printf("❌ [API] %s %s failed: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

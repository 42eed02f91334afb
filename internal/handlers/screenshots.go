package handlers

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"

	"smartshot/internal/models"
	"smartshot/internal/services"
)

// ScreenshotHandler serves the record store query surface
type ScreenshotHandler struct {
	screenshots *services.ScreenshotService
	ingest      *services.IngestService
	export      *services.ExportService
}

// NewScreenshotHandler creates a new screenshot handler
func NewScreenshotHandler(screenshots *services.ScreenshotService, ingest *services.IngestService, export *services.ExportService) *ScreenshotHandler {
	return &ScreenshotHandler{
		screenshots: screenshots,
		ingest:      ingest,
		export:      export,
	}
}

// Recent returns the most recent records
// GET /api/screenshots/recent?limit=10
func (h *ScreenshotHandler) Recent(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	if limit <= 0 {
		return badRequest(c, "limit must be a positive integer")
	}

	shots, err := h.screenshots.ListRecent(c.UserContext(), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"screenshots": shots})
}

// Search filters records by text, category, application and age
// GET /api/search?query=&category=&app=&days=
func (h *ScreenshotHandler) Search(c *fiber.Ctx) error {
	days := c.QueryInt("days", 0)
	if days < 0 {
		return badRequest(c, "days must not be negative")
	}

	results, err := h.screenshots.Search(c.UserContext(), models.SearchQuery{
		Query:    c.Query("query"),
		Category: c.Query("category"),
		AppName:  c.Query("app"),
		Days:     days,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"results": results})
}

// Filters lists the available categories and applications
// GET /api/filters
func (h *ScreenshotHandler) Filters(c *fiber.Ctx) error {
	filters, err := h.screenshots.Filters(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(filters)
}

// CreateScreenshotRequest is the body of a manual insert
type CreateScreenshotRequest struct {
	FilePath      string   `json:"file_path"`
	Category      *string  `json:"category"`
	AppName       *string  `json:"app_name"`
	WindowTitle   *string  `json:"window_title"`
	OCRText       *string  `json:"ocr_text"`
	OCRConfidence *float64 `json:"ocr_confidence"`
}

// Create records a file through the same path as the watcher, so viewers
// see new_screenshot followed by stats_update
// POST /api/screenshots
func (h *ScreenshotHandler) Create(c *fiber.Ctx) error {
	var req CreateScreenshotRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.FilePath == "" {
		return badRequest(c, "file_path is required")
	}
	if !filepath.IsAbs(req.FilePath) {
		return badRequest(c, "file_path must be absolute")
	}
	if !models.IsImageFile(req.FilePath) {
		return badRequest(c, "file_path must be a png, jpg, jpeg, gif or bmp file")
	}

	activity, err := h.ingest.Ingest(c.UserContext(), req.FilePath, models.ScreenshotAttrs{
		Category:      req.Category,
		AppName:       req.AppName,
		WindowTitle:   req.WindowTitle,
		OCRText:       req.OCRText,
		OCRConfidence: req.OCRConfidence,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"activity": activity,
	})
}

// Export downloads the most recent records as an XLSX workbook
// GET /api/screenshots/export?limit=500
func (h *ScreenshotHandler) Export(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 500)
	if limit <= 0 {
		return badRequest(c, "limit must be a positive integer")
	}

	data, err := h.export.ExportRecent(c.UserContext(), limit)
	if err != nil {
		return respondError(c, err)
	}

	filename := fmt.Sprintf("smartshot-%s.xlsx", time.Now().Format("20060102-150405"))
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(data)
}

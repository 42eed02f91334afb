package services

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"smartshot/internal/models"
)

const exportSheet = "Screenshots"

var exportHeaders = []interface{}{
	"ID", "File Path", "File Name", "Size (bytes)", "Category", "Application",
	"Window Title", "Created At", "OCR Text", "OCR Confidence",
}

// ExportService renders screenshot records as an XLSX workbook
type ExportService struct {
	screenshots *ScreenshotService
}

// NewExportService creates a new export service
func NewExportService(screenshots *ScreenshotService) *ExportService {
	return &ExportService{screenshots: screenshots}
}

// ExportRecent writes the limit most recent records to a workbook and
// returns its bytes
func (s *ExportService) ExportRecent(ctx context.Context, limit int) ([]byte, error) {
	shots, err := s.screenshots.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := f.SetSheetRow(exportSheet, "A1", &exportHeaders); err != nil {
		return nil, fmt.Errorf("failed to write header row: %w", err)
	}

	for i, shot := range shots {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := exportRow(shot)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func exportRow(shot models.Screenshot) []interface{} {
	var confidence interface{}
	if shot.OCRConfidence != nil {
		confidence = *shot.OCRConfidence
	}
	return []interface{}{
		shot.ID,
		shot.FilePath,
		shot.FileName,
		shot.FileSize,
		deref(shot.Category),
		deref(shot.AppName),
		deref(shot.WindowTitle),
		shot.CreatedAt.Format(time.RFC3339),
		deref(shot.OCRText),
		confidence,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

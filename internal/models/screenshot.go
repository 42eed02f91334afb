package models

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultCategory is the label the external processor assigns when it
// could not classify a screenshot. It does not count as categorized.
const DefaultCategory = "Uncategorized"

// ImageExtensions is the allow-list of file extensions treated as screenshots
var ImageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
}

// IsImageFile reports whether path has an allow-listed image extension (case-insensitive)
func IsImageFile(path string) bool {
	return ImageExtensions[strings.ToLower(filepath.Ext(path))]
}

// Screenshot is one persisted screenshot record
type Screenshot struct {
	ID            int64     `json:"id"`
	FilePath      string    `json:"file_path"`
	FileName      string    `json:"file_name"`
	FileSize      int64     `json:"file_size"`
	FileHash      *string   `json:"file_hash"`
	Category      *string   `json:"category"`
	AppName       *string   `json:"app_name"`
	WindowTitle   *string   `json:"window_title"`
	CreatedAt     time.Time `json:"created_at"`
	OCRText       *string   `json:"ocr_text"`
	OCRConfidence *float64  `json:"ocr_confidence"`
}

// ScreenshotAttrs holds the attributes written by an upsert. Nil pointers
// leave an existing value untouched; a zero CreatedAt means "now" on insert.
type ScreenshotAttrs struct {
	FileName      string    `json:"file_name,omitempty"`
	FileSize      int64     `json:"file_size,omitempty"`
	FileHash      *string   `json:"file_hash,omitempty"`
	Category      *string   `json:"category,omitempty"`
	AppName       *string   `json:"app_name,omitempty"`
	WindowTitle   *string   `json:"window_title,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	OCRText       *string   `json:"ocr_text,omitempty"`
	OCRConfidence *float64  `json:"ocr_confidence,omitempty"`
}

// SearchQuery holds the optional filters of a record search
type SearchQuery struct {
	Query    string // matched against OCR text, file name and window title
	Category string
	AppName  string
	Days     int // only records created within the last N days (0 = no limit)
	Limit    int
}

// FilterOptions lists the distinct values available for search filters
type FilterOptions struct {
	Categories []string `json:"categories"`
	Apps       []string `json:"apps"`
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

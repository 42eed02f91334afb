package services

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"smartshot/internal/database"
	"smartshot/internal/models"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 500
	searchLimit        = 50
)

const screenshotColumns = `id, file_path, file_name, file_size, file_hash, category, app_name,
	window_title, created_at, ocr_text, ocr_confidence`

// ScreenshotService is the record store for screenshot entries
type ScreenshotService struct {
	db *database.DB
}

// NewScreenshotService creates a new screenshot service
func NewScreenshotService(db *database.DB) *ScreenshotService {
	return &ScreenshotService{db: db}
}

// Upsert inserts a record for path or updates the existing one. Re-inserting
// the same path never creates a second row. Only a malformed path (empty or
// relative) is rejected, with an error wrapping models.ErrConstraint.
func (s *ScreenshotService) Upsert(ctx context.Context, path string, attrs models.ScreenshotAttrs) (int64, error) {
	if path == "" || !filepath.IsAbs(path) {
		return 0, fmt.Errorf("%w: file path must be absolute, got %q", models.ErrConstraint, path)
	}
	path = filepath.Clean(path)

	if attrs.FileName == "" {
		attrs.FileName = filepath.Base(path)
	}
	createdAt := attrs.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	args := []interface{}{
		path, attrs.FileName, attrs.FileSize, attrs.FileHash, attrs.Category, attrs.AppName,
		attrs.WindowTitle, createdAt.UnixMilli(), attrs.OCRText, attrs.OCRConfidence,
	}

	if s.db.Dialect() == database.DialectMySQL {
		// LAST_INSERT_ID(id) makes LastInsertId return the existing row on update
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO screenshots
				(file_path, file_name, file_size, file_hash, category, app_name,
				 window_title, created_at, ocr_text, ocr_confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				id = LAST_INSERT_ID(id),
				file_name = VALUES(file_name),
				file_size = VALUES(file_size),
				file_hash = COALESCE(VALUES(file_hash), file_hash),
				category = COALESCE(VALUES(category), category),
				app_name = COALESCE(VALUES(app_name), app_name),
				window_title = COALESCE(VALUES(window_title), window_title),
				ocr_text = COALESCE(VALUES(ocr_text), ocr_text),
				ocr_confidence = COALESCE(VALUES(ocr_confidence), ocr_confidence)
		`, args...)
		if err != nil {
			return 0, &models.StoreError{Op: "upsert", Err: err}
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, &models.StoreError{Op: "upsert", Err: err}
		}
		return id, nil
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO screenshots
			(file_path, file_name, file_size, file_hash, category, app_name,
			 window_title, created_at, ocr_text, ocr_confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			file_name = excluded.file_name,
			file_size = excluded.file_size,
			file_hash = COALESCE(excluded.file_hash, file_hash),
			category = COALESCE(excluded.category, category),
			app_name = COALESCE(excluded.app_name, app_name),
			window_title = COALESCE(excluded.window_title, window_title),
			ocr_text = COALESCE(excluded.ocr_text, ocr_text),
			ocr_confidence = COALESCE(excluded.ocr_confidence, ocr_confidence)
		RETURNING id
	`, args...).Scan(&id)
	if err != nil {
		return 0, &models.StoreError{Op: "upsert", Err: err}
	}
	return id, nil
}

// GetByPath returns the record for path, or nil if there is none
func (s *ScreenshotService) GetByPath(ctx context.Context, path string) (*models.Screenshot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+screenshotColumns+" FROM screenshots WHERE file_path = ?", filepath.Clean(path))

	shot, err := scanScreenshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &models.StoreError{Op: "get", Err: err}
	}
	return shot, nil
}

// Exists reports whether a record for path is stored
func (s *ScreenshotService) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM screenshots WHERE file_path = ?", filepath.Clean(path)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &models.StoreError{Op: "exists", Err: err}
	}
	return true, nil
}

// Count returns the number of stored records
func (s *ScreenshotService) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM screenshots").Scan(&n); err != nil {
		return 0, &models.StoreError{Op: "count", Err: err}
	}
	return n, nil
}

// ListRecent returns up to limit records, most recently created first
func (s *ScreenshotService) ListRecent(ctx context.Context, limit int) ([]models.Screenshot, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+screenshotColumns+" FROM screenshots ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, &models.StoreError{Op: "list recent", Err: err}
	}
	defer rows.Close()

	return collectScreenshots(rows, "list recent")
}

// Search runs a parameterized filter over the records, newest first
func (s *ScreenshotService) Search(ctx context.Context, q models.SearchQuery) ([]models.Screenshot, error) {
	var sb strings.Builder
	var args []interface{}

	sb.WriteString("SELECT " + screenshotColumns + " FROM screenshots WHERE 1=1")

	if q.Query != "" {
		like := "%" + q.Query + "%"
		sb.WriteString(" AND (ocr_text LIKE ? OR file_name LIKE ? OR window_title LIKE ?)")
		args = append(args, like, like, like)
	}
	if q.Category != "" {
		sb.WriteString(" AND category = ?")
		args = append(args, q.Category)
	}
	if q.AppName != "" {
		sb.WriteString(" AND app_name = ?")
		args = append(args, q.AppName)
	}
	if q.Days > 0 {
		sb.WriteString(" AND created_at >= ?")
		args = append(args, time.Now().AddDate(0, 0, -q.Days).UnixMilli())
	}

	limit := q.Limit
	if limit <= 0 || limit > searchLimit {
		limit = searchLimit
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, &models.StoreError{Op: "search", Err: err}
	}
	defer rows.Close()

	return collectScreenshots(rows, "search")
}

// Filters lists the distinct categories and applications, sorted
func (s *ScreenshotService) Filters(ctx context.Context) (*models.FilterOptions, error) {
	categories, err := s.distinct(ctx, "category")
	if err != nil {
		return nil, err
	}
	apps, err := s.distinct(ctx, "app_name")
	if err != nil {
		return nil, err
	}
	return &models.FilterOptions{Categories: categories, Apps: apps}, nil
}

func (s *ScreenshotService) distinct(ctx context.Context, column string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT DISTINCT %[1]s FROM screenshots WHERE %[1]s IS NOT NULL ORDER BY %[1]s", column))
	if err != nil {
		return nil, &models.StoreError{Op: "filters", Err: err}
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, &models.StoreError{Op: "filters", Err: err}
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StoreError{Op: "filters", Err: err}
	}
	return values, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScreenshot(row rowScanner) (*models.Screenshot, error) {
	var shot models.Screenshot
	var fileHash, category, appName, windowTitle, ocrText sql.NullString
	var confidence sql.NullFloat64
	var createdAt int64

	if err := row.Scan(&shot.ID, &shot.FilePath, &shot.FileName, &shot.FileSize, &fileHash,
		&category, &appName, &windowTitle, &createdAt, &ocrText, &confidence); err != nil {
		return nil, err
	}

	shot.FileHash = nullString(fileHash)
	shot.Category = nullString(category)
	shot.AppName = nullString(appName)
	shot.WindowTitle = nullString(windowTitle)
	shot.OCRText = nullString(ocrText)
	shot.CreatedAt = time.UnixMilli(createdAt).UTC()
	if confidence.Valid {
		c := confidence.Float64
		shot.OCRConfidence = &c
	}
	return &shot, nil
}

func collectScreenshots(rows *sql.Rows, op string) ([]models.Screenshot, error) {
	shots := make([]models.Screenshot, 0)
	for rows.Next() {
		shot, err := scanScreenshot(rows)
		if err != nil {
			return nil, &models.StoreError{Op: op, Err: err}
		}
		shots = append(shots, *shot)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StoreError{Op: op, Err: err}
	}
	return shots, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

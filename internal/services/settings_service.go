package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"smartshot/internal/database"
	"smartshot/internal/models"
)

// SettingsService is the key-value store for viewer preferences.
// Values are stored as their JSON encoding.
type SettingsService struct {
	db *database.DB
}

// NewSettingsService creates a new settings service
func NewSettingsService(db *database.DB) *SettingsService {
	return &SettingsService{db: db}
}

// Get retrieves a setting by key. Stored text that is not valid JSON is
// returned as a raw string.
func (s *SettingsService) Get(ctx context.Context, key string) (interface{}, bool, error) {
	setting := models.Setting{Key: key}
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE `key` = ?", key).Scan(&setting.Value)
	if err == sql.ErrNoRows {
		return nil, false, nil // Not found is not an error
	}
	if err != nil {
		return nil, false, &models.StoreError{Op: "get setting", Err: err}
	}
	return setting.Decoded(), true, nil
}

// GetAll returns every stored setting, decoded
func (s *SettingsService) GetAll(ctx context.Context) (map[string]interface{}, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	settings := make(map[string]interface{}, len(entries))
	for _, entry := range entries {
		settings[entry.Key] = entry.Decoded()
	}
	return settings, nil
}

// List returns the raw entries ordered by key
func (s *SettingsService) List(ctx context.Context) ([]models.Setting, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT `key`, value, updated_at FROM settings ORDER BY `key`")
	if err != nil {
		return nil, &models.StoreError{Op: "list settings", Err: err}
	}
	defer rows.Close()

	var entries []models.Setting
	for rows.Next() {
		var entry models.Setting
		var updatedAt int64
		if err := rows.Scan(&entry.Key, &entry.Value, &updatedAt); err != nil {
			return nil, &models.StoreError{Op: "list settings", Err: err}
		}
		entry.UpdatedAt = time.UnixMilli(updatedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StoreError{Op: "list settings", Err: err}
	}
	return entries, nil
}

// SetBatch writes every entry in one transaction. Either all keys are
// stored or none are.
func (s *SettingsService) SetBatch(ctx context.Context, values map[string]interface{}) error {
	if len(values) == 0 {
		return nil
	}

	encoded := make(map[string]string, len(values))
	for key, value := range values {
		if key == "" {
			return fmt.Errorf("%w: setting key must not be empty", models.ErrConstraint)
		}
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode setting %s: %w", key, err)
		}
		encoded[key] = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.StoreError{Op: "set settings", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsertSQL())
	if err != nil {
		return &models.StoreError{Op: "set settings", Err: err}
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for key, value := range encoded {
		if _, err := stmt.ExecContext(ctx, key, value, now); err != nil {
			return &models.StoreError{Op: "set settings", Err: fmt.Errorf("key %s: %w", key, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.StoreError{Op: "set settings", Err: err}
	}
	return nil
}

func (s *SettingsService) upsertSQL() string {
	if s.db.Dialect() == database.DialectMySQL {
		return "INSERT INTO settings (`key`, value, updated_at) VALUES (?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)"
	}
	return "INSERT INTO settings (`key`, value, updated_at) VALUES (?, ?, ?) " +
		"ON CONFLICT(`key`) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"
}

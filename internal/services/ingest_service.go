package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"smartshot/internal/models"
)

const (
	ActivityScreenshotProcessed = "screenshot_processed"
	ActivityStatusSuccess       = "success"

	defaultIngestRate = 20
)

// Notifier announces a newly recorded screenshot to viewers
type Notifier interface {
	NotifyNewScreenshot(ctx context.Context, activity models.Activity) error
}

// IngestService turns a detected file into a stored record and a viewer
// notification. It is shared by the filesystem observer, the manual insert
// endpoint and the library rescan.
type IngestService struct {
	screenshots *ScreenshotService
	notifier    Notifier
	limiter     *rate.Limiter
	metrics     *Metrics
	logger      *logrus.Logger
}

// NewIngestService creates an ingest service admitting at most perSecond
// files per second (burst of twice that)
func NewIngestService(screenshots *ScreenshotService, notifier Notifier, perSecond float64) *IngestService {
	if perSecond <= 0 {
		perSecond = defaultIngestRate
	}

	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &IngestService{
		screenshots: screenshots,
		notifier:    notifier,
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:      logger,
	}
}

// SetMetrics attaches Prometheus metrics
func (s *IngestService) SetMetrics(m *Metrics) {
	s.metrics = m
}

// SetLogger replaces the structured logger
func (s *IngestService) SetLogger(logger *logrus.Logger) {
	s.logger = logger
}

// Ingest records path and broadcasts new_screenshot followed by stats_update.
// Re-ingesting a known path updates the record and notifies again.
func (s *IngestService) Ingest(ctx context.Context, path string, attrs models.ScreenshotAttrs) (*models.Activity, error) {
	start := time.Now()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	id, err := s.Record(ctx, path, attrs)
	if err != nil {
		return nil, err
	}

	activity := models.Activity{
		ID:        uuid.New().String(),
		Type:      ActivityScreenshotProcessed,
		Message:   "New screenshot processed",
		Details:   filepath.Base(path),
		Timestamp: time.Now().UTC(),
		Status:    ActivityStatusSuccess,
		RecordID:  id,
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyNewScreenshot(ctx, activity); err != nil {
			// the record is stored; viewers catch up on their next stats_update
			s.metrics.RecordIngestError("notify")
			s.logger.WithFields(logrus.Fields{
				"path":  path,
				"error": err.Error(),
			}).Warn("Failed to notify viewers")
		}
	}

	s.metrics.RecordDetected(time.Since(start).Seconds())
	return &activity, nil
}

// Record stats and hashes path, then upserts it without notifying anyone
func (s *IngestService) Record(ctx context.Context, path string, attrs models.ScreenshotAttrs) (int64, error) {
	if attrs.FileSize == 0 || attrs.FileHash == nil {
		info, err := os.Stat(path)
		if err != nil {
			s.metrics.RecordIngestError("stat")
			return 0, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.IsDir() {
			return 0, fmt.Errorf("%s is a directory", path)
		}
		if attrs.FileSize == 0 {
			attrs.FileSize = info.Size()
		}
		if attrs.FileHash == nil {
			hash, err := hashFile(path)
			if err != nil {
				// hashing is best effort; the record is still useful without it
				s.logger.WithFields(logrus.Fields{
					"path":  path,
					"error": err.Error(),
				}).Warn("Failed to hash file")
			} else {
				attrs.FileHash = &hash
			}
		}
	}

	id, err := s.screenshots.Upsert(ctx, path, attrs)
	if err != nil {
		s.metrics.RecordIngestError("store")
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"id":   id,
		"path": path,
		"size": attrs.FileSize,
	}).Info("Screenshot recorded")

	return id, nil
}

// hashFile returns the hex SHA-256 of the file contents
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

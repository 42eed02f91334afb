package jobs

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"path/filepath"

	"smartshot/internal/models"
)

// RecordStore is the part of the record store the rescan needs
type RecordStore interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Recorder stores a file without announcing it
type Recorder interface {
	Record(ctx context.Context, path string, attrs models.ScreenshotAttrs) (int64, error)
}

// StatsBroadcaster pushes a fresh stats_update to viewers
type StatsBroadcaster interface {
	BroadcastStats(ctx context.Context) error
}

// LibraryRescanJob reconciles the store with the watch root. Files that
// appeared while nothing was watching get a record; viewers then receive one
// stats_update. No new_screenshot is sent for reconciled files.
type LibraryRescanJob struct {
	root        string
	recursive   bool
	store       RecordStore
	recorder    Recorder
	broadcaster StatsBroadcaster
}

// NewLibraryRescanJob creates a rescan of root
func NewLibraryRescanJob(root string, recursive bool, store RecordStore, recorder Recorder, broadcaster StatsBroadcaster) *LibraryRescanJob {
	return &LibraryRescanJob{
		root:        root,
		recursive:   recursive,
		store:       store,
		recorder:    recorder,
		broadcaster: broadcaster,
	}
}

// Run walks the root once
func (j *LibraryRescanJob) Run(ctx context.Context) error {
	inserted, err := j.scan(ctx)
	if err != nil {
		return err
	}

	if inserted == 0 {
		return nil
	}

	log.Printf("🔄 [RESCAN] Recorded %d missed screenshots under %s", inserted, j.root)
	if j.broadcaster != nil {
		return j.broadcaster.BroadcastStats(ctx)
	}
	return nil
}

func (j *LibraryRescanJob) scan(ctx context.Context) (int, error) {
	inserted := 0

	err := filepath.WalkDir(j.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == j.root {
				return &models.ObserverInitError{Path: j.root, Err: err}
			}
			log.Printf("⚠️  [RESCAN] Skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if path != j.root && !j.recursive {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !models.IsImageFile(path) {
			return nil
		}

		exists, err := j.store.Exists(ctx, path)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// vanished mid-walk
			return nil
		}

		attrs := models.ScreenshotAttrs{FileSize: info.Size(), CreatedAt: info.ModTime()}
		if _, err := j.recorder.Record(ctx, path, attrs); err != nil {
			var storeErr *models.StoreError
			if errors.As(err, &storeErr) {
				return err
			}
			log.Printf("⚠️  [RESCAN] Failed to record %s: %v", path, err)
			return nil
		}
		inserted++
		return nil
	})

	return inserted, err
}

// Package watcher detects newly written screenshot files under a directory
// tree and hands them to a callback once they have settled.
package watcher

import (
	"context"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/patrickmn/go-cache"

	"smartshot/internal/logging"
	"smartshot/internal/models"
)

// Observer states reported to the health endpoint
const (
	StateIdle     = "idle"
	StateWatching = "watching"
	StateDegraded = "degraded"
	StateStopped  = "stopped"
)

const (
	defaultSettle = 500 * time.Millisecond
	dedupeWindow  = 10 * time.Second
)

// Handler receives the absolute path of a settled screenshot file
type Handler func(ctx context.Context, path string)

// Options configures an Observer
type Options struct {
	Recursive bool
	Settle    time.Duration // quiet period after the last write before a file is reported
}

// Observer watches one root directory for new image files. Delivery is
// best-effort: a file is reported at most once per dedupe window, and files
// created while the observer is down are left to the library rescan.
type Observer struct {
	root    string
	opts    Options
	handler Handler

	watcher *fsnotify.Watcher
	recent  *cache.Cache

	mu      sync.Mutex
	pending map[string]*pendingFile
	state   string
	stopped bool

	inflight sync.WaitGroup
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an observer for root. Nothing is watched until Start.
func New(root string, opts Options, handler Handler) *Observer {
	if opts.Settle <= 0 {
		opts.Settle = defaultSettle
	}
	return &Observer{
		root:    root,
		opts:    opts,
		handler: handler,
		recent:  cache.New(dedupeWindow, time.Minute),
		pending: make(map[string]*pendingFile),
		state:   StateIdle,
	}
}

// Root returns the watched directory
func (o *Observer) Root() string {
	return o.root
}

// State returns the current observer state
func (o *Observer) State() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Observer) setState(s string) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Start begins watching. A missing or unreadable root yields an
// *models.ObserverInitError and leaves the observer degraded; callers are
// expected to log it and keep serving.
func (o *Observer) Start(ctx context.Context) error {
	info, err := os.Stat(o.root)
	if err != nil {
		o.setState(StateDegraded)
		return &models.ObserverInitError{Path: o.root, Err: err}
	}
	if !info.IsDir() {
		o.setState(StateDegraded)
		return &models.ObserverInitError{Path: o.root, Err: fs.ErrInvalid}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		o.setState(StateDegraded)
		return &models.ObserverInitError{Path: o.root, Err: err}
	}

	if err := o.addTree(watcher, o.root); err != nil {
		_ = watcher.Close()
		o.setState(StateDegraded)
		return &models.ObserverInitError{Path: o.root, Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	o.watcher = watcher
	o.cancel = cancel
	o.done = make(chan struct{})
	o.setState(StateWatching)

	go o.run(ctx)

	log.Printf("👁️  [WATCHER] Watching %s for new screenshots (recursive: %v)", o.root, o.opts.Recursive)
	return nil
}

// Stop ends watching, cancels pending files and waits for in-flight handlers
func (o *Observer) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	_ = o.watcher.Close()
	<-o.done

	o.mu.Lock()
	o.stopped = true
	for path, p := range o.pending {
		p.timer.Stop()
		delete(o.pending, path)
	}
	o.state = StateStopped
	o.mu.Unlock()

	o.inflight.Wait()
}

// addTree watches dir and, when recursive, every directory below it
func (o *Observer) addTree(watcher *fsnotify.Watcher, dir string) error {
	if !o.opts.Recursive {
		return watcher.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subdirectories are skipped, the root is not
			if path == dir {
				return err
			}
			log.Printf("⚠️  [WATCHER] Skipping %s: %v", path, err)
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}

func (o *Observer) run(ctx context.Context) {
	defer close(o.done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			o.handleEvent(ctx, event)

		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  [WATCHER] File watcher error: %v", err)
		}
	}
}

func (o *Observer) handleEvent(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		if o.opts.Recursive {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := o.addTree(o.watcher, event.Name); err != nil {
					log.Printf("⚠️  [WATCHER] Failed to watch new directory %s: %v", event.Name, err)
				}
				return
			}
		}
		if !models.IsImageFile(event.Name) {
			return
		}
		o.schedule(ctx, event.Name, true)

	case event.Has(fsnotify.Write):
		// writes only extend the quiet period of a file already pending
		o.schedule(ctx, event.Name, false)
	}
}

type pendingFile struct {
	timer *time.Timer
}

// schedule (re)starts the settle timer for path. Only a create may start a
// new timer; writes just push an existing one back.
func (o *Observer) schedule(ctx context.Context, path string, create bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return
	}
	if p, ok := o.pending[path]; ok {
		p.timer.Reset(o.opts.Settle)
		return
	}
	if !create {
		return
	}

	p := &pendingFile{}
	p.timer = time.AfterFunc(o.opts.Settle, func() {
		o.mu.Lock()
		// a Reset racing with expiry can run this twice; only the
		// current entry fires
		if o.stopped || o.pending[path] != p {
			o.mu.Unlock()
			return
		}
		delete(o.pending, path)
		o.inflight.Add(1)
		o.mu.Unlock()

		defer o.inflight.Done()
		o.fire(ctx, path)
	})
	o.pending[path] = p
}

func (o *Observer) fire(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		// removed or replaced before it settled
		logging.WithFile(slog.Default(), path, "settle").Debug("file gone before settle")
		return
	}

	// go-cache Add fails if the key is present: duplicate creates collapse
	if err := o.recent.Add(path, struct{}{}, cache.DefaultExpiration); err != nil {
		logging.WithFile(slog.Default(), path, "dedupe").Debug("duplicate create ignored")
		return
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	log.Printf("📸 [WATCHER] New screenshot detected: %s", filepath.Base(abs))
	o.handler(ctx, abs)
}

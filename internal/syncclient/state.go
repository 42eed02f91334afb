package syncclient

import (
	"log"
	"sync"

	"smartshot/internal/models"
)

// LocalState is the viewer-side mirror: the last snapshot received and the
// most recent activity, newest first
type LocalState struct {
	mutex    sync.RWMutex
	snapshot *models.StatsSnapshot
	activity []models.Activity
	synced   bool
	sessions int
}

// NewLocalState creates an empty mirror
func NewLocalState() *LocalState {
	return &LocalState{activity: make([]models.Activity, 0, MaxActivity)}
}

// Apply folds one event into the mirror
func (l *LocalState) Apply(ev models.Event) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	switch e := ev.(type) {
	case models.StatsUpdate:
		snap := e.Snapshot
		l.snapshot = &snap
		l.synced = true
	case models.NewScreenshot:
		l.prepend(e.Activity)
	case models.ActivityUpdate:
		l.prepend(e.Activity)
	default:
		log.Printf("⚠️  [SYNC] Unhandled event kind %q", ev.Kind())
	}
}

// prepend adds a to the front and evicts the oldest entry past MaxActivity
func (l *LocalState) prepend(a models.Activity) {
	l.activity = append(l.activity, models.Activity{})
	copy(l.activity[1:], l.activity)
	l.activity[0] = a
	if len(l.activity) > MaxActivity {
		l.activity = l.activity[:MaxActivity]
	}
}

// beginSession marks the mirror stale until the next baseline arrives
func (l *LocalState) beginSession() {
	l.mutex.Lock()
	l.synced = false
	l.sessions++
	l.mutex.Unlock()
}

// Snapshot returns a copy of the last snapshot, or false if none arrived yet
func (l *LocalState) Snapshot() (models.StatsSnapshot, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if l.snapshot == nil {
		return models.StatsSnapshot{}, false
	}
	return *l.snapshot, true
}

// Activity returns a copy of the activity list, newest first
func (l *LocalState) Activity() []models.Activity {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	out := make([]models.Activity, len(l.activity))
	copy(out, l.activity)
	return out
}

// Synced reports whether the current session has received its baseline
func (l *LocalState) Synced() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.synced
}

// Sessions is the number of connections established so far
func (l *LocalState) Sessions() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.sessions
}

package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"

	"smartshot/internal/models"
)

const defaultWriteTimeout = 5 * time.Second

// SnapshotSource produces the current statistics snapshot
type SnapshotSource interface {
	ComputeSnapshot(ctx context.Context) (*models.StatsSnapshot, error)
}

// EventPublisher forwards locally originated frames to other instances
type EventPublisher interface {
	Publish(ctx context.Context, frame []byte) error
}

// Broadcaster is the sole owner of the set of connected viewers. All
// membership changes go through Register and Unregister.
type Broadcaster struct {
	connections map[string]*models.ViewerConnection
	mutex       sync.RWMutex

	// seq orders baselines against broadcasts: a viewer registered before a
	// broadcast starts always receives its baseline first.
	seq sync.Mutex
	// delivered counts fan-outs; bumped under seq
	delivered atomic.Uint64

	stats        SnapshotSource
	writeTimeout time.Duration
	metrics      *Metrics
	publisher    EventPublisher

	onRemove func(connID string)
}

// NewBroadcaster creates a broadcaster that reads baselines from stats
func NewBroadcaster(stats SnapshotSource, writeTimeout time.Duration) *Broadcaster {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Broadcaster{
		connections:  make(map[string]*models.ViewerConnection),
		stats:        stats,
		writeTimeout: writeTimeout,
	}
}

// SetMetrics attaches Prometheus metrics
func (b *Broadcaster) SetMetrics(m *Metrics) {
	b.metrics = m
}

// SetPublisher attaches a cross-instance publisher
func (b *Broadcaster) SetPublisher(p EventPublisher) {
	b.publisher = p
}

// OnRemove sets a hook that runs once for every removed connection
func (b *Broadcaster) OnRemove(fn func(connID string)) {
	b.onRemove = fn
}

// Register adds conn to the set and queues its stats_update baseline. The
// baseline is queued before conn becomes visible to any broadcast.
// The snapshot is computed without holding seq; if anything was delivered
// meanwhile it is recomputed under seq so the baseline never predates an
// event the viewer will not see.
func (b *Broadcaster) Register(ctx context.Context, conn *models.ViewerConnection) error {
	seen := b.delivered.Load()
	snap, err := b.stats.ComputeSnapshot(ctx)
	if err != nil {
		return err
	}

	b.seq.Lock()
	defer b.seq.Unlock()

	if b.delivered.Load() != seen {
		if snap, err = b.stats.ComputeSnapshot(ctx); err != nil {
			return err
		}
	}
	frame, err := models.EncodeEvent(models.StatsUpdate{Snapshot: *snap})
	if err != nil {
		return err
	}
	if err := conn.Enqueue(frame); err != nil {
		return err
	}
	if !conn.MarkOpen() {
		return &models.DeliveryError{ConnID: conn.ConnID, Reason: models.DeliveryClosed}
	}

	b.mutex.Lock()
	b.connections[conn.ConnID] = conn
	total := len(b.connections)
	b.mutex.Unlock()

	conn.WriterStarted()
	go b.writeLoop(conn)

	b.metrics.RecordBroadcast(string(models.EventStatsUpdate))
	log.Printf("✅ [BROADCAST] Viewer registered: %s (Total: %d)", conn.ConnID, total)
	return nil
}

// Unregister removes a connection and closes it. Safe to call any number of
// times from any goroutine; only the first call for a connection has effect.
func (b *Broadcaster) Unregister(connID string) bool {
	b.mutex.Lock()
	conn, exists := b.connections[connID]
	if exists {
		delete(b.connections, connID)
	}
	total := len(b.connections)
	b.mutex.Unlock()

	if !exists {
		return false
	}

	conn.Close()
	if b.onRemove != nil {
		b.onRemove(connID)
	}
	log.Printf("❌ [BROADCAST] Viewer removed: %s (Total: %d)", connID, total)
	return true
}

// Count returns the number of registered viewers
func (b *Broadcaster) Count() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.connections)
}

// Broadcast delivers e to every registered viewer. A failing viewer is
// removed and never affects delivery to the others.
func (b *Broadcaster) Broadcast(ctx context.Context, e models.Event) error {
	frame, err := models.EncodeEvent(e)
	if err != nil {
		return err
	}

	b.seq.Lock()
	b.deliver(e.Kind(), frame)
	b.seq.Unlock()

	b.publish(ctx, frame)
	return nil
}

// NotifyNewScreenshot broadcasts new_screenshot followed by a freshly
// computed stats_update. No other broadcast can interleave between the two.
func (b *Broadcaster) NotifyNewScreenshot(ctx context.Context, activity models.Activity) error {
	announce, err := models.EncodeEvent(models.NewScreenshot{Activity: activity})
	if err != nil {
		return err
	}

	b.seq.Lock()
	b.deliver(models.EventNewScreenshot, announce)
	update, statsErr := b.statsFrame(ctx)
	if statsErr == nil {
		b.deliver(models.EventStatsUpdate, update)
	}
	b.seq.Unlock()

	b.publish(ctx, announce)
	if statsErr != nil {
		log.Printf("⚠️ [BROADCAST] Failed to recompute stats after %s: %v", activity.Details, statsErr)
		return statsErr
	}
	b.publish(ctx, update)
	return nil
}

// BroadcastStats recomputes the snapshot and broadcasts it
func (b *Broadcaster) BroadcastStats(ctx context.Context) error {
	b.seq.Lock()
	frame, err := b.statsFrame(ctx)
	if err == nil {
		b.deliver(models.EventStatsUpdate, frame)
	}
	b.seq.Unlock()

	if err != nil {
		return err
	}
	b.publish(ctx, frame)
	return nil
}

// DeliverRemote fans out a frame received from another instance to local
// viewers only. It is never published again.
func (b *Broadcaster) DeliverRemote(frame []byte) error {
	e, err := models.DecodeEvent(frame)
	if err != nil {
		return err
	}

	b.seq.Lock()
	defer b.seq.Unlock()
	b.deliver(e.Kind(), frame)
	return nil
}

// CloseAll removes every viewer, used on shutdown
func (b *Broadcaster) CloseAll() {
	b.mutex.RLock()
	ids := make([]string, 0, len(b.connections))
	for id := range b.connections {
		ids = append(ids, id)
	}
	b.mutex.RUnlock()

	for _, id := range ids {
		b.Unregister(id)
	}
}

func (b *Broadcaster) statsFrame(ctx context.Context) ([]byte, error) {
	snap, err := b.stats.ComputeSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return models.EncodeEvent(models.StatsUpdate{Snapshot: *snap})
}

// deliver must be called with seq held
func (b *Broadcaster) deliver(kind models.EventKind, frame []byte) {
	b.mutex.RLock()
	targets := make([]*models.ViewerConnection, 0, len(b.connections))
	for _, conn := range b.connections {
		targets = append(targets, conn)
	}
	b.mutex.RUnlock()

	b.delivered.Add(1)
	for _, conn := range targets {
		if err := conn.Enqueue(frame); err != nil {
			b.fail(conn.ConnID, err)
		}
	}

	b.metrics.RecordBroadcast(string(kind))
}

func (b *Broadcaster) publish(ctx context.Context, frame []byte) {
	if b.publisher == nil {
		return
	}
	if err := b.publisher.Publish(ctx, frame); err != nil {
		log.Printf("⚠️ [BROADCAST] Failed to publish to relay: %v", err)
	}
}

func (b *Broadcaster) fail(connID string, err error) {
	reason := models.DeliveryWriteFailed
	var de *models.DeliveryError
	if errors.As(err, &de) {
		reason = de.Reason
	}
	b.metrics.RecordDeliveryFailure(reason)
	log.Printf("⚠️ [BROADCAST] Delivery to %s failed: %v", connID, err)
	b.Unregister(connID)
}

// writeLoop is the only goroutine writing to conn's transport
func (b *Broadcaster) writeLoop(conn *models.ViewerConnection) {
	defer conn.WriterStopped()

	for {
		select {
		case <-conn.Done():
			return
		case frame := <-conn.Queue():
			if !conn.IsAlive() {
				return
			}
			if err := conn.Transport.SetWriteDeadline(time.Now().Add(b.writeTimeout)); err != nil {
				b.fail(conn.ConnID, &models.DeliveryError{ConnID: conn.ConnID, Reason: models.DeliveryWriteFailed, Err: err})
				return
			}
			if err := conn.Transport.WriteMessage(websocket.TextMessage, frame); err != nil {
				b.fail(conn.ConnID, &models.DeliveryError{ConnID: conn.ConnID, Reason: models.DeliveryWriteFailed, Err: err})
				return
			}
		}
	}
}

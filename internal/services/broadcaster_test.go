package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"smartshot/internal/models"
)

// fakeTransport records written frames and can be switched to fail
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	broken bool
	closed bool
	block  chan struct{}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken || f.closed {
		return errors.New("use of closed network connection")
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) breakNow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = true
}

func (f *fakeTransport) kinds() []models.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]models.EventKind, 0, len(f.frames))
	for _, frame := range f.frames {
		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err == nil {
			kinds = append(kinds, env.Type)
		}
	}
	return kinds
}

// staticStats serves a snapshot whose total grows with every call
type staticStats struct {
	calls atomic.Int64
	err   error
}

func (s *staticStats) ComputeSnapshot(context.Context) (*models.StatsSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.StatsSnapshot{TotalScreenshots: s.calls.Add(1)}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func registerFake(t *testing.T, b *Broadcaster, id string) (*models.ViewerConnection, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	conn := models.NewViewerConnection(id, transport, 16)
	if err := b.Register(context.Background(), conn); err != nil {
		t.Fatalf("Register %s failed: %v", id, err)
	}
	return conn, transport
}

func TestBroadcaster_RegisterSendsBaselineFirst(t *testing.T) {
	b := NewBroadcaster(&staticStats{}, time.Second)
	conn, transport := registerFake(t, b, "viewer-1")

	if conn.State() != models.ConnOpen {
		t.Errorf("Expected Open after register, got %s", conn.State())
	}

	activity := models.Activity{ID: "a1", Type: "screenshot_processed", Details: "x.png"}
	if err := b.Broadcast(context.Background(), models.ActivityUpdate{Activity: activity}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	waitFor(t, "two frames", func() bool { return len(transport.kinds()) == 2 })
	kinds := transport.kinds()
	if kinds[0] != models.EventStatsUpdate || kinds[1] != models.EventActivityUpdate {
		t.Errorf("Expected [stats_update, activity_update], got %v", kinds)
	}
}

func TestBroadcaster_RegisterFailsWithoutSnapshot(t *testing.T) {
	b := NewBroadcaster(&staticStats{err: errors.New("database is locked")}, time.Second)
	conn := models.NewViewerConnection("viewer-1", &fakeTransport{}, 4)

	if err := b.Register(context.Background(), conn); err == nil {
		t.Fatal("Expected register to fail when the baseline cannot be computed")
	}
	if b.Count() != 0 {
		t.Errorf("Expected no registered viewers, got %d", b.Count())
	}
}

func TestBroadcaster_ClosedConnectionIsolated(t *testing.T) {
	b := NewBroadcaster(&staticStats{}, time.Second)

	var removed sync.Map
	var removals atomic.Int32
	b.OnRemove(func(connID string) {
		removals.Add(1)
		removed.Store(connID, true)
	})

	_, t1 := registerFake(t, b, "viewer-1")
	_, t2 := registerFake(t, b, "viewer-2")
	_, t3 := registerFake(t, b, "viewer-3")
	for _, tr := range []*fakeTransport{t1, t2, t3} {
		tr := tr
		waitFor(t, "baseline", func() bool { return len(tr.kinds()) == 1 })
	}

	t2.breakNow()

	for i := 0; i < 3; i++ {
		err := b.Broadcast(context.Background(), models.ActivityUpdate{Activity: models.Activity{ID: "evt"}})
		if err != nil {
			t.Fatalf("Broadcast failed: %v", err)
		}
	}

	waitFor(t, "healthy viewers to receive", func() bool {
		return len(t1.kinds()) == 4 && len(t3.kinds()) == 4
	})
	waitFor(t, "broken viewer removal", func() bool { return b.Count() == 2 })

	if got := removals.Load(); got != 1 {
		t.Errorf("Expected exactly one unregister, got %d", got)
	}
	if _, ok := removed.Load("viewer-2"); !ok {
		t.Error("Expected viewer-2 to be the removed connection")
	}
}

func TestBroadcaster_UnregisterIdempotent(t *testing.T) {
	b := NewBroadcaster(&staticStats{}, time.Second)
	var removals atomic.Int32
	b.OnRemove(func(string) { removals.Add(1) })

	conn, _ := registerFake(t, b, "viewer-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Unregister("viewer-1")
		}()
	}
	wg.Wait()
	conn.WaitWriter()

	if removals.Load() != 1 {
		t.Errorf("Expected one removal, got %d", removals.Load())
	}
	if conn.State() != models.ConnClosed {
		t.Errorf("Expected Closed, got %s", conn.State())
	}
	if b.Unregister("viewer-1") {
		t.Error("Expected repeated unregister to report false")
	}
}

func TestBroadcaster_NewScreenshotFollowedByStats(t *testing.T) {
	stats := &staticStats{}
	b := NewBroadcaster(stats, time.Second)
	_, transport := registerFake(t, b, "viewer-1")

	activity := models.Activity{ID: "a1", Type: "screenshot_processed", Details: "shot.png"}
	if err := b.NotifyNewScreenshot(context.Background(), activity); err != nil {
		t.Fatalf("NotifyNewScreenshot failed: %v", err)
	}

	waitFor(t, "three frames", func() bool { return len(transport.kinds()) == 3 })
	kinds := transport.kinds()
	want := []models.EventKind{models.EventStatsUpdate, models.EventNewScreenshot, models.EventStatsUpdate}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, kinds)
		}
	}
}

func TestBroadcaster_StalledViewerDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(&staticStats{}, time.Second)

	stalled := &fakeTransport{block: make(chan struct{})}
	defer close(stalled.block)
	stalledConn := models.NewViewerConnection("stalled", stalled, 2)
	if err := b.Register(context.Background(), stalledConn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_, healthy := registerFake(t, b, "healthy")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = b.Broadcast(context.Background(), models.ActivityUpdate{Activity: models.Activity{ID: "evt"}})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a stalled viewer")
	}

	waitFor(t, "healthy viewer to receive all", func() bool { return len(healthy.kinds()) == 11 })
	waitFor(t, "stalled viewer removal", func() bool { return b.Count() == 1 })
}

func TestBroadcaster_DeliverRemote(t *testing.T) {
	b := NewBroadcaster(&staticStats{}, time.Second)
	pub := &recordingPublisher{}
	b.SetPublisher(pub)
	_, transport := registerFake(t, b, "viewer-1")

	frame, err := models.EncodeEvent(models.ActivityUpdate{Activity: models.Activity{ID: "remote"}})
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if err := b.DeliverRemote(frame); err != nil {
		t.Fatalf("DeliverRemote failed: %v", err)
	}

	waitFor(t, "remote frame", func() bool { return len(transport.kinds()) == 2 })
	if pub.count() != 0 {
		t.Errorf("Remote frames must not be republished, got %d publishes", pub.count())
	}

	if err := b.DeliverRemote([]byte(`{"type":"bogus","payload":{}}`)); !errors.Is(err, models.ErrUnknownEvent) {
		t.Errorf("Expected ErrUnknownEvent, got %v", err)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	frames [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// gatedStats blocks the gate-th snapshot until release is closed
type gatedStats struct {
	calls   atomic.Int64
	gate    int64
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStats) ComputeSnapshot(context.Context) (*models.StatsSnapshot, error) {
	n := s.calls.Add(1)
	if n == s.gate {
		close(s.entered)
		<-s.release
	}
	return &models.StatsSnapshot{TotalScreenshots: n}, nil
}

func TestBroadcaster_BaselineQueryDoesNotBlockBroadcasts(t *testing.T) {
	stats := &gatedStats{gate: 2, entered: make(chan struct{}), release: make(chan struct{})}
	b := NewBroadcaster(stats, time.Second)
	_, first := registerFake(t, b, "viewer-1")

	second := &fakeTransport{}
	registered := make(chan error, 1)
	go func() {
		registered <- b.Register(context.Background(), models.NewViewerConnection("viewer-2", second, 16))
	}()
	<-stats.entered

	done := make(chan struct{})
	go func() {
		b.Broadcast(context.Background(), models.ActivityUpdate{Activity: models.Activity{ID: "a1", Details: "x.png"}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast waited on a pending baseline query")
	}
	waitFor(t, "activity on viewer-1", func() bool { return len(first.kinds()) == 2 })

	close(stats.release)
	if err := <-registered; err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	waitFor(t, "baseline on viewer-2", func() bool { return len(second.kinds()) == 1 })
	second.mu.Lock()
	ev, err := models.DecodeEvent(second.frames[0])
	second.mu.Unlock()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	update, ok := ev.(models.StatsUpdate)
	if !ok {
		t.Fatalf("Expected stats_update baseline, got %T", ev)
	}
	// the snapshot taken before the broadcast is replaced by a fresh one
	if update.Snapshot.TotalScreenshots != 3 {
		t.Errorf("Expected recomputed baseline (3), got %d", update.Snapshot.TotalScreenshots)
	}
	if stats.calls.Load() != 3 {
		t.Errorf("Expected 3 snapshot computations, got %d", stats.calls.Load())
	}
}

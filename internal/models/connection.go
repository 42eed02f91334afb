package models

import (
	"sync"
	"time"
)

// ConnState is the lifecycle state of a viewer channel
type ConnState int32

const (
	ConnConnecting ConnState = iota
	ConnOpen
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the write side of a viewer channel. Both the fiber websocket
// connection and gorilla's client connection satisfy it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ViewerConnection is one live channel to a connected viewer. Frames are
// queued without blocking and written by a single writer goroutine, which
// keeps per-connection ordering.
type ViewerConnection struct {
	ConnID      string
	ClientIP    string
	ConnectedAt time.Time
	Transport   Transport

	queue  chan []byte
	done   chan struct{}
	mutex  sync.Mutex
	state  ConnState
	writer sync.WaitGroup
}

// NewViewerConnection creates a connection in the Connecting state
func NewViewerConnection(connID string, transport Transport, queueSize int) *ViewerConnection {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &ViewerConnection{
		ConnID:      connID,
		ConnectedAt: time.Now(),
		Transport:   transport,
		queue:       make(chan []byte, queueSize),
		done:        make(chan struct{}),
		state:       ConnConnecting,
	}
}

// State returns the current lifecycle state
func (vc *ViewerConnection) State() ConnState {
	vc.mutex.Lock()
	defer vc.mutex.Unlock()
	return vc.state
}

// IsAlive reports whether the connection has not been closed
func (vc *ViewerConnection) IsAlive() bool {
	return vc.State() != ConnClosed
}

// MarkOpen moves Connecting -> Open. It returns false if the connection was
// already closed.
func (vc *ViewerConnection) MarkOpen() bool {
	vc.mutex.Lock()
	defer vc.mutex.Unlock()
	if vc.state == ConnClosed {
		return false
	}
	vc.state = ConnOpen
	return true
}

// Enqueue queues a frame for the writer goroutine without blocking
func (vc *ViewerConnection) Enqueue(frame []byte) error {
	vc.mutex.Lock()
	defer vc.mutex.Unlock()

	if vc.state == ConnClosed {
		return &DeliveryError{ConnID: vc.ConnID, Reason: DeliveryClosed}
	}

	select {
	case vc.queue <- frame:
		return nil
	default:
		return &DeliveryError{ConnID: vc.ConnID, Reason: DeliveryQueueFull}
	}
}

// Queue is drained by the writer goroutine
func (vc *ViewerConnection) Queue() <-chan []byte {
	return vc.queue
}

// Done is closed once the connection reaches Closed
func (vc *ViewerConnection) Done() <-chan struct{} {
	return vc.done
}

// WriterStarted and WriterStopped bracket the writer goroutine
func (vc *ViewerConnection) WriterStarted() { vc.writer.Add(1) }
func (vc *ViewerConnection) WriterStopped() { vc.writer.Done() }

// WaitWriter blocks until the writer goroutine has returned. The transport
// must not be released before this.
func (vc *ViewerConnection) WaitWriter() { vc.writer.Wait() }

// Close moves the connection to Closed and closes the transport. Only the
// first call has an effect; it reports whether this call performed the close.
func (vc *ViewerConnection) Close() bool {
	vc.mutex.Lock()
	if vc.state == ConnClosed {
		vc.mutex.Unlock()
		return false
	}
	vc.state = ConnClosed
	close(vc.done)
	vc.mutex.Unlock()

	if vc.Transport != nil {
		_ = vc.Transport.Close()
	}
	return true
}

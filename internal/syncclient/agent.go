package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"smartshot/internal/models"
)

// MaxActivity is how many activity notices the local state keeps
const MaxActivity = 10

const (
	readTimeout  = 90 * time.Second
	controlWrite = 10 * time.Second
)

// ErrRetriesExhausted is returned by Run once MaxAttempts consecutive
// connection attempts have failed to reach a baseline
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// State is the connection state of the agent
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Options configures an Agent
type Options struct {
	URL          string
	InitialDelay time.Duration // first reconnect delay, doubled per failure
	MaxDelay     time.Duration // backoff ceiling
	MaxAttempts  int           // consecutive attempts without a baseline before giving up; 0 retries forever
	Dialer       *websocket.Dialer
	Verbose      bool
}

// Agent mirrors server state for one viewer. It keeps a single channel
// open, applies every event to its LocalState and reconnects with
// exponential backoff when the channel drops.
type Agent struct {
	opts  Options
	state atomic.Int32
	local *LocalState

	mutex   sync.RWMutex
	onState func(State)
	onEvent func(models.Event)
}

// NewAgent creates a disconnected agent
func NewAgent(opts Options) *Agent {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 1 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 60 * time.Second
	}
	if opts.MaxDelay < opts.InitialDelay {
		opts.MaxDelay = opts.InitialDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Agent{
		opts:  opts,
		local: NewLocalState(),
	}
}

// SetStateHandler sets the callback for connection state transitions
func (a *Agent) SetStateHandler(handler func(State)) {
	a.mutex.Lock()
	a.onState = handler
	a.mutex.Unlock()
}

// SetEventHandler sets the callback invoked after each event is applied
func (a *Agent) SetEventHandler(handler func(models.Event)) {
	a.mutex.Lock()
	a.onEvent = handler
	a.mutex.Unlock()
}

// State returns the current connection state
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Local returns the mirrored viewer state
func (a *Agent) Local() *LocalState {
	return a.local
}

// Run connects and keeps reconnecting until ctx is cancelled or the
// attempt budget runs out. It returns ctx.Err() on cancellation.
func (a *Agent) Run(ctx context.Context) error {
	delay := a.opts.InitialDelay
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			a.setState(StateDisconnected)
			return err
		}

		a.setState(StateConnecting)
		conn, err := a.dial(ctx)
		if err == nil {
			a.local.beginSession()
			a.setState(StateConnected)
			log.Printf("✅ [SYNC] Connected to %s", a.opts.URL)

			err = a.readLoop(ctx, conn)
			a.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}

			// only a session that got its baseline proves the server healthy
			if a.local.Synced() {
				attempt = 0
				delay = a.opts.InitialDelay
				log.Printf("⚠️  [SYNC] Connection lost: %v", err)
			} else {
				attempt++
				log.Printf("❌ [SYNC] Channel closed before baseline (attempt %d): %v", attempt, err)
			}
		} else {
			a.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			log.Printf("❌ [SYNC] Connection failed (attempt %d): %v", attempt, err)
		}

		if a.opts.MaxAttempts > 0 && attempt >= a.opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, err)
		}

		if a.opts.Verbose {
			log.Printf("🔄 [SYNC] Retrying in %v...", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.setState(StateDisconnected)
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(math.Min(
			float64(delay*2),
			float64(a.opts.MaxDelay),
		))
	}
}

func (a *Agent) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := a.opts.Dialer.DialContext(ctx, a.opts.URL, nil)
	if err != nil {
		return nil, &models.TransportError{Op: "dial", Err: err}
	}
	return conn, nil
}

// readLoop applies inbound frames until the channel fails. The returned
// error is always a TransportError.
func (a *Agent) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWrite))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return &models.TransportError{Op: "read", Err: err}
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		a.handleFrame(data)
	}
}

func (a *Agent) handleFrame(data []byte) {
	ev, err := models.DecodeEvent(data)
	if err != nil {
		// unknown kinds and malformed frames are skipped, the channel stays up
		log.Printf("⚠️  [SYNC] Ignoring frame: %v", err)
		return
	}

	a.local.Apply(ev)

	a.mutex.RLock()
	handler := a.onEvent
	a.mutex.RUnlock()
	if handler != nil {
		handler(ev)
	}
}

func (a *Agent) setState(s State) {
	if State(a.state.Swap(int32(s))) == s {
		return
	}

	a.mutex.RLock()
	handler := a.onState
	a.mutex.RUnlock()
	if handler != nil {
		handler(s)
	}
}

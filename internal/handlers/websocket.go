package handlers

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"smartshot/internal/logging"
	"smartshot/internal/models"
	"smartshot/internal/services"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 90 * time.Second
)

// ViewerHandler runs the lifecycle of one viewer channel:
// Connecting -> Open (registered, baseline queued) -> Closed (unregistered).
type ViewerHandler struct {
	broadcaster *services.Broadcaster
	queueSize   int
}

// NewViewerHandler creates a new viewer handler
func NewViewerHandler(broadcaster *services.Broadcaster, queueSize int) *ViewerHandler {
	return &ViewerHandler{broadcaster: broadcaster, queueSize: queueSize}
}

// UpgradeCheck rejects non-WebSocket requests to the viewer endpoint
func UpgradeCheck(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("client_ip", c.IP())
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle handles a new viewer connection
func (h *ViewerHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	clientIP, _ := c.Locals("client_ip").(string)
	logger := logging.WithConnection(connID, clientIP)

	conn := models.NewViewerConnection(connID, c, h.queueSize)
	conn.ClientIP = clientIP

	if err := h.broadcaster.Register(context.Background(), conn); err != nil {
		logger.Warn("viewer rejected, baseline unavailable", "error", err)
		conn.Close()
		return
	}

	done := make(chan struct{})
	defer func() {
		close(done)
		h.broadcaster.Unregister(connID)
		// the fiber connection is released when Handle returns
		conn.WaitWriter()
		logger.Debug("viewer handler finished")
	}()

	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(c, conn, done)

	h.readLoop(c, conn)
}

// pingLoop keeps idle viewers alive. WriteControl may run concurrently with
// the broadcaster's writer.
func (h *ViewerHandler) pingLoop(c *websocket.Conn, conn *models.ViewerConnection, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-conn.Done():
			return
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				logging.WithConnection(conn.ConnID, conn.ClientIP).Warn("ping failed", "error", err)
				h.broadcaster.Unregister(conn.ConnID)
				return
			}
		}
	}
}

// readLoop drains inbound frames until the transport closes. Viewers only
// receive events; anything they send is ignored.
func (h *ViewerHandler) readLoop(c *websocket.Conn, conn *models.ViewerConnection) {
	logger := logging.WithConnection(conn.ConnID, conn.ClientIP)

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Info("viewer read error", "error", err)
			}
			return
		}

		c.SetReadDeadline(time.Now().Add(readTimeout))
		logger.Debug("ignoring inbound viewer message", "bytes", len(msg))
	}
}

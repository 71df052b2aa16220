// Package ws bridges external viewer connections to terminal sessions.
//
// One WebSocket connection is one gateway: binary frames carry raw
// terminal bytes in both directions, text frames carry JSON control
// messages (resize, signal, state changes). A gateway attaches on
// connect and detaches on disconnect; the session lives on headless
// when the last viewer leaves.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shellgate/shellgate/internal/events"
	"github.com/shellgate/shellgate/internal/infrastructure/logging"
	"github.com/shellgate/shellgate/internal/infrastructure/monitoring"
	"github.com/shellgate/shellgate/internal/shared/id"
	"github.com/shellgate/shellgate/internal/terminal"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced upstream
	},
}

// Handler serves the terminal gateway and event firehose sockets.
type Handler struct {
	registry *terminal.Registry
	bus      *events.Bus
	metrics  *monitoring.Metrics
	log      *logging.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *terminal.Registry, bus *events.Bus, metrics *monitoring.Metrics, log *logging.Logger) *Handler {
	return &Handler{
		registry: registry,
		bus:      bus,
		metrics:  metrics,
		log:      log,
	}
}

// HandleTerminal upgrades the connection and attaches it to a session.
func (h *Handler) HandleTerminal(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	h.metrics.WSConnections.Inc()
	defer h.metrics.WSConnections.Dec()

	sub, err := h.registry.Attach(sid)
	if err != nil {
		// NotFound and attach-after-termination both surface as a
		// control error before close.
		_ = writeControl(conn, errorMessage(err.Error()))
		return
	}
	defer sub.Close()

	// Gateways are anonymous; the id only correlates attach/detach logs.
	gatewayID := uuid.NewString()

	sess := sub.Session()
	h.log.Info("gateway attached",
		zap.String("session_id", sid.String()),
		zap.String("gateway_id", gatewayID),
		zap.Int("clients", sess.ClientCount()),
	)
	defer func() {
		h.log.Info("gateway detached",
			zap.String("session_id", sid.String()),
			zap.String("gateway_id", gatewayID),
			zap.Int("clients", sess.ClientCount()),
		)
	}()

	if err := writeControl(conn, connectedMessage(sid.String())); err != nil {
		return
	}

	// notices carries control replies produced by the read loop; the
	// write loop is the only goroutine that touches the connection for
	// writing.
	notices := make(chan ServerMessage, 8)
	readerDone := make(chan struct{})
	go h.readLoop(conn, sess, notices, readerDone)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readerDone:
			return

		case msg := <-notices:
			if err := writeControl(conn, msg); err != nil {
				return
			}

		case out := <-sub.C:
			if done := h.forward(conn, out); done {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forward relays one session output event; it reports true once the
// connection should close.
func (h *Handler) forward(conn *websocket.Conn, out terminal.Output) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck

	switch out.Kind {
	case terminal.OutputData:
		if err := conn.WriteMessage(websocket.BinaryMessage, out.Data); err != nil {
			return true
		}

	case terminal.OutputState:
		if err := writeControl(conn, stateMessage(out.State, out.ExitCode)); err != nil {
			return true
		}
		// The termination notice is the last event a viewer gets.
		if out.State == terminal.StatusTerminated {
			return true
		}

	case terminal.OutputResize:
		if err := writeControl(conn, resizedMessage(out.Size)); err != nil {
			return true
		}
	}
	return false
}

// readLoop forwards viewer frames into the session until the connection
// drops.
func (h *Handler) readLoop(conn *websocket.Conn, sess *terminal.Session, notices chan<- ServerMessage, done chan<- struct{}) {
	defer close(done)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := sess.SendInput(data); err != nil {
				h.notify(notices, errorMessage("session is closed"))
				return
			}

		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				h.notify(notices, errorMessage("invalid control message"))
				continue
			}
			switch msg.Type {
			case clientResize:
				if err := sess.Resize(terminal.Size{Cols: msg.Cols, Rows: msg.Rows}); err != nil {
					h.log.Debug("resize rejected", zap.Error(err))
				}
			case clientSignal:
				if err := sess.Signal(msg.Signal); err != nil {
					h.log.Debug("signal rejected", zap.Error(err))
				}
			default:
				h.notify(notices, errorMessage("unknown control message type"))
			}
		}
	}
}

func (h *Handler) notify(notices chan<- ServerMessage, msg ServerMessage) {
	select {
	case notices <- msg:
	default:
	}
}

func writeControl(conn *websocket.Conn, msg ServerMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	return conn.WriteJSON(msg)
}

// HandleEvents upgrades the connection to a session event firehose.
// Consumers use it to refresh session lists without polling.
func (h *Handler) HandleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.WSConnections.Inc()
	defer h.metrics.WSConnections.Dec()

	eventCh, cancel := h.bus.Subscribe(64)
	defer cancel()

	// Reader exists only to observe the close.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readerDone:
			return

		case event, ok := <-eventCh:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

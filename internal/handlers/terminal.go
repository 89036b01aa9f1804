package handlers

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/parlor-sh/parlor/internal/logger"
	"github.com/parlor-sh/parlor/internal/services"
)

// TerminalHandler attaches WebSocket clients to live sessions: buffered
// output replays on connect, then the live stream follows. Binary frames
// from the client are raw keyboard input; text frames carry JSON control
// messages.
type TerminalHandler struct {
	registry *services.Registry
	events   *EventsHandler
}

func NewTerminalHandler(registry *services.Registry, events *EventsHandler) *TerminalHandler {
	return &TerminalHandler{registry: registry, events: events}
}

type controlMessage struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// HandleWebSocket upgrades and attaches to the session named by the query.
// GET /v1/terminal?session=<id>
func (h *TerminalHandler) HandleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	sessionID := c.Query("session")
	return websocket.New(func(conn *websocket.Conn) {
		h.handleConnection(conn, sessionID)
	})(c)
}

func (h *TerminalHandler) handleConnection(conn *websocket.Conn, sessionID string) {
	proc, ok := h.registry.Get(sessionID)
	if !ok {
		logger.Warnf("⚠️  Terminal attach to unknown session %s", sessionID)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unknown session"}`))
		_ = conn.Close()
		return
	}

	logger.Infof("📡 Terminal attached to session %s", sessionID)

	outputCh, cancel := h.events.SubscribeOutput(sessionID)
	defer cancel()

	// Concurrent writers (replay, live stream, close frames) share one
	// connection.
	var writeMu sync.Mutex
	writeBinary := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.BinaryMessage, data)
	}

	if buffered := proc.Buffer(); len(buffered) > 0 {
		if err := writeBinary(buffered); err != nil {
			_ = conn.Close()
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range outputCh {
			if err := writeBinary(chunk); err != nil {
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := h.registry.Write(sessionID, data); err != nil {
				logger.Debugf("Input to session %s failed: %v", sessionID, err)
			}
		case websocket.TextMessage:
			var ctrl controlMessage
			if err := json.Unmarshal(data, &ctrl); err != nil {
				continue
			}
			if ctrl.Type == "resize" && ctrl.Cols > 0 && ctrl.Rows > 0 {
				_ = h.registry.Resize(sessionID, ctrl.Cols, ctrl.Rows)
			}
		}
	}

	cancel()
	<-done
	_ = conn.Close()
	logger.Infof("📴 Terminal detached from session %s", sessionID)
}

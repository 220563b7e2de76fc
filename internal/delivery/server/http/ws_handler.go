package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rfpez/rfpez/internal/app/broadcast"
	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// EventsHandler upgrades to a websocket and forwards the session's UI
// events: live message updates, refresh signals, turn completion. Recent
// history is replayed on connect so a client that reconnects mid-turn
// catches up.
type EventsHandler struct {
	broadcaster *broadcast.Broadcaster
	upgrader    websocket.Upgrader
	logger      logging.Logger
}

func NewEventsHandler(broadcaster *broadcast.Broadcaster) *EventsHandler {
	return &EventsHandler{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are filtered by the CORS layer in front.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.NewComponentLogger("EventsHandler"),
	}
}

func (h *EventsHandler) Stream(c *gin.Context) {
	sessionID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed for session %s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	events := make(chan chat.UIEvent, broadcast.ClientBuffer)
	h.broadcaster.Register(sessionID, events)
	defer h.broadcaster.Unregister(sessionID, events)

	for _, event := range h.broadcaster.History(sessionID) {
		if err := h.write(conn, event); err != nil {
			return
		}
	}

	// Reader pump: discard inbound frames, surface the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case event := <-events:
			if err := h.write(conn, event); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *EventsHandler) write(conn *websocket.Conn, event chat.UIEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(toWireEvent(event)); err != nil {
		h.logger.Debug("Websocket write failed: %v", err)
		return err
	}
	return nil
}

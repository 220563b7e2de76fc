package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rfpez/rfpez/internal/app/broadcast"
	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
)

// ChatService is the slice of the orchestrator the chat handler needs.
type ChatService interface {
	SendMessage(ctx context.Context, sessionID, userID, content string, listener chat.UIListener) error
	Cancel(sessionID string) bool
	Busy(sessionID string) bool
}

// ChatHandler runs conversational turns and streams UI events back over SSE.
type ChatHandler struct {
	chat        ChatService
	broadcaster *broadcast.Broadcaster
	logger      logging.Logger
}

func NewChatHandler(chat ChatService, broadcaster *broadcast.Broadcaster) *ChatHandler {
	return &ChatHandler{
		chat:        chat,
		broadcaster: broadcaster,
		logger:      logging.NewComponentLogger("ChatHandler"),
	}
}

// MessageRequest is the body of a chat send.
type MessageRequest struct {
	Content string `json:"content"`
	UserID  string `json:"user_id,omitempty"`
}

// SendMessage accepts a user message and streams the turn's UI events as
// server-sent events until the turn reaches a terminal state.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	sessionID := c.Param("id")

	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(c, http.StatusBadRequest, "message content is required")
		return
	}

	events := make(chan chat.UIEvent, broadcast.ClientBuffer)
	h.broadcaster.Register(sessionID, events)
	defer h.broadcaster.Unregister(sessionID, events)

	done := make(chan error, 1)
	go func() {
		done <- h.chat.SendMessage(c.Request.Context(), sessionID, req.UserID, req.Content, h.broadcaster)
	}()

	// Headers go out lazily: a rejection before the first event still gets
	// a plain JSON status.
	streaming := false
	ensureStream := func() {
		if streaming {
			return
		}
		streaming = true
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.WriteHeader(http.StatusOK)
	}

	for {
		select {
		case event := <-events:
			ensureStream()
			h.writeEvent(c, event)
		case err := <-done:
			if err != nil && !streaming {
				respondMapped(c, err)
				return
			}
			// The turn loop delivers events synchronously before
			// SendMessage returns, so everything left is already
			// buffered.
			for {
				select {
				case event := <-events:
					ensureStream()
					h.writeEvent(c, event)
				default:
					return
				}
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *ChatHandler) writeEvent(c *gin.Context, event chat.UIEvent) {
	payload, err := json.Marshal(toWireEvent(event))
	if err != nil {
		h.logger.Warn("Failed to encode %s event: %v", event.Kind, err)
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Kind, payload)
	c.Writer.Flush()
}

// Cancel aborts the session's in-flight turn, if any.
func (h *ChatHandler) Cancel(c *gin.Context) {
	sessionID := c.Param("id")
	if !h.chat.Cancel(sessionID) {
		respondError(c, http.StatusNotFound, "no response in progress for this session")
		return
	}
	respondOK(c, gin.H{"cancelled": true})
}

// Status reports whether a turn is currently running for the session.
func (h *ChatHandler) Status(c *gin.Context) {
	respondOK(c, gin.H{"busy": h.chat.Busy(c.Param("id"))})
}

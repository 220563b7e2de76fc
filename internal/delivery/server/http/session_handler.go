package http

import (
	"github.com/gin-gonic/gin"

	"github.com/rfpez/rfpez/internal/domain/chat"
)

// SessionHandler exposes session and transcript CRUD.
type SessionHandler struct {
	sessions chat.SessionStore
	messages chat.MessageStore
}

func NewSessionHandler(sessions chat.SessionStore, messages chat.MessageStore) *SessionHandler {
	return &SessionHandler{sessions: sessions, messages: messages}
}

func (h *SessionHandler) Create(c *gin.Context) {
	session, err := h.sessions.Create(c.Request.Context())
	if err != nil {
		respondMapped(c, err)
		return
	}
	respondCreated(c, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context())
	if err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, session)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": true})
}

// Messages returns the session transcript in persisted order.
func (h *SessionHandler) Messages(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.sessions.Get(c.Request.Context(), sessionID); err != nil {
		respondMapped(c, err)
		return
	}
	messages, err := h.messages.GetMessages(c.Request.Context(), sessionID)
	if err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, gin.H{"messages": messages, "count": len(messages)})
}

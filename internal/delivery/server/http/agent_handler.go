package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rfpez/rfpez/internal/domain/chat"
)

// AgentHandler exposes the agent directory and per-session active agent.
type AgentHandler struct {
	agents   chat.AgentDirectory
	sessions chat.SessionStore
}

func NewAgentHandler(agents chat.AgentDirectory, sessions chat.SessionStore) *AgentHandler {
	return &AgentHandler{agents: agents, sessions: sessions}
}

func (h *AgentHandler) List(c *gin.Context) {
	agents, err := h.agents.List(c.Request.Context())
	if err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, gin.H{"agents": agents, "count": len(agents)})
}

// Active returns the session's active agent, falling back to the default
// when no handoff or assignment has happened yet.
func (h *AgentHandler) Active(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	if _, err := h.sessions.Get(ctx, sessionID); err != nil {
		respondMapped(c, err)
		return
	}
	agent, err := h.agents.ActiveForSession(ctx, sessionID)
	if errors.Is(err, chat.ErrAgentNotFound) {
		agent, err = h.agents.Default(ctx)
	}
	if err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, agent)
}

// SetActiveRequest is the body of an active-agent assignment.
type SetActiveRequest struct {
	AgentID string `json:"agent_id"`
}

func (h *AgentHandler) SetActive(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.AgentID == "" {
		respondError(c, http.StatusBadRequest, "agent_id is required")
		return
	}

	session, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		respondMapped(c, err)
		return
	}
	agent, err := h.agents.Get(ctx, req.AgentID)
	if err != nil {
		respondMapped(c, err)
		return
	}
	if err := h.agents.SetActiveForSession(ctx, sessionID, agent.ID); err != nil {
		respondMapped(c, err)
		return
	}
	session.ActiveAgentID = agent.ID
	session.ActiveAgent = agent.Name
	if err := h.sessions.Save(ctx, session); err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, agent)
}

package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rfpez/rfpez/internal/app/orchestrator"
	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/procurement"
)

// APIResponse is the uniform JSON envelope for non-streaming endpoints.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, APIResponse{Success: false, Error: msg})
}

// respondMapped translates store and orchestrator errors to HTTP statuses.
func respondMapped(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrTurnInFlight):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrSessionNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, chat.ErrArtifactNotFound),
		errors.Is(err, chat.ErrAgentNotFound),
		errors.Is(err, procurement.ErrProposalNotFound),
		errors.Is(err, procurement.ErrBidNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, err.Error())
	}
}

package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/logging"
)

const (
	artifactFetchRetries = 3
	artifactFetchBackoff = 100 * time.Millisecond
)

// ArtifactHandler serves generated artifact content. Artifact rows are
// written server-side while the chat stream is still running, so a fetch
// racing that write retries before giving up.
type ArtifactHandler struct {
	artifacts chat.ArtifactStore
	logger    logging.Logger
}

func NewArtifactHandler(artifacts chat.ArtifactStore) *ArtifactHandler {
	return &ArtifactHandler{
		artifacts: artifacts,
		logger:    logging.NewComponentLogger("ArtifactHandler"),
	}
}

// ListBySession returns a session's artifacts, most recently updated first.
func (h *ArtifactHandler) ListBySession(c *gin.Context) {
	artifacts, err := h.artifacts.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondMapped(c, err)
		return
	}
	respondOK(c, gin.H{"artifacts": artifacts, "count": len(artifacts)})
}

// Get fetches one artifact, retrying a not-found result while a concurrent
// creation may still be settling.
func (h *ArtifactHandler) Get(c *gin.Context) {
	artifactID := c.Param("id")
	ctx := c.Request.Context()

	var lastErr error
	for attempt := 1; attempt <= artifactFetchRetries; attempt++ {
		artifact, err := h.artifacts.Get(ctx, artifactID)
		if err == nil {
			respondOK(c, artifact)
			return
		}
		lastErr = err
		if !errors.Is(err, chat.ErrArtifactNotFound) {
			break
		}
		if attempt < artifactFetchRetries {
			select {
			case <-ctx.Done():
				respondError(c, http.StatusRequestTimeout, "request cancelled")
				return
			case <-time.After(time.Duration(attempt) * artifactFetchBackoff):
			}
		}
	}
	h.logger.Warn("Artifact %s not loadable after %d attempts: %v", artifactID, artifactFetchRetries, lastErr)
	respondMapped(c, lastErr)
}

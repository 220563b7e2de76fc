package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfpez/rfpez/internal/agents"
	"github.com/rfpez/rfpez/internal/app/broadcast"
	"github.com/rfpez/rfpez/internal/artifacts"
	"github.com/rfpez/rfpez/internal/config"
	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/procurement"
	"github.com/rfpez/rfpez/internal/session/filestore"
)

// scriptedChat replays a fixed event sequence through the listener, the way
// the turn loop delivers events synchronously before SendMessage returns.
type scriptedChat struct {
	mu       sync.Mutex
	events   []chat.UIEvent
	err      error
	busy     bool
	sent     []string
	canceled []string
}

func (s *scriptedChat) SendMessage(ctx context.Context, sessionID, userID, content string, listener chat.UIListener) error {
	s.mu.Lock()
	s.sent = append(s.sent, content)
	events := make([]chat.UIEvent, len(s.events))
	copy(events, s.events)
	err := s.err
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, event := range events {
		event.SessionID = sessionID
		listener.OnUIEvent(event)
	}
	return nil
}

func (s *scriptedChat) Cancel(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, sessionID)
	return s.busy
}

func (s *scriptedChat) Busy(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

type testServer struct {
	server    *Server
	chat      *scriptedChat
	sessions  *filestore.Store
	artifacts *artifacts.MemoryStore
	proposals *procurement.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	sessions := filestore.New(t.TempDir())
	artifactStore := artifacts.NewMemoryStore()
	proposalStore := procurement.NewMemoryStore()
	sc := &scriptedChat{}

	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, Deps{
		Chat:        sc,
		Broadcaster: broadcast.New(),
		Sessions:    sessions,
		Messages:    sessions,
		Artifacts:   artifactStore,
		Agents:      agents.NewMemoryDirectory(),
		Proposals:   proposalStore,
		Bids:        proposalStore.Bids(),
	})
	return &testServer{
		server:    srv,
		chat:      sc,
		sessions:  sessions,
		artifacts: artifactStore,
		proposals: proposalStore,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
		Error   string         `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success, "expected success response, got error %q", resp.Error)
	return resp.Data
}

func (ts *testServer) newSession(t *testing.T) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	return decodeData(t, w)["id"].(string)
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.newSession(t)

	w := ts.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeData(t, w)["count"])

	w = ts.do(t, http.MethodGet, "/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessageStreamsEvents(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.newSession(t)

	ts.chat.events = []chat.UIEvent{
		{Kind: chat.UIMessageUpdated, TurnID: "turn-1", Message: &chat.StreamingMessage{
			ID: "msg-1", AgentID: "rfp-designer", Content: "Let me draft that RFP.",
		}},
		{Kind: chat.UITurnComplete, TurnID: "turn-1"},
	}

	w := ts.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/messages", MessageRequest{Content: "I need 40 office chairs"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "event: message_updated")
	assert.Contains(t, body, `"Let me draft that RFP."`)
	assert.Contains(t, body, "event: turn_complete")
	assert.Equal(t, []string{"I need 40 office chairs"}, ts.chat.sent)
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.newSession(t)

	w := ts.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/messages", MessageRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ts.chat.sent)
}

func TestSendMessageMapsErrorsBeforeStreaming(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.newSession(t)

	ts.chat.err = chat.ErrSessionNotFound
	w := ts.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/messages", MessageRequest{Content: "hello"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelWithoutActiveTurn(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.newSession(t)

	w := ts.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	ts.chat.busy = true
	w = ts.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeData(t, w)["cancelled"])
}

func TestAgentEndpoints(t *testing.T) {
	ts := newTestServer(t)
	sessionID := ts.newSession(t)

	w := ts.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Greater(t, decodeData(t, w)["count"], float64(1))

	// No handoff yet: active falls back to the default agent.
	w = ts.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/agent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rfp-designer", decodeData(t, w)["id"])

	w = ts.do(t, http.MethodPut, "/api/sessions/"+sessionID+"/agent", SetActiveRequest{AgentID: "pricing"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/agent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pricing", decodeData(t, w)["id"])

	w = ts.do(t, http.MethodPut, "/api/sessions/"+sessionID+"/agent", SetActiveRequest{AgentID: "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestArtifactFetchRetriesUntilAvailable(t *testing.T) {
	ts := newTestServer(t)

	artifact := &chat.Artifact{SessionID: "sess-1", Name: "Chair RFP", Type: chat.ArtifactDocument, Content: "# RFP"}
	require.NoError(t, ts.artifacts.Save(context.Background(), artifact))

	// Saved after a short delay: the fetch's second attempt finds it.
	late := &chat.Artifact{ID: "artifact-late", Name: "Form", Type: chat.ArtifactForm}
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = ts.artifacts.Save(context.Background(), late)
	}()

	w := ts.do(t, http.MethodGet, "/api/artifacts/"+artifact.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Chair RFP", decodeData(t, w)["name"])

	w = ts.do(t, http.MethodGet, "/api/artifacts/artifact-late", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/artifacts/artifact-never", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProposalCRUD(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/proposals", ProposalRequest{
		Title:     "Office chair procurement",
		SessionID: "sess-1",
		Budget:    "20000 USD",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	proposalID := decodeData(t, w)["id"].(string)
	require.True(t, strings.HasPrefix(proposalID, "proposal-"))

	w = ts.do(t, http.MethodGet, "/api/proposals?session_id=sess-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeData(t, w)["count"])

	w = ts.do(t, http.MethodPut, "/api/proposals/"+proposalID, ProposalRequest{Status: "published"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "published", decodeData(t, w)["status"])

	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/proposals/%s/bids", proposalID), BidRequest{
		Supplier: "Seatworks Ltd",
		Amount:   "18500 USD",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	bidID := decodeData(t, w)["id"].(string)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/proposals/%s/bids", proposalID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeData(t, w)["count"])

	w = ts.do(t, http.MethodPut, "/api/bids/"+bidID, BidRequest{Status: "accepted"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "accepted", decodeData(t, w)["status"])

	w = ts.do(t, http.MethodDelete, "/api/proposals/"+proposalID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/api/bids/"+bidID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateProposalValidation(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/proposals", ProposalRequest{Title: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateBidForMissingProposal(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/proposals/proposal-missing/bids", BidRequest{Supplier: "Acme"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeData(t, w)["status"])
}
